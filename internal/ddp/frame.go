package ddp

import (
	"bytes"
	"encoding/json"
)

// Frame tags understood by the client transport.
const (
	FrameOpen      = "o"
	FrameHeartbeat = "h"
	frameArray     = "a"
	frameClose     = "c"
)

// Close codes sent in "c" frames.
const (
	CloseGoAway        = 3000
	CloseBrokenFraming = 2010
)

// EncodeFrame wraps encoded messages into an "a" frame.
func EncodeFrame(msgs []string) (string, error) {
	if msgs == nil {
		msgs = []string{}
	}
	b, err := marshalJSON(msgs)
	if err != nil {
		return "", err
	}
	return frameArray + string(b), nil
}

// CloseFrame builds a "c" frame carrying a close code and reason.
func CloseFrame(code int, reason string) string {
	b, err := marshalJSON([]any{code, reason})
	if err != nil {
		return frameClose + `[3000,"Go away!"]`
	}
	return frameClose + string(b)
}

// marshalJSON encodes v without HTML escaping and without the trailing
// newline json.Encoder appends.
func marshalJSON(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
