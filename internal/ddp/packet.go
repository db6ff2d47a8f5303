package ddp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Packet is one decoded client message. Only msg must have a fixed type;
// the other fields are kept as raw JSON and coerced by the handler that
// reads them, so a stray field never makes a packet unreadable. Keys are
// matched exactly.
type Packet struct {
	Msg     string
	ID      json.RawMessage
	Session json.RawMessage
	Name    json.RawMessage
	Method  json.RawMessage
	Params  json.RawMessage
}

// ErrPacketMsg reports a packet whose msg field is not a string.
var ErrPacketMsg = errors.New("ddp: msg must be a string")

// DecodeBatch splits an inbound batch into its packet texts. The batch must be
// a JSON array. Elements are normally JSON strings holding an encoded packet;
// a bare object element is accepted as the packet itself.
func DecodeBatch(text string) ([]json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(text), &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if elems == nil && !bytes.Equal(bytes.TrimSpace([]byte(text)), []byte("[]")) {
		return nil, fmt.Errorf("%w: batch is null", ErrDecode)
	}
	out := make([]json.RawMessage, 0, len(elems))
	for _, el := range elems {
		el = bytes.TrimSpace(el)
		if len(el) > 0 && el[0] == '"' {
			var s string
			if err := json.Unmarshal(el, &s); err == nil {
				out = append(out, json.RawMessage(s))
				continue
			}
		}
		out = append(out, el)
	}
	return out, nil
}

// ParsePacket decodes a single packet text. The packet must be a JSON
// object; a missing msg yields an empty Msg, which no handler claims.
func ParsePacket(raw json.RawMessage) (Packet, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Packet{}, err
	}
	if fields == nil {
		return Packet{}, fmt.Errorf("ddp: packet is null")
	}
	p := Packet{
		ID:      fields["id"],
		Session: fields["session"],
		Name:    fields["name"],
		Method:  fields["method"],
		Params:  fields["params"],
	}
	if m, ok := fields["msg"]; ok && !isNull(m) {
		if err := json.Unmarshal(m, &p.Msg); err != nil {
			return Packet{}, ErrPacketMsg
		}
	}
	return p, nil
}

// stringField returns a raw value as a string when it is a JSON string.
func stringField(raw json.RawMessage) (string, bool) {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 || v[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// isEmptyRaw reports whether a raw value is absent, null or an empty string.
func isEmptyRaw(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	return len(v) == 0 || bytes.Equal(v, []byte("null")) || bytes.Equal(v, []byte(`""`))
}

// idString renders a raw id as a plain string: JSON strings are unquoted,
// other values keep their JSON text.
func idString(raw json.RawMessage) string {
	if isEmptyRaw(raw) {
		return ""
	}
	v := bytes.TrimSpace(raw)
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	return string(v)
}

// splitParams decodes method params into positional arguments.
func splitParams(raw json.RawMessage) ([]json.RawMessage, error) {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(v, &args); err != nil {
		return nil, invalidParams()
	}
	if len(args) > MaxArgs {
		return args, unsupportedArity(len(args))
	}
	return args, nil
}
