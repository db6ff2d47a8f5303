package ddp

import (
	"context"
	"time"
)

// DispatchInfo describes a method call for observers.
type DispatchInfo struct {
	Method   string
	MethodID string
	Session  string
	NumArgs  int
	Found    bool
}

// HookToken is opaque per-call state returned by OnDispatchStart and passed
// back to OnDispatchEnd.
type HookToken any

// DispatchStats is reported when a method call completes.
type DispatchStats struct {
	Duration time.Duration
	Panicked bool
	TimedOut bool
}

// DispatchHook observes method dispatch. The engine recovers panics raised by
// hooks; a failing hook never affects the call or its response.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats DispatchStats, err error)
}

type multiHook []DispatchHook

// Hooks combines several hooks into one. Start runs in order, end in reverse.
func Hooks(hooks ...DispatchHook) DispatchHook {
	var out multiHook
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

func (m multiHook) OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken) {
	tokens := make([]HookToken, len(m))
	for i, h := range m {
		ctx, tokens[i] = h.OnDispatchStart(ctx, info)
	}
	return ctx, tokens
}

func (m multiHook) OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats DispatchStats, err error) {
	tokens, _ := token.([]HookToken)
	for i := len(m) - 1; i >= 0; i-- {
		var tok HookToken
		if i < len(tokens) {
			tok = tokens[i]
		}
		m[i].OnDispatchEnd(ctx, tok, info, stats, err)
	}
}

// Observer receives packet and frame level events.
type Observer interface {
	PacketHandled(msg string)
	PacketDropped(reason string)
	FrameSent(kind string)
}

// Drop reasons and frame kinds reported to an Observer.
const (
	DropMalformed = "malformed"
	DropUnknown   = "unknown"

	FrameReply = "reply"
	FrameEvent = "event"
)

type nopObserver struct{}

func (nopObserver) PacketHandled(string) {}
func (nopObserver) PacketDropped(string) {}
func (nopObserver) FrameSent(string)     {}
