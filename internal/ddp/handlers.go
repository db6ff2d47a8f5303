package ddp

import (
	"context"
	"encoding/json"
)

type pong struct {
	Msg string          `json:"msg"`
	ID  json.RawMessage `json:"id,omitempty"`
}

type connected struct {
	Msg     string          `json:"msg"`
	Session json.RawMessage `json:"session"`
}

type ready struct {
	Msg  string            `json:"msg"`
	Subs []json.RawMessage `json:"subs"`
}

type nosub struct {
	Msg   string          `json:"msg"`
	ID    json.RawMessage `json:"id"`
	Error *Error          `json:"error,omitempty"`
}

type result struct {
	Msg    string          `json:"msg"`
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error,omitempty"`
}

type updated struct {
	Msg     string            `json:"msg"`
	Methods []json.RawMessage `json:"methods"`
}

// handler inspects a packet and reports whether it claimed it along with the
// responses to send.
type handler func(ctx context.Context, e *Engine, p *Packet) ([]any, bool)

// handlerChain is tried in order; the first handler to claim a packet wins.
var handlerChain = []handler{
	handlePing,
	handleConnect,
	handleSub,
	handleUnsub,
	handleMethod,
}

func handlePing(_ context.Context, _ *Engine, p *Packet) ([]any, bool) {
	if p.Msg != "ping" {
		return nil, false
	}
	r := pong{Msg: "pong"}
	if !isEmptyRaw(p.ID) {
		r.ID = p.ID
	}
	return []any{r}, true
}

func handleConnect(_ context.Context, e *Engine, p *Packet) ([]any, bool) {
	if p.Msg != "connect" {
		return nil, false
	}
	raw := p.Session
	resumed := !isEmptyRaw(raw)
	var id string
	if resumed {
		id = idString(raw)
	} else {
		id = e.newSessionID()
		raw, _ = marshalJSON(id)
	}
	e.setSession(id, resumed)
	return []any{connected{Msg: "connected", Session: raw}}, true
}

func handleSub(ctx context.Context, e *Engine, p *Packet) ([]any, bool) {
	if p.Msg != "sub" {
		return nil, false
	}
	name, _ := stringField(p.Name)
	sub := Subscription{
		ID:      idString(p.ID),
		Name:    name,
		Params:  p.Params,
		Session: e.Session(),
	}
	if err := e.subs.Subscribe(ctx, sub); err != nil {
		e.log.Debug().Err(err).Str("sub", sub.Name).Str("sub_id", sub.ID).Msg("subscription refused")
		return []any{nosub{Msg: "nosub", ID: p.ID, Error: errorFor(err)}}, true
	}
	return []any{ready{Msg: "ready", Subs: []json.RawMessage{p.ID}}}, true
}

func handleUnsub(ctx context.Context, e *Engine, p *Packet) ([]any, bool) {
	if p.Msg != "unsub" {
		return nil, false
	}
	id := idString(p.ID)
	if err := e.subs.Unsubscribe(ctx, id); err != nil {
		e.log.Warn().Err(err).Str("sub_id", id).Msg("unsubscribe failed")
	}
	return nil, true
}

func handleMethod(ctx context.Context, e *Engine, p *Packet) ([]any, bool) {
	if p.Msg != "method" {
		return nil, false
	}
	res := result{Msg: "result", ID: p.ID}
	ret, err := e.callMethod(ctx, p)
	if err != nil {
		res.Error = errorFor(err)
	} else {
		res.Result = ret
	}
	return []any{res, updated{Msg: "updated", Methods: []json.RawMessage{p.ID}}}, true
}
