package ddp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/ddpx/internal/logx"
)

// EmitFunc delivers an encoded frame to the transport. env is the engine's
// environment at the time of the emit.
type EmitFunc func(env Env, frame string)

// Engine is the protocol state machine of one connection.
type Engine struct {
	registry      *Registry
	emit          EmitFunc
	subs          Subscriptions
	hook          DispatchHook
	observer      Observer
	onSession     func(session string, resumed bool)
	newSessionID  func() string
	methodTimeout time.Duration
	log           zerolog.Logger

	mu      sync.RWMutex
	env     Env
	session string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry makes the engine dispatch against a shared registry.
// RegisterMethod on the engine then writes into that registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.registry = r
		}
	}
}

// WithSubscriptions routes sub and unsub packets to s.
func WithSubscriptions(s Subscriptions) Option {
	return func(e *Engine) {
		if s != nil {
			e.subs = s
		}
	}
}

// WithDispatchHook installs a method dispatch observer.
func WithDispatchHook(h DispatchHook) Option {
	return func(e *Engine) { e.hook = h }
}

// WithObserver installs a packet and frame observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithSessionHook is called whenever a connect packet establishes a session.
func WithSessionHook(fn func(session string, resumed bool)) Option {
	return func(e *Engine) { e.onSession = fn }
}

// WithSessionIDs replaces the session id generator.
func WithSessionIDs(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newSessionID = fn
		}
	}
}

// WithMethodTimeout bounds every method call. Zero disables the bound.
func WithMethodTimeout(d time.Duration) Option {
	return func(e *Engine) { e.methodTimeout = d }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithEnv seeds the connection environment.
func WithEnv(env Env) Option {
	return func(e *Engine) {
		for _, v := range env {
			e.env = e.env.With(v.Name, v.Value)
		}
	}
}

// New creates an engine that hands frames to emit.
func New(emit EmitFunc, opts ...Option) *Engine {
	if emit == nil {
		emit = func(Env, string) {}
	}
	e := &Engine{
		registry:     NewRegistry(),
		emit:         emit,
		subs:         AutoReady{},
		observer:     nopObserver{},
		newSessionID: NewSessionID,
		log:          logx.Log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the engine dispatches against.
func (e *Engine) Registry() *Registry { return e.registry }

// RegisterMethod binds name to fn in the engine's registry.
func (e *Engine) RegisterMethod(name string, fn MethodFunc) error {
	return e.registry.Register(name, fn)
}

// SetEnv stores a connection variable visible to later method calls and
// emit callbacks.
func (e *Engine) SetEnv(name string, value any) {
	e.mu.Lock()
	e.env = e.env.With(name, value)
	e.mu.Unlock()
}

// Env returns a snapshot of the connection environment.
func (e *Engine) Env() Env {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.env
}

// Session returns the session id established by the last connect packet.
func (e *Engine) Session() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

func (e *Engine) setSession(id string, resumed bool) {
	e.mu.Lock()
	e.session = id
	e.mu.Unlock()
	if e.onSession != nil {
		e.onSession(id, resumed)
	}
}

// Process handles one inbound batch. Responses from every packet are flushed
// as a single frame. A batch that is not a JSON array yields an error
// wrapping ErrDecode and emits nothing; a malformed packet inside a valid
// batch is skipped.
func (e *Engine) Process(ctx context.Context, text string) error {
	packets, err := DecodeBatch(text)
	if err != nil {
		return err
	}
	var out []string
	for i, raw := range packets {
		p, err := ParsePacket(raw)
		if err != nil {
			e.log.Warn().Err(err).Int("index", i).Msg("skipping malformed packet")
			e.observer.PacketDropped(DropMalformed)
			continue
		}
		for _, r := range e.dispatch(ctx, &p) {
			b, err := marshalJSON(r)
			if err != nil {
				e.log.Error().Err(err).Str("msg", p.Msg).Msg("encode response")
				continue
			}
			out = append(out, string(b))
		}
	}
	if len(out) == 0 {
		return nil
	}
	return e.send(FrameReply, out)
}

func (e *Engine) dispatch(ctx context.Context, p *Packet) []any {
	for _, h := range handlerChain {
		if res, ok := h(ctx, e, p); ok {
			e.observer.PacketHandled(p.Msg)
			return res
		}
	}
	e.log.Debug().Str("msg", p.Msg).Msg("dropping unhandled packet")
	e.observer.PacketDropped(DropUnknown)
	return nil
}

func (e *Engine) send(kind string, msgs []string) error {
	frame, err := EncodeFrame(msgs)
	if err != nil {
		return err
	}
	e.observer.FrameSent(kind)
	e.emit(e.Env(), frame)
	return nil
}

// callMethod resolves and runs a method call, returning the encoded result.
func (e *Engine) callMethod(ctx context.Context, p *Packet) (json.RawMessage, error) {
	args, argErr := splitParams(p.Params)
	name, isString := stringField(p.Method)
	var fn MethodFunc
	found := false
	if isString {
		fn, found = e.registry.Lookup(name)
	} else {
		name = idString(p.Method)
	}
	info := DispatchInfo{
		Method:   name,
		MethodID: idString(p.ID),
		Session:  e.Session(),
		NumArgs:  len(args),
		Found:    found,
	}

	ctx, token := e.hookStart(ctx, info)
	start := time.Now()
	var stats DispatchStats
	var ret json.RawMessage
	var err error
	switch {
	case !found:
		err = methodNotFound()
	case argErr != nil:
		err = argErr
	default:
		call := &Call{
			Ctx:     ctx,
			Method:  name,
			ID:      info.MethodID,
			Session: info.Session,
			Args:    args,
			Env:     e.Env(),
			emitter: e.Emitter(),
		}
		ret, stats, err = e.invoke(ctx, fn, call)
	}
	stats.Duration = time.Since(start)
	e.hookEnd(ctx, token, info, stats, err)

	if err != nil {
		e.log.Debug().Err(err).Str("method", name).Str("method_id", info.MethodID).Msg("method failed")
	}
	return ret, err
}

type outcome struct {
	value    any
	err      error
	panicked bool
}

// invoke runs fn with panic recovery and the optional timeout.
func (e *Engine) invoke(ctx context.Context, fn MethodFunc, call *Call) (json.RawMessage, DispatchStats, error) {
	var stats DispatchStats
	done := make(chan outcome, 1)
	run := func() {
		defer func() {
			if rv := recover(); rv != nil {
				e.log.Error().Interface("panic", rv).Str("method", call.Method).Msg("method panicked")
				done <- outcome{err: fmt.Errorf("%v", rv), panicked: true}
			}
		}()
		v, err := fn(call)
		done <- outcome{value: v, err: err}
	}

	var o outcome
	if e.methodTimeout <= 0 {
		run()
		o = <-done
	} else {
		tctx, cancel := context.WithTimeout(ctx, e.methodTimeout)
		defer cancel()
		call.Ctx = tctx
		go run()
		select {
		case o = <-done:
		case <-tctx.Done():
			if errors.Is(tctx.Err(), context.DeadlineExceeded) {
				stats.TimedOut = true
				return nil, stats, methodTimedOut()
			}
			return nil, stats, tctx.Err()
		}
	}
	stats.Panicked = o.panicked
	if o.err != nil {
		return nil, stats, o.err
	}
	b, err := marshalJSON(o.value)
	if err != nil {
		return nil, stats, &Error{Code: CodeInternal, Reason: "Result not serializable", cause: err}
	}
	return b, stats, nil
}

func (e *Engine) hookStart(ctx context.Context, info DispatchInfo) (rctx context.Context, token HookToken) {
	if e.hook == nil {
		return ctx, nil
	}
	rctx = ctx
	defer func() {
		if rv := recover(); rv != nil {
			e.log.Error().Interface("panic", rv).Msg("dispatch hook start panicked")
			rctx, token = ctx, nil
		}
	}()
	hctx, tok := e.hook.OnDispatchStart(ctx, info)
	if hctx == nil {
		hctx = ctx
	}
	return hctx, tok
}

func (e *Engine) hookEnd(ctx context.Context, token HookToken, info DispatchInfo, stats DispatchStats, err error) {
	if e.hook == nil {
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			e.log.Error().Interface("panic", rv).Msg("dispatch hook end panicked")
		}
	}()
	e.hook.OnDispatchEnd(ctx, token, info, stats, err)
}
