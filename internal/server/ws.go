package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gaspardpetit/ddpx/internal/ddp"
	"github.com/gaspardpetit/ddpx/internal/logx"
	"github.com/gaspardpetit/ddpx/internal/metrics"
	"github.com/gaspardpetit/ddpx/internal/sessions"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// outFrame is a queued frame. A non-zero close code closes the websocket
// once the frame is written.
type outFrame struct {
	text   string
	close  websocket.StatusCode
	reason string
}

// conn serializes frames of one websocket onto a single writer goroutine.
type conn struct {
	id         string
	ws         *websocket.Conn
	log        zerolog.Logger
	send       chan outFrame
	done       chan struct{}
	writerDone chan struct{}
}

// enqueue hands a frame to the writer. It reports false once the connection
// is closing.
func (c *conn) enqueue(frame string) bool {
	return c.enqueueFrame(outFrame{text: frame})
}

// closeWith queues a "c" frame followed by a websocket close.
func (c *conn) closeWith(code int, reason string, status websocket.StatusCode, wsReason string) bool {
	return c.enqueueFrame(outFrame{text: ddp.CloseFrame(code, reason), close: status, reason: wsReason})
}

// goAway tells the client the server is going away.
func (c *conn) goAway() bool {
	return c.closeWith(ddp.CloseGoAway, "Go away!", websocket.StatusGoingAway, "server shutting down")
}

func (c *conn) enqueueFrame(f outFrame) bool {
	select {
	case <-c.done:
		return false
	case <-c.writerDone:
		return false
	default:
	}
	select {
	case c.send <- f:
		return true
	case <-c.done:
		return false
	case <-c.writerDone:
		return false
	}
}

func (c *conn) write(ctx context.Context, frame string) error {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(wctx, websocket.MessageText, []byte(frame))
}

// writeFrame writes f and reports whether the writer should keep going.
func (c *conn) writeFrame(ctx context.Context, f outFrame) bool {
	if err := c.write(ctx, f.text); err != nil {
		c.log.Debug().Err(err).Msg("write frame")
		return false
	}
	if f.close != 0 {
		if err := c.ws.Close(f.close, f.reason); err != nil {
			c.log.Debug().Err(err).Msg("close websocket")
		}
		return false
	}
	return true
}

// writeLoop writes queued frames and heartbeats. Once done is closed the
// frames already queued are flushed before it returns.
func (c *conn) writeLoop(ctx context.Context, heartbeat time.Duration) {
	defer close(c.writerDone)
	var tick <-chan time.Time
	if heartbeat > 0 {
		t := time.NewTicker(heartbeat)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case f := <-c.send:
			if !c.writeFrame(ctx, f) {
				return
			}
		case <-tick:
			if err := c.write(ctx, ddp.FrameHeartbeat); err != nil {
				c.log.Debug().Err(err).Msg("write heartbeat")
				return
			}
		case <-c.done:
			for {
				select {
				case f := <-c.send:
					if !c.writeFrame(ctx, f) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// readLoop feeds inbound text messages to the engine until the peer goes
// away or sends a batch that cannot be decoded.
func (c *conn) readLoop(ctx context.Context, engine *ddp.Engine) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				lvl := c.log.Info()
				if ce.Code != websocket.StatusNormalClosure && ce.Code != websocket.StatusGoingAway {
					lvl = c.log.Error()
				}
				lvl.Int("code", int(ce.Code)).Str("reason", ce.Reason).Msg("disconnected")
			} else if ctx.Err() == nil {
				c.log.Error().Err(err).Msg("disconnected")
			}
			return
		}
		if typ != websocket.MessageText {
			c.log.Debug().Msg("ignoring binary message")
			continue
		}
		if err := engine.Process(ctx, string(data)); err != nil {
			if errors.Is(err, ddp.ErrDecode) {
				c.log.Warn().Err(err).Msg("broken framing")
				c.closeWith(ddp.CloseBrokenFraming, "Broken framing.", websocket.StatusPolicyViolation, "broken framing")
				return
			}
			c.log.Error().Err(err).Msg("process batch")
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.opts.State.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	cfg := s.opts.Config
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(cfg.AllowedOrigins),
	})
	if err != nil {
		logx.Log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket accept")
		return
	}
	if cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(cfg.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		id:         uuid.NewString(),
		ws:         ws,
		send:       make(chan outFrame, sendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	c.log = logx.Conn(c.id)
	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()
	c.log.Info().Str("remote_addr", r.RemoteAddr).Msg("connected")

	engine, err := s.newEngine(ctx, c, r.RemoteAddr)
	if err != nil {
		c.log.Error().Err(err).Msg("engine setup")
		_ = ws.Close(websocket.StatusInternalError, "server error")
		return
	}

	s.track(c)
	defer s.untrack(c)

	go c.writeLoop(context.WithoutCancel(ctx), cfg.HeartbeatInterval)
	c.enqueue(ddp.FrameOpen)

	c.readLoop(ctx, engine)
	close(c.done)
	<-c.writerDone
	_ = ws.CloseNow()
}

func (s *Server) track(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// GoAway sends a go-away close frame to every open connection and returns
// how many were told.
func (s *Server) GoAway() int {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	n := 0
	for _, c := range conns {
		if c.goAway() {
			n++
		}
	}
	return n
}

// newEngine builds the engine of one connection.
func (s *Server) newEngine(ctx context.Context, c *conn, remoteAddr string) (*ddp.Engine, error) {
	cfg := s.opts.Config
	env := ddp.Env{}
	for _, name := range cfg.EnvNames() {
		env = env.With(name, cfg.Env[name])
	}
	env = env.With("conn_id", c.id).With("remote_addr", remoteAddr)

	hooks := append([]ddp.DispatchHook{metrics.MethodHook{}}, s.opts.Hooks...)
	opts := []ddp.Option{
		ddp.WithRegistry(s.opts.Registry),
		ddp.WithObserver(metrics.Observer{}),
		ddp.WithDispatchHook(ddp.Hooks(hooks...)),
		ddp.WithMethodTimeout(cfg.MethodTimeout),
		ddp.WithLogger(c.log),
		ddp.WithEnv(env),
	}
	if s.opts.Subscriptions != nil {
		opts = append(opts, ddp.WithSubscriptions(s.opts.Subscriptions(c.id)))
	}

	var engine *ddp.Engine
	opts = append(opts, ddp.WithSessionHook(func(session string, resumed bool) {
		engine.SetEnv("session", session)
		s.trackSession(ctx, c, remoteAddr, session, resumed)
	}))
	engine = ddp.New(func(_ ddp.Env, frame string) { c.enqueue(frame) }, opts...)

	if s.opts.Setup != nil {
		if err := s.opts.Setup(engine); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func (s *Server) trackSession(ctx context.Context, c *conn, remoteAddr, session string, resumed bool) {
	known, err := s.opts.Sessions.Touch(ctx, sessions.Record{
		ID:         session,
		ConnID:     c.id,
		RemoteAddr: remoteAddr,
		Resumed:    resumed,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("session", session).Msg("store session")
	}
	kind := metrics.SessionNew
	switch {
	case resumed && known:
		kind = metrics.SessionResumed
	case resumed:
		kind = metrics.SessionUnknownResume
		c.log.Debug().Str("session", session).Msg("resuming unknown session")
	}
	metrics.RecordSession(kind)
	c.log.Debug().Str("session", session).Str("kind", kind).Msg("session established")
}
