package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gaspardpetit/ddpx/internal/ddp"
)

// Method call outcomes used as the status label.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusNotFound = "not_found"
	StatusTimeout  = "timeout"
	StatusPanic    = "panic"
)

// Session kinds used as the kind label of ddpx_sessions_total.
const (
	SessionNew           = "new"
	SessionResumed       = "resumed"
	SessionUnknownResume = "unknown_resume"
)

// unknownMethod replaces the method label of calls to unregistered methods so
// clients cannot grow label cardinality.
const unknownMethod = "(unknown)"

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "ddpx_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	packetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddpx_packets_total",
			Help: "Inbound packets handled, by msg type",
		},
		[]string{"msg"},
	)

	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddpx_packets_dropped_total",
			Help: "Inbound packets dropped without a response",
		},
		[]string{"reason"},
	)

	methodCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddpx_method_calls_total",
			Help: "Method calls by method and outcome",
		},
		[]string{"method", "status"},
	)

	methodDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ddpx_method_duration_seconds",
			Help:    "Duration of method calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddpx_frames_sent_total",
			Help: "Outbound frames by kind",
		},
		[]string{"kind"},
	)

	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ddpx_connections_active",
			Help: "Open client connections",
		},
	)

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ddpx_sessions_total",
			Help: "Sessions established by connect packets",
		},
		[]string{"kind"},
	)
)

// Register registers all collectors with r. Collectors already present in r
// are left as they are.
func Register(r prometheus.Registerer) {
	for _, c := range []prometheus.Collector{
		buildInfo, packetsTotal, packetsDropped, methodCalls, methodDuration,
		framesSent, connectionsActive, sessionsTotal,
	} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// SetServerBuildInfo sets the build info metric for the server.
func SetServerBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// ConnectionOpened increments the open connection gauge.
func ConnectionOpened() { connectionsActive.Inc() }

// ConnectionClosed decrements the open connection gauge.
func ConnectionClosed() { connectionsActive.Dec() }

// RecordSession counts an established session. kind is "new", "resumed" or
// "unknown_resume" for a resume of a session the store did not know.
func RecordSession(kind string) {
	sessionsTotal.WithLabelValues(kind).Inc()
}

// RecordMethodCall counts one call and observes its duration.
func RecordMethodCall(method, status string, d time.Duration) {
	methodCalls.WithLabelValues(method, status).Inc()
	methodDuration.WithLabelValues(method).Observe(d.Seconds())
}

// Observer reports engine packet and frame events to Prometheus.
type Observer struct{}

var _ ddp.Observer = Observer{}

func (Observer) PacketHandled(msg string)    { packetsTotal.WithLabelValues(msg).Inc() }
func (Observer) PacketDropped(reason string) { packetsDropped.WithLabelValues(reason).Inc() }
func (Observer) FrameSent(kind string)       { framesSent.WithLabelValues(kind).Inc() }

// MethodHook records method call counts and durations.
type MethodHook struct{}

var _ ddp.DispatchHook = MethodHook{}

func (MethodHook) OnDispatchStart(ctx context.Context, _ ddp.DispatchInfo) (context.Context, ddp.HookToken) {
	return ctx, nil
}

func (MethodHook) OnDispatchEnd(_ context.Context, _ ddp.HookToken, info ddp.DispatchInfo, stats ddp.DispatchStats, err error) {
	method := info.Method
	if !info.Found {
		method = unknownMethod
	}
	RecordMethodCall(method, callStatus(info, stats, err), stats.Duration)
}

func callStatus(info ddp.DispatchInfo, stats ddp.DispatchStats, err error) string {
	switch {
	case !info.Found:
		return StatusNotFound
	case stats.TimedOut:
		return StatusTimeout
	case stats.Panicked:
		return StatusPanic
	case err != nil:
		return StatusError
	}
	return StatusOK
}
