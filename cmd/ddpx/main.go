package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gaspardpetit/ddpx/internal/builtin"
	"github.com/gaspardpetit/ddpx/internal/config"
	"github.com/gaspardpetit/ddpx/internal/ddp"
	"github.com/gaspardpetit/ddpx/internal/ddpotel"
	"github.com/gaspardpetit/ddpx/internal/inflight"
	"github.com/gaspardpetit/ddpx/internal/logx"
	"github.com/gaspardpetit/ddpx/internal/metrics"
	"github.com/gaspardpetit/ddpx/internal/server"
	"github.com/gaspardpetit/ddpx/internal/serverstate"
	"github.com/gaspardpetit/ddpx/internal/sessions"
)

// goAwayGrace is how long connections get to close after a go-away frame.
const goAwayGrace = 5 * time.Second

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

// loadConfig resolves configuration with precedence defaults < file < env < flags.
func loadConfig(args []string) config.ServerConfig {
	var cfg config.ServerConfig
	path := config.DefaultConfigPath("server.yaml")
	if v := os.Getenv("CONFIG_FILE"); v != "" {
		path = v
	}
	if v, ok := config.ConfigFileFromArgs(args); ok {
		path = v
	}
	if err := cfg.LoadFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logx.Log.Fatal().Err(err).Str("path", path).Msg("load config")
	}
	metricsPinned := cfg.MetricsAddr != ""
	cfg.ConfigFile = path
	cfg.SetDefaults()
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent()
	flag.Parse()

	if _, ok := os.LookupEnv("METRICS_PORT"); ok {
		metricsPinned = true
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "metrics-port" {
			metricsPinned = true
		}
	})
	if !metricsPinned {
		cfg.MetricsAddr = fmt.Sprintf(":%d", cfg.Port)
	}
	return cfg
}

// drainContext bounds how long shutdown waits for open connections. A
// negative timeout waits indefinitely.
func drainContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout < 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "ddpx version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		flag.PrintDefaults()
	}
	cfg := loadConfig(os.Args[1:])
	if *showVersion {
		fmt.Printf("ddpx version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	preg := prometheus.NewRegistry()
	metrics.Register(preg)
	metrics.SetServerBuildInfo(version, buildSHA, buildDate)

	var store sessions.Store = sessions.NewMemoryStore(cfg.SessionTTL)
	if cfg.RedisAddr != "" {
		rs, err := sessions.NewRedisStore(ctx, cfg.RedisAddr, cfg.SessionTTL)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		defer func() { _ = rs.Close() }()
		store = rs
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("using redis session store")
	}

	var hooks []ddp.DispatchHook
	if cfg.TraceStdout {
		providers, err := ddpotel.SetupStdout(os.Stdout, "ddpx", version)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("setup tracing")
		}
		defer func() {
			if err := providers.Shutdown(context.Background()); err != nil {
				logx.Log.Error().Err(err).Msg("tracing shutdown")
			}
		}()
		hooks = append(hooks, ddpotel.NewHook(ddpotel.DefaultConfig()))
		logx.Log.Info().Msg("stdout tracing enabled")
	}

	reg := ddp.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		logx.Log.Fatal().Err(err).Msg("register methods")
	}

	state := serverstate.NewTracker()
	var conns inflight.Counter
	handler := server.New(server.Options{
		Config:     cfg,
		Registry:   reg,
		Sessions:   store,
		State:      state,
		Inflight:   &conns,
		Hooks:      hooks,
		Prometheus: preg,
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler}
	var metricsSrv *http.Server
	if cfg.MetricsAddr != fmt.Sprintf(":%d", cfg.Port) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", server.MetricsHandler(preg))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if state.IsDraining() || cfg.DrainTimeout == 0 {
				logx.Log.Warn().Msg("termination requested")
				cancel()
				return
			}
			state.StartDrain()
			logx.Log.Info().Dur("timeout", cfg.DrainTimeout).Int64("connections", conns.Load()).
				Msg("draining; send SIGTERM again to terminate immediately")
			go func() {
				dctx, dcancel := drainContext(ctx, cfg.DrainTimeout)
				defer dcancel()
				if conns.WaitForZero(dctx) {
					logx.Log.Info().Msg("all connections closed")
				} else if ctx.Err() == nil {
					n := handler.GoAway()
					logx.Log.Warn().Int("connections", n).Msg("drain timeout exceeded; closing connections")
					gctx, gcancel := context.WithTimeout(ctx, goAwayGrace)
					conns.WaitForZero(gctx)
					gcancel()
				}
				cancel()
			}()
		}
	}()
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logx.Log.Error().Err(err).Msg("server shutdown")
		}
	}()
	if metricsSrv != nil {
		go func() {
			<-ctx.Done()
			if err := metricsSrv.Shutdown(context.Background()); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}()
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	logx.Log.Info().Int("port", cfg.Port).Str("ws_path", cfg.WSPath).Strs("methods", reg.Names()).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
}
