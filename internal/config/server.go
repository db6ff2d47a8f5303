package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the ddpx server.
type ServerConfig struct {
	Port              int               `yaml:"port"`
	MetricsAddr       string            `yaml:"metrics_addr"`
	WSPath            string            `yaml:"ws_path"`
	AllowedOrigins    []string          `yaml:"allowed_origins"`
	ConfigFile        string            `yaml:"-"`
	LogLevel          string            `yaml:"log_level"`
	RedisAddr         string            `yaml:"redis_addr"`
	SessionTTL        time.Duration     `yaml:"session_ttl"`
	HeartbeatInterval time.Duration     `yaml:"heartbeat_interval"`
	MethodTimeout     time.Duration     `yaml:"method_timeout"`
	MaxMessageBytes   int64             `yaml:"max_message_bytes"`
	DrainTimeout      time.Duration     `yaml:"drain_timeout"`
	TraceStdout       bool              `yaml:"trace_stdout"`
	Env               map[string]string `yaml:"env"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if c.WSPath == "" {
		c.WSPath = "/sockjs/websocket"
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = 15 * time.Minute
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = 1 << 20
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 5 * time.Minute
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("server.yaml")
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := getEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := getEnv("METRICS_PORT", ""); v != "" {
		c.MetricsAddr = metricsAddr(v)
	} else if c.MetricsAddr == "" {
		c.MetricsAddr = fmt.Sprintf(":%d", c.Port)
	}
	if v := getEnv("WS_PATH", ""); v != "" {
		c.WSPath = v
	}
	if v := getEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := getEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	envDuration("SESSION_TTL", &c.SessionTTL)
	envDuration("HEARTBEAT_INTERVAL", &c.HeartbeatInterval)
	envDuration("METHOD_TIMEOUT", &c.MethodTimeout)
	envDuration("DRAIN_TIMEOUT", &c.DrainTimeout)
	if v := getEnv("MAX_MESSAGE_BYTES", ""); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxMessageBytes = n
		}
	}
	if v := getEnv("TRACE_STDOUT", ""); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.TraceStdout = b
		}
	}
}

// BindFlagsFromCurrent binds command line flags using the current config values as defaults.
func (c *ServerConfig) BindFlagsFromCurrent() {
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	flag.Func("metrics-port", "Prometheus metrics listen address or port; defaults to the value of --port", func(v string) error {
		c.MetricsAddr = metricsAddr(v)
		return nil
	})
	flag.StringVar(&c.WSPath, "ws-path", c.WSPath, "path clients use to open WebSocket connections")
	flag.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for the session store; empty keeps sessions in memory")
	flag.DurationVar(&c.SessionTTL, "session-ttl", c.SessionTTL, "how long an idle session is remembered")
	flag.DurationVar(&c.HeartbeatInterval, "heartbeat-interval", c.HeartbeatInterval, "interval between heartbeat frames (0 disables)")
	flag.DurationVar(&c.MethodTimeout, "method-timeout", c.MethodTimeout, "maximum duration of a method call (0 disables)")
	flag.Int64Var(&c.MaxMessageBytes, "max-message-bytes", c.MaxMessageBytes, "largest inbound WebSocket message accepted")
	flag.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for open connections on shutdown (-1 to wait indefinitely, 0 to exit immediately)")
	flag.BoolVar(&c.TraceStdout, "trace-stdout", c.TraceStdout, "print OpenTelemetry spans and metrics to stdout")
	flag.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
	flag.Func("env", "initial connection environment entry name=value (repeatable)", func(v string) error {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return fmt.Errorf("expected name=value, got %q", v)
		}
		if c.Env == nil {
			c.Env = map[string]string{}
		}
		c.Env[name] = value
		return nil
	})
}

// LoadFile populates the config from a YAML file.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// EnvNames returns the configured environment names in sorted order.
func (c *ServerConfig) EnvNames() []string {
	names := make([]string, 0, len(c.Env))
	for k := range c.Env {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ConfigFileFromArgs finds a --config value in raw arguments so the file can
// be loaded before flags are parsed.
func ConfigFileFromArgs(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if (a == "--config" || a == "-config") && i+1 < len(args) {
			return args[i+1], true
		}
		for _, p := range []string{"--config=", "-config="} {
			if strings.HasPrefix(a, p) {
				return strings.TrimPrefix(a, p), true
			}
		}
	}
	return "", false
}

func metricsAddr(v string) string {
	if strings.Contains(v, ":") {
		return v
	}
	return ":" + v
}

func envDuration(key string, dst *time.Duration) {
	if v := getEnv(key, ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
