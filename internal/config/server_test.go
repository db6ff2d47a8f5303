package config

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withCommandLine(t *testing.T) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	old := flag.CommandLine
	flag.CommandLine = fs
	t.Cleanup(func() { flag.CommandLine = old })
	return fs
}

func TestServerConfigDefaults(t *testing.T) {
	var cfg ServerConfig
	cfg.SetDefaults()
	if cfg.Port != 3000 || cfg.MetricsAddr != ":3000" {
		t.Fatalf("port defaults: got %d %q", cfg.Port, cfg.MetricsAddr)
	}
	if cfg.WSPath != "/sockjs/websocket" {
		t.Fatalf("ws path: got %q", cfg.WSPath)
	}
	if cfg.HeartbeatInterval != 25*time.Second || cfg.SessionTTL != 15*time.Minute {
		t.Fatalf("durations: got %v %v", cfg.HeartbeatInterval, cfg.SessionTTL)
	}
	if cfg.MethodTimeout != 0 {
		t.Fatalf("method timeout should default to disabled, got %v", cfg.MethodTimeout)
	}
	if cfg.MaxMessageBytes != 1<<20 {
		t.Fatalf("max message bytes: got %d", cfg.MaxMessageBytes)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level: got %q", cfg.LogLevel)
	}
}

func TestServerConfigPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "server.yaml")
	data := []byte(`port: 4000
ws_path: /ddp
heartbeat_interval: 10s
method_timeout: 2s
allowed_origins: [https://a.example]
trace_stdout: true
env:
  tenant: acme
  region: eu
`)
	if err := os.WriteFile(file, data, 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	var cfg ServerConfig
	cfg.SetDefaults()
	if err := cfg.LoadFile(file); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 4000 || cfg.WSPath != "/ddp" || cfg.HeartbeatInterval != 10*time.Second {
		t.Fatalf("file values: got %d %q %v", cfg.Port, cfg.WSPath, cfg.HeartbeatInterval)
	}
	if cfg.MethodTimeout != 2*time.Second || !cfg.TraceStdout {
		t.Fatalf("file values: got %v %v", cfg.MethodTimeout, cfg.TraceStdout)
	}
	if cfg.Env["tenant"] != "acme" {
		t.Fatalf("env from yaml: got %v", cfg.Env)
	}

	t.Setenv("PORT", "5000")
	t.Setenv("METHOD_TIMEOUT", "3s")
	t.Setenv("METRICS_PORT", "9100")
	t.Setenv("ALLOWED_ORIGINS", "https://b.example, https://c.example")
	cfg.ApplyEnv()
	if cfg.Port != 5000 || cfg.MethodTimeout != 3*time.Second {
		t.Fatalf("env overrides: got %d %v", cfg.Port, cfg.MethodTimeout)
	}
	if cfg.MetricsAddr != ":9100" {
		t.Fatalf("metrics addr: got %q", cfg.MetricsAddr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://c.example" {
		t.Fatalf("origins: got %v", cfg.AllowedOrigins)
	}

	fs := withCommandLine(t)
	cfg.BindFlagsFromCurrent()
	if err := fs.Parse([]string{"-port", "6000", "-env", "region=us", "-metrics-port", "127.0.0.1:9200"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != 6000 {
		t.Fatalf("flag override: got %d", cfg.Port)
	}
	if cfg.MetricsAddr != "127.0.0.1:9200" {
		t.Fatalf("metrics flag: got %q", cfg.MetricsAddr)
	}
	if cfg.Env["region"] != "us" || cfg.Env["tenant"] != "acme" {
		t.Fatalf("env flag: got %v", cfg.Env)
	}
	if names := cfg.EnvNames(); len(names) != 2 || names[0] != "region" {
		t.Fatalf("env names: got %v", names)
	}
	// flags keep env values when not given
	if cfg.MethodTimeout != 3*time.Second {
		t.Fatalf("method timeout after flags: got %v", cfg.MethodTimeout)
	}
}

func TestServerConfigBadEnvIgnored(t *testing.T) {
	var cfg ServerConfig
	cfg.SetDefaults()
	t.Setenv("PORT", "abc")
	t.Setenv("HEARTBEAT_INTERVAL", "soon")
	t.Setenv("TRACE_STDOUT", "maybe")
	cfg.ApplyEnv()
	if cfg.Port != 3000 || cfg.HeartbeatInterval != 25*time.Second || cfg.TraceStdout {
		t.Fatalf("bad env values should be ignored, got %+v", cfg)
	}
}

func TestEnvFlagRejectsMalformed(t *testing.T) {
	var cfg ServerConfig
	fs := withCommandLine(t)
	fs.SetOutput(io.Discard)
	cfg.BindFlagsFromCurrent()
	if err := fs.Parse([]string{"-env", "novalue"}); err == nil {
		t.Fatal("expected parse error for -env without =")
	}
}

func TestConfigFileFromArgs(t *testing.T) {
	tests := []struct {
		args []string
		want string
		ok   bool
	}{
		{[]string{"--config", "/a.yaml"}, "/a.yaml", true},
		{[]string{"-port", "1", "--config=/b.yaml"}, "/b.yaml", true},
		{[]string{"-config", "/c.yaml"}, "/c.yaml", true},
		{[]string{"--config"}, "", false},
		{nil, "", false},
	}
	for _, tt := range tests {
		got, ok := ConfigFileFromArgs(tt.args)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ConfigFileFromArgs(%v): got (%q, %v) want (%q, %v)", tt.args, got, ok, tt.want, tt.ok)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	tests := []struct {
		goos, home, pd, want string
	}{
		{"linux", "/home/u", "", filepath.Join("/etc", "ddpx", "server.yaml")},
		{"darwin", "/Users/u", "", filepath.Join("/Users/u", "Library", "Application Support", "ddpx", "server.yaml")},
		{"windows", "", "", filepath.Join("C:/ProgramData", "ddpx", "server.yaml")},
		{"windows", "", "D:/Data/", filepath.Join("D:/Data", "ddpx", "server.yaml")},
	}
	for _, tt := range tests {
		if got := ResolveConfigPath(tt.goos, tt.home, tt.pd, "server.yaml"); got != tt.want {
			t.Fatalf("ResolveConfigPath(%s): got %q want %q", tt.goos, got, tt.want)
		}
	}
}
