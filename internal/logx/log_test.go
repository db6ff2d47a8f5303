package logx_test

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/ddpx/internal/logx"
)

func TestConfigureLogLevel(t *testing.T) {
	defer logx.Configure("info")

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"all", zerolog.TraceLevel},
		{"TRACE", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{" info ", zerolog.InfoLevel},
		{"WARNING", zerolog.WarnLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"none", zerolog.Disabled},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		logx.Configure(tt.in)
		if got := zerolog.GlobalLevel(); got != tt.want {
			t.Fatalf("Configure(%q): got %s want %s", tt.in, got, tt.want)
		}
	}
}
