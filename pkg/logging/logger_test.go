package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"", false},
		{"debug", false},
		{"INFO", false},
		{"warning", false},
		{"error", false},
		{"verbose", true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Level = tt.level
			logger, err := New(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for level %q", tt.level)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if logger.Logger == nil {
				t.Fatal("expected underlying zap logger")
			}
		})
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("BANKFLOW_LOG_LEVEL", "debug")
	t.Setenv("BANKFLOW_LOG_DEV", "true")

	logger, err := FromEnv(DefaultConfig())
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level to be enabled")
	}
}

func TestSetGlobal_NilResetsToNop(t *testing.T) {
	prev := L()
	defer SetGlobal(prev)

	SetGlobal(nil)
	if L() == nil {
		t.Fatal("global logger must never be nil")
	}
	L().Named("test").Info("discarded")
}
