package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		development bool
		level       string
		wantLevel   zapcore.Level
		wantErr     bool
	}{
		{"production default", false, "", zapcore.InfoLevel, false},
		{"development default", true, "", zapcore.DebugLevel, false},
		{"explicit level", false, "warn", zapcore.WarnLevel, false},
		{"bad level", false, "loud", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.development, tt.level)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if !log.Core().Enabled(tt.wantLevel) {
				t.Errorf("level %s not enabled", tt.wantLevel)
			}
			if tt.wantLevel > zapcore.DebugLevel && log.Core().Enabled(tt.wantLevel-1) {
				t.Errorf("level below %s enabled", tt.wantLevel)
			}
		})
	}
}
