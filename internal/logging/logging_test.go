package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		want          zapcore.Level
		wantErr       bool
	}{
		{"", "", zapcore.InfoLevel, false},
		{"debug", "json", zapcore.DebugLevel, false},
		{"WARN", "console", zapcore.WarnLevel, false},
		{"loud", "json", 0, true},
		{"info", "xml", 0, true},
	}

	for _, tt := range tests {
		log, err := New(tt.level, tt.format)
		if tt.wantErr {
			if err == nil {
				t.Errorf("New(%q, %q): expected error", tt.level, tt.format)
			}
			continue
		}
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tt.level, tt.format, err)
		}
		if !log.Core().Enabled(tt.want) {
			t.Errorf("New(%q, %q): level %s not enabled", tt.level, tt.format, tt.want)
		}
		if tt.want > zapcore.DebugLevel && log.Core().Enabled(tt.want-1) {
			t.Errorf("New(%q, %q): level below %s enabled", tt.level, tt.format, tt.want)
		}
	}
}
