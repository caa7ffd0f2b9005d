package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"loud", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		l, err := New(tc.in)
		if err != nil {
			t.Fatalf("New(%q): %v", tc.in, err)
		}
		if !l.Core().Enabled(tc.want) {
			t.Fatalf("New(%q): level %v not enabled", tc.in, tc.want)
		}
		if tc.want > zapcore.DebugLevel && l.Core().Enabled(tc.want-1) {
			t.Fatalf("New(%q): level %v should be disabled", tc.in, tc.want-1)
		}
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected nop logger")
	}
}
