package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"ERROR", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseLevel(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestWithContext_RunID(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(slog.NewTextHandler(&buf, nil))

	ctx := ContextWithRunID(context.Background(), 7)
	WithContext(ctx).Info("checkpoint")
	if !strings.Contains(buf.String(), "run_id=7") {
		t.Errorf("run_id missing from entry: %s", buf.String())
	}

	buf.Reset()
	WithContext(context.Background()).Info("checkpoint")
	if strings.Contains(buf.String(), "run_id") {
		t.Errorf("untagged context carried run_id: %s", buf.String())
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	InitWithHandler(slog.NewTextHandler(&buf, nil))

	Component("tracker").Info("ready")
	if !strings.Contains(buf.String(), "component=tracker") {
		t.Errorf("component missing from entry: %s", buf.String())
	}
}
