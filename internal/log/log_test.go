package log

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigureWithOutput(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Output: &buf, Level: LevelInfo})
	t.Cleanup(func() { Configure(Options{Level: LevelWarn}) })

	Info("workspace created", Workspace("/tmp/ws"))

	out := buf.String()
	if !strings.Contains(out, "workspace created") {
		t.Errorf("log output = %q, want to contain %q", out, "workspace created")
	}
	if !strings.Contains(out, "workspace=/tmp/ws") {
		t.Errorf("log output = %q, want workspace attribute", out)
	}
}

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Output: &buf, JSON: true, Level: LevelInfo})
	t.Cleanup(func() { Configure(Options{Level: LevelWarn}) })

	InfoContext(context.Background(), "json test", Branch("feature/x"))

	out := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("expected JSON output, got %q", out)
	}
	if !strings.Contains(out, `"branch":"feature/x"`) {
		t.Errorf("log output = %q, want branch attribute", out)
	}
}

func TestConfigureLevels(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantDebug bool
		wantInfo  bool
	}{
		{name: "verbose enables debug", opts: Options{Verbose: true}, wantDebug: true, wantInfo: true},
		{name: "quiet hides info", opts: Options{Quiet: true, Level: LevelInfo}, wantDebug: false, wantInfo: false},
		{name: "verbose beats quiet", opts: Options{Verbose: true, Quiet: true}, wantDebug: true, wantInfo: true},
		{name: "info level", opts: Options{Level: LevelInfo}, wantDebug: false, wantInfo: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.opts.Output = &buf
			Configure(tt.opts)
			t.Cleanup(func() { Configure(Options{Level: LevelWarn}) })

			Debug("debug-line")
			Info("info-line")

			out := buf.String()
			if got := strings.Contains(out, "debug-line"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", got, tt.wantDebug)
			}
			if got := strings.Contains(out, "info-line"); got != tt.wantInfo {
				t.Errorf("info logged = %v, want %v", got, tt.wantInfo)
			}
		})
	}
}

func TestAttrHelpers(t *testing.T) {
	if a := Err(errors.New("boom")); a.Key != "error" {
		t.Errorf("Err key = %q, want %q", a.Key, "error")
	}
	if a := Step("fetch"); a.Value.String() != "fetch" {
		t.Errorf("Step value = %q, want %q", a.Value.String(), "fetch")
	}
	if a := Duration(1500 * time.Millisecond); a.Value.Int64() != 1500 {
		t.Errorf("Duration value = %d, want 1500", a.Value.Int64())
	}

	st := State("NEEDS_PUSH", "IN_REVIEW")
	if st.Key != "state" {
		t.Errorf("State key = %q, want %q", st.Key, "state")
	}
	group := st.Value.Group()
	if len(group) != 2 || group[0].Value.String() != "NEEDS_PUSH" || group[1].Value.String() != "IN_REVIEW" {
		t.Errorf("State group = %v", group)
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Output: &buf, Level: LevelInfo})
	t.Cleanup(func() { Configure(Options{Level: LevelWarn}) })

	Component("ports").Info("allocated")

	if !strings.Contains(buf.String(), "component=ports") {
		t.Errorf("log output = %q, want component attribute", buf.String())
	}
}
