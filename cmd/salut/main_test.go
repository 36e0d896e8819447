package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/salut/internal/app"
	"github.com/antoniostano/salut/internal/config"
)

func TestWSURLFor(t *testing.T) {
	got, err := wsURLFor("https://tutor.example.com/base/")
	if err != nil {
		t.Fatalf("wsURLFor() error = %v", err)
	}
	if got != "wss://tutor.example.com/base/v1/tutor/ws" {
		t.Fatalf("wsURLFor() = %q", got)
	}
	if _, err := wsURLFor("ftp://host"); err == nil {
		t.Fatalf("wsURLFor(ftp) error = nil")
	}
}

func TestParseProbeTexts(t *testing.T) {
	got, err := parseProbeTexts(" Salut | | Merci ")
	if err != nil {
		t.Fatalf("parseProbeTexts() error = %v", err)
	}
	if len(got) != 2 || got[0] != "Salut" || got[1] != "Merci" {
		t.Fatalf("parseProbeTexts() = %v", got)
	}
	if _, err := parseProbeTexts(" | "); err == nil {
		t.Fatalf("parseProbeTexts(blank) error = nil")
	}
	defaults, _ := parseProbeTexts("")
	if len(defaults) != len(defaultProbeTexts) {
		t.Fatalf("defaults = %v", defaults)
	}
}

func TestPercentiles(t *testing.T) {
	p50, p95 := percentiles([]time.Duration{4, 1, 3, 2, 5})
	if p50 != 3 || p95 != 5 {
		t.Fatalf("percentiles = %v/%v, want 3/5", p50, p95)
	}
}

func TestProgressCommands(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "SALUT_TRANSPORT", "SALUT_AUDIO_DEVICE", "SALUT_VISEME_THRESHOLDS", "SALUT_SESSION_INACTIVITY_TIMEOUT"} {
		t.Setenv(key, "")
	}
	t.Setenv("SALUT_SQLITE_PATH", filepath.Join(t.TempDir(), "progress.db"))
	t.Setenv("SALUT_PROGRESS_KEY", "cli_test_progress")

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-level", "error"}, args...))
		if err := cmd.Execute(); err != nil {
			t.Fatalf("salut %v error = %v", args, err)
		}
		return out.String()
	}

	if out := run("progress", "show"); !strings.Contains(out, `"sessionsCompleted": 0`) {
		t.Fatalf("progress show output = %s", out)
	}
	if out := run("progress", "reset"); !strings.Contains(out, "cli_test_progress") || !strings.Contains(out, "sqlite") {
		t.Fatalf("progress reset output = %s", out)
	}
}

func TestProbeAgainstMockTutor(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace: fmt.Sprintf("salut_test_cmd_%d", time.Now().UnixNano()),
		Transport:        "mock",
		AudioDevice:      "null",
		Model:            "mock",
		Voice:            "Kore",
		RetryBackoff:     "linear",
		RetryBaseDelay:   10 * time.Millisecond,
		ConnectTimeout:   5 * time.Second,
		ProgressKey:      "probe_test",
	}
	res, err := app.Build(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer res.Cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = res.Controller.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()

	var out bytes.Buffer
	err = runProbe(context.Background(), probeOptions{
		baseURL:        ts.URL,
		texts:          []string{"Salut"},
		connectTimeout: 5 * time.Second,
		turnTimeout:    5 * time.Second,
	}, &out)
	if err != nil {
		t.Fatalf("runProbe() error = %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "turns=1") {
		t.Fatalf("probe output = %s", out.String())
	}
}
