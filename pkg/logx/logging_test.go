package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingSender struct {
	mu       sync.Mutex
	subjects []string
	bodies   []string
	sent     chan struct{}
}

func (r *recordingSender) SendLog(ctx context.Context, subject, body string) error {
	r.mu.Lock()
	r.subjects = append(r.subjects, subject)
	r.bodies = append(r.bodies, body)
	r.mu.Unlock()
	select {
	case r.sent <- struct{}{}:
	default:
	}
	return nil
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	// must not panic
	l.Info("hello", String("k", "v"))
	l.With(Int("n", 1)).Error("boom", Err(nil))
}

func TestWithFieldsAreApplied(t *testing.T) {
	var buf bytes.Buffer
	l := NewWith(zerolog.New(&buf)).With(String("comp", "batch"))
	l.Info("flushed", Int("events", 3))

	out := buf.String()
	for _, want := range []string{`"comp":"batch"`, `"events":3`, `"message":"flushed"`, `"caller":"logging_test.go:`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %s", out, want)
		}
	}
}

func TestFormatMailJSON(t *testing.T) {
	line := []byte(`{"level":"error","message":"mail delivery failed","audience":"tech","err":"dial tcp: refused"}`)
	subject, body := formatMailJSON(zerolog.ErrorLevel, line)
	if subject != "[ERROR] mail delivery failed" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.Contains(body, "- **audience**: tech") || !strings.Contains(body, "- **err**: dial tcp: refused") {
		t.Fatalf("unexpected body: %q", body)
	}
	if strings.Contains(body, "**level**") {
		t.Fatalf("level must not be repeated in body: %q", body)
	}
}

func TestMailSinkRespectsMinLevel(t *testing.T) {
	rec := &recordingSender{sent: make(chan struct{}, 4)}
	svc, log := New(Config{Level: "debug", Mail: MailConfig{Enabled: true, MinLevel: "error", RatePerMinute: 60}})
	defer svc.Close()
	svc.SetMailSender(rec)

	log.Warn("just a warning")
	log.Error("real problem", String("unit", "api"))

	select {
	case <-rec.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("expected error line to be mailed")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.subjects) != 1 {
		t.Fatalf("expected exactly 1 mail, got %d (%v)", len(rec.subjects), rec.subjects)
	}
	if rec.subjects[0] != "[ERROR] real problem" {
		t.Fatalf("subject = %q", rec.subjects[0])
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := truncate(strings.Repeat("a", 20), 12); got != "aaaaaaaaa..." {
		t.Fatalf("got %q", got)
	}
}
