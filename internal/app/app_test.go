package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"procnotify/internal/batch"
	"procnotify/internal/config"
	"procnotify/internal/event"
	"procnotify/internal/mail"
	"procnotify/internal/source"
	logx "procnotify/pkg/logx"
)

const testConfig = `
events: [restart]
subject: "{{.process.name}} {{.event}}"
multiple_subject: "{{.process.name}} had several events"
template_inline: "{{.process.name}} {{.event}} on {{.hostname}}"
hostname: box-1
polling: %POLLING%
max_polling_time: 0
attach_logs: true
smtp:
  host: smtp.example.com
mail:
  from: "ops@example.com"
  client: "client@example.com"
  tech: "tech@example.com"
source:
  driver: jsonl
  exit_on_terminate: true
notifier:
  workers: 1
  rate_per_sec: 100
logging:
  level: error
`

// chanSource replays events until its channel closes, then terminates.
type chanSource struct {
	ch chan event.RawEvent
}

func (s *chanSource) Name() string { return "chan" }

func (s *chanSource) Run(ctx context.Context, h source.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.ch:
			if !ok {
				return &source.TerminatedError{Source: s.Name(), Reason: "closed"}
			}
			h.HandleEvent(ev)
		}
	}
}

func writeConfig(t *testing.T, polling string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	body := strings.Replace(testConfig, "%POLLING%", polling, 1)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func newTestApp(t *testing.T, polling string) (*App, *chanSource, *mail.Recorder) {
	t.Helper()
	src := &chanSource{ch: make(chan event.RawEvent, 16)}
	rec := &mail.Recorder{}
	a, err := NewApp(writeConfig(t, polling), "", WithSource(src), WithTransport(rec), WithLogger(logx.Nop()))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return a, src, rec
}

func logFile(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("log line\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return p
}

func restart(name string, outLog string) event.RawEvent {
	return event.RawEvent{
		Event: "restart",
		At:    event.Time{Time: time.Now()},
		Process: event.Process{
			Name:       name,
			OutLogPath: outLog,
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func byRecipient(msgs []mail.Message) map[string]mail.Message {
	out := map[string]mail.Message{}
	for _, m := range msgs {
		out[strings.Join(m.To, ",")] = m
	}
	return out
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestBurstDeliversOneGroupedMailPerAudience(t *testing.T) {
	a, src, rec := newTestApp(t, "50ms")
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	out := logFile(t, "api-out.log")
	src.ch <- restart("api", out)
	src.ch <- event.RawEvent{Event: "exit", Process: event.Process{Name: "api"}}
	src.ch <- event.RawEvent{Event: "restart", Manually: true, Process: event.Process{Name: "api"}}
	src.ch <- restart("worker", out)

	waitFor(t, "two messages", func() bool { return len(rec.Messages()) == 2 })
	time.Sleep(100 * time.Millisecond)
	msgs := byRecipient(rec.Messages())
	if len(rec.Messages()) != 2 {
		t.Fatalf("want 2 messages, got %d", len(rec.Messages()))
	}

	client, ok := msgs["client@example.com"]
	if !ok {
		t.Fatalf("missing client message: %+v", msgs)
	}
	if client.Subject != "api had several events" {
		t.Fatalf("subject: %q", client.Subject)
	}
	if !strings.Contains(client.Text, "api restart on box-1") || !strings.Contains(client.Text, "worker restart on box-1") {
		t.Fatalf("text: %q", client.Text)
	}
	if len(client.Attachments) != 0 {
		t.Fatalf("client must not get attachments: %+v", client.Attachments)
	}

	tech := msgs["tech@example.com"]
	if len(tech.Attachments) != 1 || tech.Attachments[0].Path != out {
		t.Fatalf("tech attachments: %+v", tech.Attachments)
	}
}

func TestSingleEventUsesItsOwnSubject(t *testing.T) {
	a, src, rec := newTestApp(t, "30ms")
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	src.ch <- restart("api", "")
	waitFor(t, "two messages", func() bool { return len(rec.Messages()) == 2 })
	for _, m := range rec.Messages() {
		if m.Subject != "api restart" {
			t.Fatalf("subject: %q", m.Subject)
		}
	}
}

func TestStopFlushesPendingEvents(t *testing.T) {
	a, src, rec := newTestApp(t, "1h")
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.ch <- restart("api", "")
	waitFor(t, "queued event", func() bool { return a.Queue().Len() == 1 })

	stopApp(t, a)
	if n := len(rec.Messages()); n != 2 {
		t.Fatalf("want 2 messages after stop, got %d", n)
	}
	if a.Queue().Len() != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestSourceTerminationWithExitOnTerminate(t *testing.T) {
	a, src, rec := newTestApp(t, "1h")
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.ch <- restart("api", "")
	waitFor(t, "queued event", func() bool { return a.Queue().Len() == 1 })
	close(src.ch)

	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("app did not stop after source termination")
	}
	stopApp(t, a)
	if a.Reason() != StopSourceTerminated {
		t.Fatalf("reason: %q", a.Reason())
	}
	if n := len(rec.Messages()); n != 2 {
		t.Fatalf("want 2 messages, got %d", n)
	}
}

func TestApplyConfigUpdatesFilterAndTemplates(t *testing.T) {
	a, _, _ := newTestApp(t, "1h")
	prev := a.cfgm.Get()
	next := *prev
	next.Events = []string{"restart", "exit"}
	next.Subject = "[{{.hostname}}] {{.process.name}}"

	a.applyConfig(prev, &next)

	a.HandleEvent(event.RawEvent{Event: "exit", Process: event.Process{Name: "api"}})
	if a.Queue().Len() != 1 {
		t.Fatalf("exit should be accepted after reload")
	}
	a.queue.Flush()
}

func TestNewAppRejectsBadTemplate(t *testing.T) {
	p := writeConfig(t, "1s")
	b, _ := os.ReadFile(p)
	bad := strings.Replace(string(b), `subject: "{{.process.name}} {{.event}}"`, `subject: "{{.process.name"`, 1)
	if err := os.WriteFile(p, []byte(bad), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewApp(p, "", WithTransport(&mail.Recorder{}), WithLogger(logx.Nop()))
	var ce *config.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("want ConfigError, got %v", err)
	}
	if ce.Path != "subject" {
		t.Fatalf("path: %q", ce.Path)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	a, _, _ := newTestApp(t, "1h")
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Stop(context.Background(), StopSignal); err != nil {
				t.Errorf("Stop: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestRejectedEventsLeaveQueueIdle(t *testing.T) {
	a, _, _ := newTestApp(t, "1h")
	a.HandleEvent(event.RawEvent{Event: "restart", Manually: true, Process: event.Process{Name: "api"}})
	a.HandleEvent(event.RawEvent{Event: "online", Process: event.Process{Name: "api"}})
	if a.Queue().Len() != 0 {
		t.Fatalf("queue should stay empty, got %d", a.Queue().Len())
	}
	if st := a.Queue().State(); st.Phase != batch.Idle {
		t.Fatalf("state: %v", st.Phase)
	}
}
