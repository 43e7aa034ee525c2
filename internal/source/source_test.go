package source

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"procnotify/internal/config"
	"procnotify/internal/event"
	"procnotify/pkg/systemdmanager"
	logx "procnotify/pkg/logx"
)

type recHandler struct {
	mu        sync.Mutex
	events    []event.RawEvent
	shutdowns []string
}

func (h *recHandler) HandleEvent(ev event.RawEvent) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *recHandler) HandleShutdown(reason string) {
	h.mu.Lock()
	h.shutdowns = append(h.shutdowns, reason)
	h.mu.Unlock()
}

func TestDecode(t *testing.T) {
	ev, sd, err := decode([]byte(`{"event":"exit","process":{"name":"api","pm_id":1}}`))
	if err != nil || sd != "" || ev.Event != "exit" || ev.Process.Name != "api" {
		t.Fatalf("ev=%+v sd=%q err=%v", ev, sd, err)
	}
	for _, in := range []string{`{"event":"pm2:kill"}`, `{"type":"kill"}`} {
		if _, sd, err := decode([]byte(in)); err != nil || sd == "" {
			t.Fatalf("%s: expected shutdown, got sd=%q err=%v", in, sd, err)
		}
	}
	if _, _, err := decode([]byte(`{"process":{}}`)); err == nil {
		t.Fatalf("expected missing event error")
	}
	if _, _, err := decode([]byte(`not json`)); err == nil {
		t.Fatalf("expected json error")
	}
}

func TestJSONLRunUntilEOF(t *testing.T) {
	input := strings.Join([]string{
		`{"event":"restart","at":1700000000000,"process":{"name":"api"}}`,
		``,
		`garbage`,
		`{"event":"pm2:kill"}`,
		`{"event":"exit","manually":true,"process":{"name":"api"}}`,
	}, "\n")
	s := NewJSONL("", logx.Nop())
	s.open = func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(input)), nil }

	h := &recHandler{}
	err := s.Run(context.Background(), h)
	if !errors.Is(err, ErrTerminated) {
		t.Fatalf("Run err=%v want ErrTerminated", err)
	}
	var te *TerminatedError
	if !errors.As(err, &te) || te.Reason != "end of input" {
		t.Fatalf("terminated error=%v", err)
	}
	if len(h.events) != 2 || h.events[0].Event != "restart" || !h.events[1].Manually {
		t.Fatalf("events=%+v", h.events)
	}
	if len(h.shutdowns) != 1 || h.shutdowns[0] != "pm2:kill" {
		t.Fatalf("shutdowns=%v", h.shutdowns)
	}
}

func TestJSONLStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewJSONL("", logx.Nop())
	s.open = func() (io.ReadCloser, error) { return pr, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, &recHandler{}) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestTransitionTag(t *testing.T) {
	st := func(active string, restarts uint32) systemdmanager.UnitStatus {
		return systemdmanager.UnitStatus{Active: active, NRestarts: restarts}
	}
	cases := []struct {
		old, cur systemdmanager.UnitStatus
		tag      string
		ok       bool
	}{
		{st("inactive", 0), st("active", 0), "online", true},
		{st("activating", 0), st("active", 1), "online", true},
		{st("active", 0), st("active", 1), "restart", true},
		{st("active", 0), st("activating", 0), "restart", true},
		{st("active", 0), st("inactive", 0), "stop", true},
		{st("deactivating", 0), st("failed", 0), "exit", true},
		{st("active", 0), st("deactivating", 0), "", false},
		{st("inactive", 0), st("activating", 0), "", false},
	}
	for _, tc := range cases {
		tag, ok := transitionTag(tc.old, tc.cur)
		if tag != tc.tag || ok != tc.ok {
			t.Fatalf("%s->%s: got %q,%v want %q,%v", tc.old.Active, tc.cur.Active, tag, ok, tc.tag, tc.ok)
		}
	}
}

func TestSystemdSourceEmitsEvents(t *testing.T) {
	var mu sync.Mutex
	state := systemdmanager.UnitStatus{Name: "api", Active: "active", SubState: "running", MainPID: 10}
	s, err := NewSystemd(config.SystemdSourceConfig{
		Units:        []config.UnitConfig{{Name: "api", OutLog: "/var/log/api.out", ErrLog: "/var/log/api.err"}},
		PollInterval: "5ms",
	}, logx.Nop())
	if err != nil {
		t.Fatalf("NewSystemd: %v", err)
	}
	s.status = func(ctx context.Context, unit string) (systemdmanager.UnitStatus, error) {
		mu.Lock()
		defer mu.Unlock()
		return state, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := &recHandler{}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, h) }()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	state = systemdmanager.UnitStatus{Name: "api", Active: "failed", SubState: "failed"}
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		n := len(h.events)
		h.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no event emitted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run err=%v", err)
	}

	h.mu.Lock()
	ev := h.events[0]
	h.mu.Unlock()
	if ev.Event != "exit" || ev.Process.Name != "api" || ev.Process.ErrLogPath != "/var/log/api.err" {
		t.Fatalf("event=%+v", ev)
	}
}

func TestOpenDrivers(t *testing.T) {
	if _, err := Open(config.SourceConfig{Driver: "jsonl"}, logx.Nop()); err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if _, err := Open(config.SourceConfig{Driver: "kafka", Kafka: &config.KafkaSourceConfig{Brokers: "k:9092", Topic: "t"}}, logx.Nop()); err != nil {
		t.Fatalf("kafka: %v", err)
	}
	if _, err := Open(config.SourceConfig{Driver: "systemd"}, logx.Nop()); err == nil {
		t.Fatalf("systemd without block should fail")
	}
	if _, err := Open(config.SourceConfig{Driver: "zmq"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver should fail")
	}
}
