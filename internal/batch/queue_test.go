package batch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"procnotify/internal/event"
	"procnotify/internal/eventbus"
)

type recorder struct {
	mu   sync.Mutex
	reqs []event.Request
	at   []time.Time
	c    *fakeClock
}

func (r *recorder) sink(req event.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	r.at = append(r.at, r.c.now)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func ev(subject, text string, atts ...event.Attachment) event.Enriched {
	return event.Enriched{
		Raw:         event.RawEvent{Event: "restart", Process: event.Process{Name: "api"}},
		Subject:     subject,
		Text:        text,
		Attachments: atts,
	}
}

func groupSubject(first event.Enriched) (string, error) {
	return "group:" + first.Subject, nil
}

func newTestQueue(p Policy) (*Queue, *fakeClock, *recorder) {
	c := newFakeClock()
	r := &recorder{c: c}
	q := New(Config{Policy: p, GroupSubject: groupSubject}, r.sink, WithClock(c))
	return q, c, r
}

func TestBurstFlushesOnceAfterLastEnqueue(t *testing.T) {
	q, c, r := newTestQueue(Policy{Debounce: 5 * time.Second, MaxWait: time.Minute})
	start := c.Now()

	for i, s := range []string{"A", "B", "C", "D"} {
		if i > 0 {
			c.Advance(4 * time.Second)
		}
		q.Enqueue(ev(s, "T"+s))
	}
	if c.live() != 1 {
		t.Fatalf("expected exactly one live timer, got %d", c.live())
	}

	c.Advance(4999 * time.Millisecond)
	if r.count() != 0 {
		t.Fatalf("flushed before the quiet period elapsed")
	}
	c.Advance(time.Millisecond)
	if r.count() != 1 {
		t.Fatalf("flushes=%d want 1", r.count())
	}
	got := r.reqs[0]
	if got.Text != "TATBTCTD" || got.Subject != "group:A" || got.Events != 4 {
		t.Fatalf("request=%+v", got)
	}
	if want := start.Add(17 * time.Second); !r.at[0].Equal(want) {
		t.Fatalf("flushed at %v want %v", r.at[0], want)
	}
	if q.Len() != 0 || q.State().Phase != Idle || !q.State().WindowStart.IsZero() {
		t.Fatalf("queue not reset: len=%d state=%+v", q.Len(), q.State())
	}

	c.Advance(time.Hour)
	if r.count() != 1 {
		t.Fatalf("unexpected extra flush")
	}
}

func TestCeilingForcesFlushDuringSteadyDrip(t *testing.T) {
	q, c, r := newTestQueue(Policy{Debounce: 5 * time.Second, MaxWait: 10 * time.Second})
	start := c.Now()

	var bus = eventbus.New()
	sub, unsub := bus.Subscribe(8)
	defer unsub()
	q.bus = bus

	// One event every 2s never leaves a 5s quiet gap.
	for i := 0; i <= 5; i++ {
		if i > 0 {
			c.Advance(2 * time.Second)
		}
		q.Enqueue(ev("S", "x"))
	}
	if r.count() != 1 {
		t.Fatalf("flushes=%d want 1 forced flush", r.count())
	}
	if r.at[0].Sub(start) > 10*time.Second {
		t.Fatalf("forced flush at +%v exceeds ceiling", r.at[0].Sub(start))
	}
	if r.reqs[0].Events != 6 {
		t.Fatalf("forced flush should include the triggering event, got %d events", r.reqs[0].Events)
	}
	if q.State().Phase != Idle || c.live() != 0 {
		t.Fatalf("forced flush must not rearm: state=%+v live=%d", q.State(), c.live())
	}
	select {
	case e := <-sub:
		if e.Type != eventbus.TypeBatchForced || !e.Data.(FlushInfo).Forced {
			t.Fatalf("bus event=%+v", e)
		}
	default:
		t.Fatalf("expected batch.forced event")
	}

	// The next enqueue starts a fresh window.
	c.Advance(time.Second)
	q.Enqueue(ev("N", "n"))
	if ws := q.State().WindowStart; !ws.Equal(c.Now()) {
		t.Fatalf("new window start=%v want %v", ws, c.Now())
	}
	c.Advance(5 * time.Second)
	if r.count() != 2 || r.reqs[1].Subject != "N" {
		t.Fatalf("second flush=%+v", r.reqs)
	}
}

func TestCeilingCheckedOnlyOnEnqueue(t *testing.T) {
	q, c, r := newTestQueue(Policy{Debounce: 5 * time.Second, MaxWait: 10 * time.Second})
	start := c.Now()
	q.Enqueue(ev("a", "a"))
	c.Advance(4 * time.Second)
	q.Enqueue(ev("b", "b"))
	c.Advance(4 * time.Second)
	q.Enqueue(ev("c", "c")) // +8s, under the ceiling
	c.Advance(time.Minute)
	if r.count() != 1 {
		t.Fatalf("flushes=%d", r.count())
	}
	if got := r.at[0].Sub(start); got != 13*time.Second {
		t.Fatalf("final timer should fire at +13s, got +%v", got)
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	q, _, r := newTestQueue(Policy{Debounce: time.Second})
	if q.Flush() {
		t.Fatalf("empty flush reported a request")
	}
	if q.Flush() || r.count() != 0 {
		t.Fatalf("empty flush produced a request")
	}
}

func TestSingleEventPassesThroughVerbatim(t *testing.T) {
	q, c, r := newTestQueue(Policy{Debounce: time.Second})
	a := event.Attachment{Filename: "out.log", Path: "/l/out.log"}
	q.Enqueue(ev("S1", "T1", a))
	c.Advance(time.Second)
	if r.count() != 1 {
		t.Fatalf("flushes=%d", r.count())
	}
	got := r.reqs[0]
	if got.Subject != "S1" || got.Text != "T1" || len(got.Attachments) != 1 || got.Attachments[0] != a {
		t.Fatalf("request=%+v", got)
	}
}

func TestMultiEventSubjectAndText(t *testing.T) {
	q, c, r := newTestQueue(Policy{Debounce: time.Second})
	q.Enqueue(ev("S1", "T1"))
	q.Enqueue(ev("S2", "T2"))
	c.Advance(time.Second)
	got := r.reqs[0]
	if got.Text != "T1T2" || got.Subject != "group:S1" {
		t.Fatalf("request=%+v", got)
	}
}

func TestAttachmentsDedupedByPath(t *testing.T) {
	q, c, r := newTestQueue(Policy{Debounce: time.Second})
	q.Enqueue(ev("1", "1", event.Attachment{Filename: "A", Path: "/x"}))
	q.Enqueue(ev("2", "2", event.Attachment{Filename: "B", Path: "/x"}, event.Attachment{Filename: "C", Path: "/y"}))
	c.Advance(time.Second)
	want := []event.Attachment{{Filename: "A", Path: "/x"}, {Filename: "C", Path: "/y"}}
	got := r.reqs[0].Attachments
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("attachments=%+v want %+v", got, want)
	}
}

func TestExplicitFlushCancelsTimer(t *testing.T) {
	q, c, r := newTestQueue(Policy{Debounce: 5 * time.Second})
	q.Enqueue(ev("S", "T"))
	if !q.Flush() {
		t.Fatalf("Flush should produce a request")
	}
	if c.live() != 0 {
		t.Fatalf("timer still live after flush")
	}
	c.Advance(time.Minute)
	if r.count() != 1 {
		t.Fatalf("flushes=%d want 1", r.count())
	}
}

func TestStaleTimerCallbackIgnored(t *testing.T) {
	q, c, r := newTestQueue(Policy{Debounce: 5 * time.Second})
	q.Enqueue(ev("a", "a"))
	stale := c.lastTimer()
	q.Enqueue(ev("b", "b"))

	// Simulate the first timer firing after it lost the race with Stop.
	stale.f()
	if r.count() != 0 || q.Len() != 2 {
		t.Fatalf("stale callback flushed: count=%d len=%d", r.count(), q.Len())
	}
	c.Advance(5 * time.Second)
	if r.count() != 1 || r.reqs[0].Events != 2 {
		t.Fatalf("flushes=%+v", r.reqs)
	}
}

func TestGroupSubjectErrorAbandonsFlush(t *testing.T) {
	c := newFakeClock()
	r := &recorder{c: c}
	q := New(Config{
		Policy:       Policy{Debounce: time.Second},
		GroupSubject: func(event.Enriched) (string, error) { return "", errors.New("boom") },
	}, r.sink, WithClock(c))
	q.Enqueue(ev("a", "a"))
	q.Enqueue(ev("b", "b"))
	c.Advance(time.Second)
	if r.count() != 0 {
		t.Fatalf("request delivered despite subject error")
	}
	if q.Len() != 0 || q.State().Phase != Idle {
		t.Fatalf("queue must be drained: len=%d state=%+v", q.Len(), q.State())
	}
}

func TestApplyChangesPolicyForNextBurst(t *testing.T) {
	q, c, r := newTestQueue(Policy{Debounce: 5 * time.Second})
	q.Apply(Config{Policy: Policy{Debounce: time.Second}, GroupSubject: groupSubject})
	q.Enqueue(ev("a", "a"))
	c.Advance(time.Second)
	if r.count() != 1 {
		t.Fatalf("new debounce not applied")
	}
}

func TestConcurrentEnqueue(t *testing.T) {
	q := New(Config{Policy: Policy{Debounce: time.Hour}, GroupSubject: groupSubject}, func(event.Request) {})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				q.Enqueue(ev("s", "t"))
			}
		}()
	}
	wg.Wait()
	if q.Len() != 400 {
		t.Fatalf("len=%d want 400", q.Len())
	}
	if !q.Flush() || q.Len() != 0 {
		t.Fatalf("flush failed")
	}
}
