package batch

import (
	"sync"
	"time"

	"procnotify/internal/event"
	"procnotify/internal/eventbus"
	logx "procnotify/pkg/logx"
)

// Sink receives the request built by a flush. It is called with the queue
// lock held, in flush order, so it must not block or call back into the
// Queue. Errors are the sink's own to log; nothing is re-queued.
type Sink func(req event.Request)

// Config is the live-reloadable part of a Queue.
type Config struct {
	Policy       Policy
	GroupSubject SubjectFunc
}

// FlushInfo is published on the bus for every non-empty flush.
type FlushInfo struct {
	Events  int
	Forced  bool
	Subject string
}

type Option func(*Queue)

func WithClock(c Clock) Option { return func(q *Queue) { q.clock = c } }

func WithLogger(log logx.Logger) Option {
	return func(q *Queue) { q.log = log.With(logx.String("comp", "batch")) }
}

func WithBus(b eventbus.Bus) Option { return func(q *Queue) { q.bus = b } }

// Queue buffers enriched events and flushes them as one request per burst.
// All methods are safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	cfg    Config
	sink   Sink
	clock  Clock
	log    logx.Logger
	bus    eventbus.Bus
	state  State
	events []event.Enriched
	timer  Timer
	// gen invalidates timer callbacks that lost a race with Stop.
	gen uint64
}

func New(cfg Config, sink Sink, opts ...Option) *Queue {
	q := &Queue{cfg: cfg, sink: sink, clock: RealClock()}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Apply swaps policy and group subject. An armed timer keeps its delay;
// the new policy applies from the next enqueue.
func (q *Queue) Apply(cfg Config) {
	q.mu.Lock()
	q.cfg = cfg
	q.mu.Unlock()
}

// Enqueue appends ev and restarts the debounce, or flushes immediately when
// the burst has reached MaxWait.
func (q *Queue) Enqueue(ev event.Enriched) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	q.step(InputEnqueue)
}

// Flush drains the queue now. It reports whether a request was produced.
func (q *Queue) Flush() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.step(InputFlush)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *Queue) fire(gen uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		q.log.Trace("stale timer ignored")
		return
	}
	q.timer = nil
	q.step(InputTimerFired)
}

// step must be called with mu held.
func (q *Queue) step(in Input) (flushed bool) {
	next, actions := Transition(q.state, in, q.clock.Now(), q.cfg.Policy)
	q.state = next
	for _, a := range actions {
		switch a.Kind {
		case ActionCancelTimer:
			q.cancelTimer()
		case ActionArmTimer:
			q.armTimer(a.Delay)
		case ActionFlush:
			if q.flushLocked(a.Forced) {
				flushed = true
			}
		}
	}
	return flushed
}

func (q *Queue) cancelTimer() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.gen++
}

func (q *Queue) armTimer(d time.Duration) {
	q.gen++
	gen := q.gen
	q.timer = q.clock.AfterFunc(d, func() { q.fire(gen) })
}

func (q *Queue) flushLocked(forced bool) bool {
	events := q.events
	q.events = nil
	q.state = State{Phase: Idle}

	req, ok, err := Merge(events, q.cfg.GroupSubject)
	if err != nil {
		q.log.Error("flush abandoned", logx.Int("events", len(events)), logx.Err(err))
		return false
	}
	if !ok {
		return false
	}

	info := FlushInfo{Events: req.Events, Forced: forced, Subject: req.Subject}
	typ := eventbus.TypeBatchFlushed
	if forced {
		typ = eventbus.TypeBatchForced
	}
	eventbus.Publish(q.bus, typ, info)
	q.log.Debug("batch flushed",
		logx.Int("events", req.Events),
		logx.Int("attachments", len(req.Attachments)),
		logx.Bool("forced", forced),
	)

	if q.sink != nil {
		q.sink(req)
	}
	return true
}
