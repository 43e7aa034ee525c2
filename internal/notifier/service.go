package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"procnotify/internal/event"
	"procnotify/internal/eventbus"
	"procnotify/internal/mail"
	"procnotify/internal/render"
	rtsup "procnotify/internal/runtime/supervisor"
	"procnotify/internal/storage"
	logx "procnotify/pkg/logx"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type job struct {
	id  string
	req event.Request
}

// Service implements the async delivery pipeline:
// queue + worker pool + rate limit + per-send timeout.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log       logx.Logger
	transport mail.Transport
	bus       eventbus.Bus
	store     storage.Store

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping
}

func New(cfg Config, tr mail.Transport, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	s := &Service{
		transport: tr,
		log:       log.With(logx.String("comp", "notifier")),
		bus:       bus,
		store:     store,
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetTransport swaps the mail transport for subsequent deliveries.
func (s *Service) SetTransport(tr mail.Transport) {
	s.mu.Lock()
	s.transport = tr
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	// If stopping, wait for it to finish before restarting.
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// delivery failures must not take down the app
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			// Clean exits happen on shutdown (queue close).
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping || c.Err() != nil {
				return nil
			}
			return errors.New("notifier worker exited unexpectedly")
		})
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	// Shutdown happens asynchronously so callers can time out without leaking state.
	go func() {
		defer close(done)
		// Wait for in-flight submits, then close the queue so workers drain it.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pending := len(q)
		sup.Cancel()
		s.log.Warn("notifier stop timed out; pending deliveries abandoned", logx.Int("pending", pending))
	}
}

// Submit validates req and queues it without blocking.
func (s *Service) Submit(req event.Request) error {
	if err := Validate(req); err != nil {
		return err
	}

	s.mu.Lock()
	if len(s.cfg.Client) == 0 && len(s.cfg.Tech) == 0 {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	j := job{id: uuid.NewString(), req: req}
	select {
	case q <- j:
		s.publish(eventbus.TypeNotifyQueued, j.id, "", req, nil)
		return nil
	default:
		s.publish(eventbus.TypeNotifyDropped, j.id, "", req, ErrQueueFull)
		return ErrQueueFull
	}
}

// Validate checks that req has both subject and text.
func Validate(req event.Request) error {
	if strings.TrimSpace(req.Subject) == "" {
		return &ValidationError{Field: "subject"}
	}
	if strings.TrimSpace(req.Text) == "" {
		return &ValidationError{Field: "text"}
	}
	return nil
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.mu.Lock()
			lim := s.limiter
			s.mu.Unlock()
			if err := lim.Wait(ctx); err != nil {
				return
			}
			if _, err := s.deliver(ctx, j.id, j.req); err != nil {
				s.log.Warn("notification delivery incomplete",
					logx.String("id", j.id),
					logx.String("subject", j.req.Subject),
					logx.Err(err),
				)
			}
		}
	}
}

// Deliver sends req to every configured audience and waits for both.
// The returned error joins any *ValidationError or *DeliveryError.
func (s *Service) Deliver(ctx context.Context, req event.Request) (Result, error) {
	return s.deliver(ctx, uuid.NewString(), req)
}

func (s *Service) deliver(ctx context.Context, id string, req event.Request) (Result, error) {
	res := Result{ID: id}
	if err := Validate(req); err != nil {
		return res, err
	}

	s.mu.Lock()
	cfg := s.cfg
	tr := s.transport
	s.mu.Unlock()
	if tr == nil {
		return res, ErrDisabled
	}

	from := req.From
	if from == "" {
		from = cfg.From
	}
	html, err := render.HTML(req.Subject, req.Text)
	if err != nil {
		s.log.Warn("html rendering failed; sending text only", logx.Err(err))
		html = ""
	}

	type audience struct {
		name string
		to   []string
		atts []event.Attachment
	}
	var auds []audience
	if len(cfg.Client) > 0 {
		auds = append(auds, audience{name: AudienceClient, to: cfg.Client})
	}
	if len(cfg.Tech) > 0 {
		auds = append(auds, audience{name: AudienceTech, to: cfg.Tech, atts: req.Attachments})
	}

	res.Audiences = make([]AudienceResult, len(auds))
	var g errgroup.Group
	for i, a := range auds {
		g.Go(func() error {
			msg := &mail.Message{
				From:        from,
				To:          a.to,
				Subject:     req.Subject,
				Text:        req.Text,
				HTML:        html,
				Attachments: a.atts,
			}
			res.Audiences[i] = s.sendOne(ctx, tr, cfg.SendTimeout, id, a.name, msg, req.Events)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, ar := range res.Audiences {
		if ar.Err != nil {
			errs = append(errs, ar.Err)
		}
	}
	return res, errors.Join(errs...)
}

func (s *Service) sendOne(ctx context.Context, tr mail.Transport, timeout time.Duration, id, aud string, msg *mail.Message, events int) AudienceResult {
	ar := AudienceResult{Audience: aud, Recipients: msg.To}
	sctx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	err := tr.Send(sctx, msg)
	cancel()
	ar.Took = time.Since(start)

	req := event.Request{Subject: msg.Subject, Events: events}
	if !mail.Sent(err) {
		ar.Err = &DeliveryError{Audience: aud, Transport: tr.Name(), Err: err}
		s.publish(eventbus.TypeNotifyFailed, id, aud, req, ar.Err)
	} else {
		if err != nil {
			s.log.Warn("attachments skipped", logx.String("audience", aud), logx.Err(err))
		}
		s.publish(eventbus.TypeNotifySent, id, aud, req, nil)
		s.log.Info("notification sent",
			logx.String("id", id),
			logx.String("audience", aud),
			logx.Int("recipients", len(msg.To)),
			logx.Int("attachments", len(msg.Attachments)),
			logx.Duration("took", ar.Took),
		)
	}
	s.audit(id, aud, tr.Name(), msg, events, ar)
	return ar
}

func (s *Service) audit(id, aud, transport string, msg *mail.Message, events int, ar AudienceResult) {
	s.mu.Lock()
	st := s.store
	s.mu.Unlock()
	if st == nil {
		return
	}
	d := storage.Delivery{
		ID:          id + "-" + aud,
		At:          time.Now(),
		Audience:    aud,
		Transport:   transport,
		Recipients:  msg.To,
		Subject:     msg.Subject,
		Events:      events,
		Attachments: len(msg.Attachments),
		OK:          ar.Err == nil,
		TookMS:      ar.Took.Milliseconds(),
	}
	if ar.Err != nil {
		d.Error = ar.Err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.AppendDelivery(ctx, d); err != nil {
		s.log.Warn("audit append failed", logx.Err(err))
	}
}

// SetStore swaps the audit store (nil disables auditing).
func (s *Service) SetStore(st storage.Store) {
	s.mu.Lock()
	s.store = st
	s.mu.Unlock()
}

// SendLog mails a log line to the tech audience. It bypasses the queue and
// never logs, so a failing transport cannot feed back into the log sink.
func (s *Service) SendLog(ctx context.Context, subject, body string) error {
	s.mu.Lock()
	cfg := s.cfg
	tr := s.transport
	s.mu.Unlock()
	if tr == nil || len(cfg.Tech) == 0 {
		return ErrDisabled
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	return tr.Send(sctx, &mail.Message{From: cfg.From, To: cfg.Tech, Subject: subject, Text: body})
}

func (s *Service) publish(typ, id, aud string, req event.Request, err error) {
	ev := NotificationEvent{ID: id, Audience: aud, Subject: req.Subject, Events: req.Events, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.Publish(s.bus, typ, ev)
}
