package app

import (
	"procnotify/internal/event"
	"procnotify/internal/eventbus"
	logx "procnotify/pkg/logx"
)

// Rejection is published on the bus for every event that is not queued.
type Rejection struct {
	Event  string
	Name   string
	Reason string
}

// HandleEvent filters, enriches and enqueues one raw event.
func (a *App) HandleEvent(ev event.RawEvent) {
	if ok, reason := a.filter.Load().Check(ev); !ok {
		a.log.Trace("event ignored",
			logx.String("event", ev.Event),
			logx.String("process", ev.Process.Name),
			logx.String("reason", reason),
		)
		eventbus.Publish(a.bus, eventbus.TypeEventRejected, Rejection{Event: ev.Event, Name: ev.Process.Name, Reason: reason})
		return
	}
	en, err := a.enricher.Load().Enrich(ev)
	if err != nil {
		a.log.Error("event render failed",
			logx.String("event", ev.Event),
			logx.String("process", ev.Process.Name),
			logx.Err(err),
		)
		eventbus.Publish(a.bus, eventbus.TypeEventRejected, Rejection{Event: ev.Event, Name: ev.Process.Name, Reason: "render"})
		return
	}
	eventbus.Publish(a.bus, eventbus.TypeEventAccepted, ev)
	a.queue.Enqueue(en)
}

// HandleShutdown logs the upstream's shutdown notice. Pending events stay
// queued; the source decides whether the stream ends.
func (a *App) HandleShutdown(reason string) {
	a.log.Warn("event source reported shutdown", logx.String("reason", reason), logx.Int("pending", a.queue.Len()))
}

// submit is the batch sink. It never blocks.
func (a *App) submit(req event.Request) {
	if err := a.notif.Submit(req); err != nil {
		a.log.Error("notification not queued",
			logx.String("subject", req.Subject),
			logx.Int("events", req.Events),
			logx.Err(err),
		)
	}
}
