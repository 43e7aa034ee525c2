package storage

import (
	"context"
	"fmt"
	"time"

	logx "procnotify/pkg/logx"

	"github.com/robfig/cron/v3"
)

const DefaultPruneSchedule = "@daily"

// Pruner deletes audit records older than the retention on a cron schedule.
type Pruner struct {
	st        Store
	retention time.Duration
	log       logx.Logger
	cron      *cron.Cron
	now       func() time.Time
}

func NewPruner(st Store, schedule string, retention time.Duration, log logx.Logger) (*Pruner, error) {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	p := &Pruner{
		st:        st,
		retention: retention,
		log:       log.With(logx.String("comp", "storage.pruner")),
		cron:      cron.New(),
		now:       time.Now,
	}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

func (p *Pruner) Start() { p.cron.Start() }

// Stop stops the schedule and waits for a running prune until ctx ends.
func (p *Pruner) Stop(ctx context.Context) {
	done := p.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce prunes now. A zero retention keeps everything.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	if p.st == nil || p.retention <= 0 {
		return 0, nil
	}
	return p.st.PruneBefore(ctx, p.now().Add(-p.retention))
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := p.RunOnce(ctx)
	if err != nil {
		p.log.Warn("audit prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		p.log.Info("audit records pruned", logx.Int64("deleted", n), logx.Duration("retention", p.retention))
	}
}
