package source

import (
	"context"
	"time"

	"procnotify/internal/config"
	"procnotify/internal/event"
	"procnotify/pkg/systemdmanager"
	logx "procnotify/pkg/logx"
)

// Systemd turns polled unit state changes into process events.
type Systemd struct {
	units    []config.UnitConfig
	interval time.Duration
	log      logx.Logger
	// status overrides the D-Bus backend in tests.
	status systemdmanager.StatusFunc
}

func NewSystemd(cfg config.SystemdSourceConfig, log logx.Logger) (*Systemd, error) {
	interval, err := config.ParseDurationOrDefault("source.systemd.poll_interval", cfg.PollInterval, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &Systemd{
		units:    append([]config.UnitConfig(nil), cfg.Units...),
		interval: interval,
		log:      log.With(logx.String("comp", "source.systemd")),
	}, nil
}

func (s *Systemd) Name() string { return "systemd" }

func (s *Systemd) Run(ctx context.Context, h Handler) error {
	status := s.status
	if status == nil {
		m, err := systemdmanager.NewManager(ctx)
		if err != nil {
			return &TerminatedError{Source: s.Name(), Reason: "connect failed", Err: err}
		}
		defer m.Close()
		status = m.Status
	}

	names := make([]string, len(s.units))
	byName := make(map[string]int, len(s.units))
	for i, u := range s.units {
		names[i] = u.Name
		byName[u.Name] = i
	}

	w := systemdmanager.NewWatcher(status, names, s.interval)
	err := w.Run(ctx, func(ue systemdmanager.UnitEvent) {
		tag, ok := transitionTag(ue.Old, ue.New)
		if !ok {
			s.log.Trace("unit transition ignored",
				logx.String("unit", ue.Unit),
				logx.String("from", ue.Old.Active),
				logx.String("to", ue.New.Active),
			)
			return
		}
		idx := byName[ue.Unit]
		u := s.units[idx]
		h.HandleEvent(event.RawEvent{
			Event: tag,
			At:    event.Time{Time: ue.Timestamp},
			Process: event.Process{
				Name:       ue.Unit,
				ID:         idx,
				PID:        int(ue.New.MainPID),
				Status:     ue.New.Active + "/" + ue.New.SubState,
				OutLogPath: u.OutLog,
				ErrLogPath: u.ErrLog,
				Restarts:   int(ue.New.NRestarts),
			},
		})
	})
	if err != nil {
		return &TerminatedError{Source: s.Name(), Reason: "connection lost", Err: err}
	}
	return nil
}

// transitionTag maps a unit state change to a process event tag.
//
//	-> active                    online (restart if NRestarts grew while active)
//	active -> activating         restart
//	-> inactive                  stop
//	-> failed                    exit
func transitionTag(old, cur systemdmanager.UnitStatus) (string, bool) {
	switch cur.Active {
	case "active":
		if old.Active == "active" && cur.NRestarts > old.NRestarts {
			return "restart", true
		}
		if old.Active != "active" {
			return "online", true
		}
	case "activating":
		if old.Active == "active" {
			return "restart", true
		}
	case "inactive":
		if old.Active != "inactive" {
			return "stop", true
		}
	case "failed":
		if old.Active != "failed" {
			return "exit", true
		}
	}
	return "", false
}
