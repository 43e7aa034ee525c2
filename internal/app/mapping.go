package app

import (
	"os"
	"strings"
	"time"

	"procnotify/internal/batch"
	"procnotify/internal/config"
	"procnotify/internal/event"
	"procnotify/internal/notifier"
	"procnotify/internal/render"
	"procnotify/internal/storage"
	logx "procnotify/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config, dir string) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    config.ResolvePath(dir, lc.File.Path),
		},
		Mail: logx.MailConfig{
			Enabled:       lc.Mail.Enabled,
			MinLevel:      lc.Mail.MinLevel,
			RatePerMinute: lc.Mail.RatePerMinute,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{
		From:   strings.TrimSpace(cfg.Mail.From),
		Client: config.SplitList(cfg.Mail.Client),
		Tech:   config.SplitList(cfg.Mail.Tech),
	}
	if cfg.Notifier == nil {
		return out, nil
	}
	nc := cfg.Notifier
	timeout, err := config.ParseDurationOrDefault("notifier.send_timeout", nc.SendTimeout, 30*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	out.Workers = nc.Workers
	out.QueueSize = nc.QueueSize
	out.RatePerSec = nc.RatePerSec
	out.SendTimeout = timeout
	return out, nil
}

// storagePlan is storage.Config plus the pruning schedule around it.
type storagePlan struct {
	store     storage.Config
	retention time.Duration
	schedule  string
}

func mapStorageConfig(cfg *config.Config, dir string) (storagePlan, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storagePlan{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storagePlan{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storagePlan{}, false, err
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storagePlan{}, false, err
	}
	path := strings.TrimSpace(sc.Path)
	if path != "" {
		path = config.ResolvePath(dir, path)
	}
	return storagePlan{
		store: storage.Config{
			Driver:      driver,
			Path:        path,
			DSN:         strings.TrimSpace(sc.DSN),
			BusyTimeout: busy,
		},
		retention: retention,
		schedule:  strings.TrimSpace(sc.PruneSchedule),
	}, true, nil
}

func mapBatchPolicy(cfg *config.Config) batch.Policy {
	return batch.Policy{
		Debounce: cfg.Polling.Duration(),
		MaxWait:  cfg.MaxPollingTime.Duration(),
	}
}

// buildEnricher reads the body template and checks every template against r.
func buildEnricher(cfg *config.Config, dir string, r *render.Renderer) (*event.Enricher, error) {
	body, err := config.BodyTemplate(cfg, dir)
	if err != nil {
		return nil, err
	}
	tpl := event.Templates{
		Subject:         cfg.Subject,
		MultipleSubject: cfg.MultipleSubject,
		Body:            body,
	}
	for _, c := range []struct{ path, src string }{
		{"subject", tpl.Subject},
		{"multiple_subject", tpl.MultipleSubject},
		{"template", tpl.Body},
	} {
		if err := r.Check(c.src); err != nil {
			return nil, &config.ConfigError{Path: c.path, Err: err}
		}
	}
	host := strings.TrimSpace(cfg.Hostname)
	if host == "" {
		host, _ = os.Hostname()
	}
	return event.NewEnricher(event.EnricherConfig{
		Hostname:   host,
		DateFormat: cfg.DateFormat,
		AttachLogs: cfg.AttachLogs,
		Templates:  tpl,
	}, r), nil
}
