package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
)

// ConfigError reports a missing or malformed configuration value. It is
// fatal at startup; during a reload the previous config stays active.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Path == "" {
		return "config: " + e.Err.Error()
	}
	return "config: " + e.Path + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

func invalid(path, format string, args ...any) error {
	return &ConfigError{Path: path, Err: fmt.Errorf(format, args...)}
}

// Validate checks the structural validity of cfg. dir resolves relative
// template paths. Template syntax is checked by the caller.
func Validate(cfg *Config, dir string) error {
	if cfg == nil {
		return &ConfigError{Err: errors.New("config is nil")}
	}
	if len(cfg.Events) == 0 {
		return invalid("events", "at least one event type is required")
	}
	for i, e := range cfg.Events {
		if strings.TrimSpace(e) == "" {
			return invalid(fmt.Sprintf("events[%d]", i), "must not be empty")
		}
	}
	if strings.TrimSpace(cfg.Subject) == "" {
		return invalid("subject", "required")
	}
	if strings.TrimSpace(cfg.MultipleSubject) == "" {
		return invalid("multiple_subject", "required")
	}
	if cfg.Polling.Duration() <= 0 {
		return invalid("polling", "must be > 0")
	}
	if cfg.MaxPollingTime.Duration() < 0 {
		return invalid("max_polling_time", "must be >= 0")
	}
	if cfg.TemplateInline == "" && cfg.Template != "" {
		if _, err := os.Stat(ResolvePath(dir, cfg.Template)); err != nil {
			return &ConfigError{Path: "template", Err: err}
		}
	}

	if err := validateMail(cfg.Mail); err != nil {
		return err
	}
	if err := validateTransport(cfg); err != nil {
		return err
	}
	if err := validateSource(cfg.Source); err != nil {
		return err
	}
	if err := validateNotifier(cfg.Notifier); err != nil {
		return err
	}
	if err := validateStorage(cfg.Storage); err != nil {
		return err
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		return invalid("logging.file.path", "required when file logging is enabled")
	}
	return nil
}

func validateMail(m MailConfig) error {
	if strings.TrimSpace(m.From) == "" {
		return invalid("mail.from", "required")
	}
	if _, err := mail.ParseAddress(m.From); err != nil {
		return &ConfigError{Path: "mail.from", Err: err}
	}
	if len(SplitList(m.Client)) == 0 && len(SplitList(m.Tech)) == 0 {
		return invalid("mail", "at least one of client or tech recipients is required")
	}
	for _, f := range []struct{ path, list string }{{"mail.client", m.Client}, {"mail.tech", m.Tech}} {
		for _, addr := range SplitList(f.list) {
			if _, err := mail.ParseAddress(addr); err != nil {
				return &ConfigError{Path: f.path, Err: fmt.Errorf("%q: %w", addr, err)}
			}
		}
	}
	return nil
}

func validateTransport(cfg *Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)) {
	case "", "smtp":
		if strings.TrimSpace(cfg.SMTP.Host) == "" {
			return invalid("smtp.host", "required")
		}
		if cfg.SMTP.Port < 0 || cfg.SMTP.Port > 65535 {
			return invalid("smtp.port", "out of range")
		}
		switch strings.ToLower(cfg.SMTP.TLSPolicy) {
		case "", "opportunistic", "mandatory", "none":
		default:
			return invalid("smtp.tls_policy", "unknown policy %q", cfg.SMTP.TLSPolicy)
		}
		if _, err := ParseDurationField("smtp.timeout", cfg.SMTP.Timeout); err != nil {
			return err
		}
	case "ses":
	case "resend":
		if strings.TrimSpace(cfg.Transport.APIKey) == "" {
			return invalid("transport.api_key", "required for resend")
		}
	default:
		return invalid("transport.driver", "unknown driver %q", cfg.Transport.Driver)
	}
	return nil
}

func validateSource(s SourceConfig) error {
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "", "systemd":
		if s.Systemd == nil || len(s.Systemd.Units) == 0 {
			return invalid("source.systemd.units", "at least one unit is required")
		}
		for i, u := range s.Systemd.Units {
			if strings.TrimSpace(u.Name) == "" {
				return invalid(fmt.Sprintf("source.systemd.units[%d].name", i), "required")
			}
		}
		if _, err := ParseDurationField("source.systemd.poll_interval", s.Systemd.PollInterval); err != nil {
			return err
		}
	case "kafka":
		if s.Kafka == nil || len(SplitList(s.Kafka.Brokers)) == 0 {
			return invalid("source.kafka.brokers", "required")
		}
		if strings.TrimSpace(s.Kafka.Topic) == "" {
			return invalid("source.kafka.topic", "required")
		}
	case "jsonl":
	default:
		return invalid("source.driver", "unknown driver %q", s.Driver)
	}
	return nil
}

func validateNotifier(n *NotifierConfig) error {
	if n == nil {
		return nil
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 {
		return invalid("notifier", "workers, queue_size and rate_per_sec must be >= 0")
	}
	_, err := ParseDurationField("notifier.send_timeout", n.SendTimeout)
	return err
}

func validateStorage(s *StorageConfig) error {
	if s == nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "", "none":
		return nil
	case "file", "sqlite":
		if strings.TrimSpace(s.Path) == "" {
			return invalid("storage.path", "required for %s", s.Driver)
		}
	case "postgres":
		if strings.TrimSpace(s.DSN) == "" {
			return invalid("storage.dsn", "required for postgres")
		}
	default:
		return invalid("storage.driver", "unknown driver %q", s.Driver)
	}
	if _, err := ParseDurationField("storage.retention", s.Retention); err != nil {
		return err
	}
	_, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	return err
}

// SplitList splits a comma-separated list and drops empty items.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ResolvePath makes p absolute relative to dir unless it already is.
func ResolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
