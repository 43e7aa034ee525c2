package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"procnotify/internal/config"

	gomail "github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 15 * time.Second

// SMTP sends through an SMTP relay. Port 465 (or secure: true) uses implicit
// TLS; other ports negotiate STARTTLS per tls_policy.
type SMTP struct {
	host string
	opts []gomail.Option
}

func NewSMTP(cfg config.SMTPConfig) (*SMTP, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("smtp: host is required")
	}
	timeout, err := config.ParseDurationOrDefault("smtp.timeout", cfg.Timeout, defaultSMTPTimeout)
	if err != nil {
		return nil, err
	}

	policy := gomail.TLSOpportunistic
	switch strings.ToLower(cfg.TLSPolicy) {
	case "mandatory":
		policy = gomail.TLSMandatory
	case "none":
		policy = gomail.NoTLS
	}

	port := cfg.Port
	if port == 0 {
		port = 587
		if cfg.Secure {
			port = 465
		}
	}

	opts := []gomail.Option{
		gomail.WithTLSPolicy(policy),
		gomail.WithPort(port),
		gomail.WithTimeout(timeout),
	}
	if cfg.Secure || port == 465 {
		opts = append(opts, gomail.WithSSL())
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	if cfg.SkipVerify {
		opts = append(opts, gomail.WithTLSConfig(&tls.Config{ServerName: cfg.Host, InsecureSkipVerify: true}))
	}
	return &SMTP{host: cfg.Host, opts: opts}, nil
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) Send(ctx context.Context, m *Message) error {
	if err := validate(m); err != nil {
		return err
	}
	msg, missing, err := buildMsg(m)
	if err != nil {
		return fmt.Errorf("smtp: build message: %w", err)
	}
	if len(missing) > 0 {
		return &MissingAttachmentsError{Paths: missing, Err: s.send(ctx, msg)}
	}
	return s.send(ctx, msg)
}

func (s *SMTP) send(ctx context.Context, msg *gomail.Msg) error {
	c, err := gomail.NewClient(s.host, s.opts...)
	if err != nil {
		return fmt.Errorf("smtp: client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp: send: %w", err)
	}
	return nil
}
