// Package mail delivers rendered notifications through a pluggable transport
// (SMTP, AWS SES or Resend).
package mail

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"procnotify/internal/config"
	"procnotify/internal/event"
)

// Message is one email to one audience.
type Message struct {
	From    string
	To      []string
	Subject string
	// Text is the markdown source, sent as the text/plain part.
	Text string
	// HTML is the rendered alternative part; optional.
	HTML        string
	Attachments []event.Attachment
}

// Transport sends a Message.
type Transport interface {
	Name() string
	Send(ctx context.Context, m *Message) error
}

// Open builds the transport selected by cfg.Transport.Driver.
func Open(ctx context.Context, cfg *config.Config) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)) {
	case "", "smtp":
		return NewSMTP(cfg.SMTP)
	case "ses":
		return NewSES(ctx, cfg.Transport.Region)
	case "resend":
		return NewResend(cfg.Transport.APIKey)
	default:
		return nil, fmt.Errorf("mail: unknown transport %q", cfg.Transport.Driver)
	}
}

func validate(m *Message) error {
	if m == nil {
		return fmt.Errorf("mail: nil message")
	}
	if len(m.To) == 0 {
		return fmt.Errorf("mail: no recipients")
	}
	if m.From == "" {
		return fmt.Errorf("mail: no sender")
	}
	return nil
}

// readable splits attachments into those whose file exists and the paths
// that don't.
func readable(atts []event.Attachment) (ok []event.Attachment, missing []string) {
	for _, a := range atts {
		if st, err := os.Stat(a.Path); err != nil || st.IsDir() {
			missing = append(missing, a.Path)
			continue
		}
		ok = append(ok, a)
	}
	return ok, missing
}

// Recorder is an in-memory Transport that keeps every message it is given.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	// Err, when set, is returned for recipients it matches (nil matches all).
	Err   error
	Match func(m *Message) bool
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Send(ctx context.Context, m *Message) error {
	if err := validate(m); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil && (r.Match == nil || r.Match(m)) {
		return r.Err
	}
	cp := *m
	cp.To = append([]string(nil), m.To...)
	cp.Attachments = append([]event.Attachment(nil), m.Attachments...)
	r.msgs = append(r.msgs, cp)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}
