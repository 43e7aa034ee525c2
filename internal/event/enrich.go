package event

import (
	"fmt"
	"path/filepath"
	"time"
)

// DefaultDateFormat matches the classic Date.toString output.
const DefaultDateFormat = "Mon Jan 02 2006 15:04:05 GMT-0700 (MST)"

// Renderer substitutes data into a template string.
type Renderer interface {
	Render(src string, data map[string]any) (string, error)
}

// Templates are the template sources an Enricher renders.
type Templates struct {
	Subject         string
	MultipleSubject string
	Body            string
}

// EnricherConfig configures an Enricher.
type EnricherConfig struct {
	Hostname   string
	DateFormat string
	Location   *time.Location
	AttachLogs bool
	Templates  Templates
}

// Enricher derives Enriched events from raw ones. It is immutable; build a
// new one to change templates.
type Enricher struct {
	cfg EnricherConfig
	r   Renderer
}

func NewEnricher(cfg EnricherConfig, r Renderer) *Enricher {
	if cfg.DateFormat == "" {
		cfg.DateFormat = DefaultDateFormat
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Enricher{cfg: cfg, r: r}
}

// Enrich renders text and subject and derives log attachments. The log
// files themselves are never read here.
func (e *Enricher) Enrich(ev RawEvent) (Enriched, error) {
	out := Enriched{
		Raw:      ev,
		Hostname: e.cfg.Hostname,
	}
	if !ev.At.IsZero() {
		out.Date = ev.At.In(e.cfg.Location).Format(e.cfg.DateFormat)
	}

	data := out.Data()
	text, err := e.r.Render(e.cfg.Templates.Body, data)
	if err != nil {
		return Enriched{}, fmt.Errorf("enrich %s/%s: body: %w", ev.Process.Name, ev.Event, err)
	}
	subject, err := e.r.Render(e.cfg.Templates.Subject, data)
	if err != nil {
		return Enriched{}, fmt.Errorf("enrich %s/%s: subject: %w", ev.Process.Name, ev.Event, err)
	}
	out.Text = text
	out.Subject = subject

	if e.cfg.AttachLogs {
		for _, p := range []string{ev.Process.OutLogPath, ev.Process.ErrLogPath} {
			if p == "" {
				continue
			}
			out.Attachments = append(out.Attachments, Attachment{Filename: filepath.Base(p), Path: p})
		}
	}
	return out, nil
}

// GroupSubject renders the multiple-events subject against first.
func (e *Enricher) GroupSubject(first Enriched) (string, error) {
	s, err := e.r.Render(e.cfg.Templates.MultipleSubject, first.Data())
	if err != nil {
		return "", fmt.Errorf("multiple subject: %w", err)
	}
	return s, nil
}
