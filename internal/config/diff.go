package config

import (
	"bytes"
	"encoding/json"
)

// Section names reported by Changed.
const (
	SectionBatch     = "batch"
	SectionRender    = "render"
	SectionTransport = "transport"
	SectionMail      = "mail"
	SectionSource    = "source"
	SectionNotifier  = "notifier"
	SectionStorage   = "storage"
	SectionLogging   = "logging"
)

// Changed lists the sections that differ between old and next. A nil old
// reports every section.
func Changed(old, next *Config) map[string]bool {
	out := map[string]bool{}
	if next == nil {
		return out
	}
	type pair struct {
		name string
		a, b any
	}
	var zero Config
	o := old
	if o == nil {
		o = &zero
	}
	pairs := []pair{
		{SectionBatch, []any{o.Events, o.Polling, o.MaxPollingTime}, []any{next.Events, next.Polling, next.MaxPollingTime}},
		{SectionRender, []any{o.Subject, o.MultipleSubject, o.Template, o.TemplateInline, o.AttachLogs, o.Hostname, o.DateFormat},
			[]any{next.Subject, next.MultipleSubject, next.Template, next.TemplateInline, next.AttachLogs, next.Hostname, next.DateFormat}},
		{SectionTransport, []any{o.Transport, o.SMTP}, []any{next.Transport, next.SMTP}},
		{SectionMail, o.Mail, next.Mail},
		{SectionSource, o.Source, next.Source},
		{SectionNotifier, o.Notifier, next.Notifier},
		{SectionStorage, o.Storage, next.Storage},
		{SectionLogging, o.Logging, next.Logging},
	}
	for _, p := range pairs {
		if old == nil || !sameJSON(p.a, p.b) {
			out[p.name] = true
		}
	}
	return out
}

func sameJSON(a, b any) bool {
	ja, err1 := json.Marshal(a)
	jb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
