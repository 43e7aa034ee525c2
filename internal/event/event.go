// Package event defines process lifecycle events and the filter/enrich steps
// that run before an event is queued.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// RawEvent is a process lifecycle event as delivered by a source.
type RawEvent struct {
	Event    string  `json:"event"`
	Manually bool    `json:"manually,omitempty"`
	At       Time    `json:"at"`
	Process  Process `json:"process"`
}

// Process identifies the process an event refers to.
type Process struct {
	Name       string `json:"name"`
	ID         int    `json:"pm_id"`
	PID        int    `json:"pid,omitempty"`
	Status     string `json:"status,omitempty"`
	OutLogPath string `json:"pm_out_log_path,omitempty"`
	ErrLogPath string `json:"pm_err_log_path,omitempty"`
	// Restarts is the restart counter reported by the source, when known.
	Restarts int `json:"restart_time,omitempty"`
	// Extra holds source-specific fields exposed to templates as-is.
	Extra map[string]any `json:"extra,omitempty"`
}

// Map returns the process fields keyed by their wire names.
func (p Process) Map() map[string]any {
	m := make(map[string]any, 8+len(p.Extra))
	for k, v := range p.Extra {
		m[k] = v
	}
	m["name"] = p.Name
	m["pm_id"] = p.ID
	m["pid"] = p.PID
	m["status"] = p.Status
	m["pm_out_log_path"] = p.OutLogPath
	m["pm_err_log_path"] = p.ErrLogPath
	m["restart_time"] = p.Restarts
	return m
}

// Time is an event timestamp. It decodes from epoch milliseconds or an
// RFC 3339 string and encodes as epoch milliseconds.
type Time struct{ time.Time }

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

func (t *Time) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = msTime(ms)
			return nil
		}
		v, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("event: invalid time %q", s)
		}
		t.Time = v
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("event: invalid time %s", string(b))
	}
	t.Time = msTime(int64(f))
	return nil
}

func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Attachment references a file by path; the transport reads it at send time.
type Attachment struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Enriched is a RawEvent with host identity, rendered text and attachments.
// It is not modified after Enrich returns it.
type Enriched struct {
	Raw         RawEvent
	Hostname    string
	Date        string
	Text        string
	Subject     string
	Attachments []Attachment
}

// Data is the template data for e. Keys mirror the raw event wire names.
func (e Enriched) Data() map[string]any {
	return map[string]any{
		"event":    e.Raw.Event,
		"manually": e.Raw.Manually,
		"at":       e.Raw.At.UnixMilli(),
		"process":  e.Raw.Process.Map(),
		"hostname": e.Hostname,
		"date":     e.Date,
		"text":     e.Text,
		"subject":  e.Subject,
	}
}

// Request is one outbound notification produced by a flush.
type Request struct {
	Subject     string
	Text        string
	Attachments []Attachment
	// From overrides the configured sender when set.
	From string
	// Events is the number of events coalesced into this request.
	Events int
}
