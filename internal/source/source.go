// Package source connects to the upstream process event stream.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"procnotify/internal/config"
	"procnotify/internal/event"
	logx "procnotify/pkg/logx"
)

// ErrTerminated matches every *TerminatedError.
var ErrTerminated = errors.New("event source terminated")

// TerminatedError means the upstream stream ended. No recovery is attempted.
type TerminatedError struct {
	Source string
	Reason string
	Err    error
}

func (e *TerminatedError) Error() string {
	s := fmt.Sprintf("%s source terminated: %s", e.Source, e.Reason)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *TerminatedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTerminated}
	}
	return []error{ErrTerminated, e.Err}
}

// Handler receives events from a Source. Calls come from a single goroutine.
type Handler interface {
	HandleEvent(ev event.RawEvent)
	// HandleShutdown is the upstream's distinguished shutdown notification.
	HandleShutdown(reason string)
}

// Source streams events to a Handler until ctx ends (nil) or the upstream
// terminates (*TerminatedError). Other errors are transient.
type Source interface {
	Name() string
	Run(ctx context.Context, h Handler) error
}

// Open builds the source selected by cfg.Driver.
func Open(cfg config.SourceConfig, log logx.Logger) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "systemd":
		if cfg.Systemd == nil {
			return nil, fmt.Errorf("source: systemd block is required")
		}
		return NewSystemd(*cfg.Systemd, log)
	case "kafka":
		if cfg.Kafka == nil {
			return nil, fmt.Errorf("source: kafka block is required")
		}
		return NewKafka(*cfg.Kafka, log), nil
	case "jsonl":
		path := ""
		if cfg.JSONL != nil {
			path = cfg.JSONL.Path
		}
		return NewJSONL(path, log), nil
	default:
		return nil, fmt.Errorf("source: unknown driver %q", cfg.Driver)
	}
}

// shutdownTags are message tags treated as the upstream shutting down.
var shutdownTags = map[string]bool{
	"kill":     true,
	"pm2:kill": true,
	"shutdown": true,
}

// decode parses one JSON message. A shutdown message yields a non-empty
// shutdown reason instead of an event.
func decode(b []byte) (ev event.RawEvent, shutdown string, err error) {
	var probe struct {
		Type  string `json:"type"`
		Event string `json:"event"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return event.RawEvent{}, "", err
	}
	for _, tag := range []string{probe.Type, probe.Event} {
		if shutdownTags[tag] {
			return event.RawEvent{}, tag, nil
		}
	}
	if probe.Event == "" {
		return event.RawEvent{}, "", errors.New("missing event type")
	}
	if err := json.Unmarshal(b, &ev); err != nil {
		return event.RawEvent{}, "", err
	}
	return ev, "", nil
}
