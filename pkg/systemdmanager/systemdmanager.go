// Package systemdmanager reads systemd unit state over D-Bus and turns
// polled state into change events.
package systemdmanager

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

// UnitStatus is the subset of unit state the watcher compares.
type UnitStatus struct {
	Name      string
	Active    string // active, inactive, failed, activating, ...
	SubState  string // running, dead, auto-restart, ...
	LoadState string // loaded, not-found, ...
	MainPID   uint32
	NRestarts uint32
}

// NotFound reports whether the unit does not exist.
func (s UnitStatus) NotFound() bool { return s.LoadState == "not-found" }

// UnitEvent is a unit state change observed between two polls.
type UnitEvent struct {
	Unit      string
	Old       UnitStatus
	New       UnitStatus
	Timestamp time.Time
}

// StatusFunc fetches the current status of one unit (name without ".service").
type StatusFunc func(ctx context.Context, unit string) (UnitStatus, error)

// Watcher polls units and reports ActiveState or restart-counter changes.
type Watcher struct {
	status   StatusFunc
	units    []string
	interval time.Duration
	// maxFailures consecutive polls where every unit errored end Run.
	maxFailures int
	now         func() time.Time
}

func NewWatcher(status StatusFunc, units []string, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{
		status:      status,
		units:       append([]string(nil), units...),
		interval:    interval,
		maxFailures: 3,
		now:         time.Now,
	}
}

// Run polls until ctx is done (returns nil) or the status backend keeps
// failing for every unit (returns the last error).
func (w *Watcher) Run(ctx context.Context, emit func(UnitEvent)) error {
	prev := make(map[string]UnitStatus, len(w.units))
	if _, err := w.poll(ctx, prev, nil); err != nil && ctx.Err() == nil {
		return err
	}

	t := time.NewTicker(w.interval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		ok, err := w.poll(ctx, prev, emit)
		if ctx.Err() != nil {
			return nil
		}
		if ok {
			failures = 0
			continue
		}
		failures++
		if failures >= w.maxFailures {
			return fmt.Errorf("systemd status unavailable after %d polls: %w", failures, err)
		}
	}
}

// poll refreshes prev and emits changes. ok is false when every unit failed.
func (w *Watcher) poll(ctx context.Context, prev map[string]UnitStatus, emit func(UnitEvent)) (ok bool, lastErr error) {
	if len(w.units) == 0 {
		return true, nil
	}
	for _, u := range w.units {
		st, err := w.status(ctx, u)
		if err != nil {
			lastErr = err
			continue
		}
		ok = true
		old, seen := prev[u]
		prev[u] = st
		if !seen || emit == nil {
			continue
		}
		if old.Active != st.Active || old.NRestarts != st.NRestarts {
			emit(UnitEvent{Unit: u, Old: old, New: st, Timestamp: w.now()})
		}
	}
	return ok, lastErr
}
