//go:build linux

package systemdmanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager is a read-only D-Bus connection to the system manager.
type Manager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// NewManager connects to the system bus using ctx for the initial dial.
func NewManager(ctx context.Context) (*Manager, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

// Close closes the systemd connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

// Status returns the state of serviceName (without the ".service" suffix).
// It uses ListUnitsByPatterns for the core state and a Service-typed
// property query for MainPID and NRestarts.
func (m *Manager) Status(ctx context.Context, serviceName string) (UnitStatus, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return UnitStatus{}, errors.New("systemd connection is closed")
	}
	if !conn.Connected() {
		return UnitStatus{}, errors.New("systemd connection lost")
	}

	unitName := serviceName + ".service"
	st := UnitStatus{Name: serviceName}

	units, err := conn.ListUnitsByPatternsContext(ctx, nil, []string{unitName})
	if err != nil {
		return UnitStatus{}, fmt.Errorf("failed to get status for %s: %w", serviceName, err)
	}
	if len(units) == 0 {
		st.Active, st.SubState, st.LoadState = "unknown", "not-found", "not-found"
		return st, nil
	}
	u := units[0]
	for _, x := range units {
		if x.Name == unitName {
			u = x
			break
		}
	}
	st.Active, st.SubState, st.LoadState = u.ActiveState, u.SubState, u.LoadState
	if st.NotFound() {
		return st, nil
	}

	props, err := conn.GetUnitTypePropertiesContext(ctx, unitName, "Service")
	if err != nil {
		if isNoSuchUnitErr(err) {
			return st, nil
		}
		return UnitStatus{}, fmt.Errorf("failed to get service properties for %s: %w", serviceName, err)
	}
	st.MainPID = uint32Prop(props, "MainPID")
	st.NRestarts = uint32Prop(props, "NRestarts")
	return st, nil
}

func uint32Prop(props map[string]interface{}, key string) uint32 {
	switch v := props[key].(type) {
	case uint32:
		return v
	case uint64:
		return uint32(v)
	case int32:
		return uint32(v)
	default:
		return 0
	}
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "NoSuchUnit") || strings.Contains(s, "not loaded")
}
