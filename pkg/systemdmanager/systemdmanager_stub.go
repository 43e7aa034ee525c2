//go:build !linux

package systemdmanager

import "context"

// Manager is unavailable outside linux.
type Manager struct{}

func NewManager(ctx context.Context) (*Manager, error) { return nil, ErrUnsupported }

func (m *Manager) Close() error { return nil }

func (m *Manager) Status(ctx context.Context, serviceName string) (UnitStatus, error) {
	return UnitStatus{}, ErrUnsupported
}
