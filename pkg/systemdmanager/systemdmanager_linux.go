//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager handles unit operations over a single D-Bus connection.
type Manager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// New connects to the system bus, or to the user's session manager when user is set.
func New(ctx context.Context, user bool) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		conn *dbus.Conn
		err  error
	)
	if user {
		conn, err = dbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = dbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}

func (m *Manager) connection() (*dbus.Conn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return nil, ErrClosed
	}
	return m.conn, nil
}

// Start, Stop and Restart queue a job in "replace" mode and wait for its result.
func (m *Manager) Start(ctx context.Context, name string) error {
	return m.job(ctx, "start", name)
}

func (m *Manager) Stop(ctx context.Context, name string) error {
	return m.job(ctx, "stop", name)
}

func (m *Manager) Restart(ctx context.Context, name string) error {
	return m.job(ctx, "restart", name)
}

func (m *Manager) job(ctx context.Context, action, name string) error {
	conn, err := m.connection()
	if err != nil {
		return err
	}
	unit := UnitName(name)
	done := make(chan string, 1)
	switch action {
	case "start":
		_, err = conn.StartUnitContext(ctx, unit, "replace", done)
	case "stop":
		_, err = conn.StopUnitContext(ctx, unit, "replace", done)
	default:
		_, err = conn.RestartUnitContext(ctx, unit, "replace", done)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, unit, err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("failed to %s %s: job %s", action, unit, result)
		}
	}
	return nil
}

// Status reads the unit's properties. A missing unit is reported with
// LoadState "not-found" rather than an error.
func (m *Manager) Status(ctx context.Context, name string) (*ServiceStatus, error) {
	conn, err := m.connection()
	if err != nil {
		return nil, err
	}
	unit := UnitName(name)
	props, err := conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return notFound(unit), nil
		}
		return nil, fmt.Errorf("failed to get status for %s: %w", unit, err)
	}
	st := statusFromProps(unit, props)
	if st.Found() {
		st.Enabled = m.enabled(ctx, conn, unit)
	}
	return st, nil
}

func (m *Manager) enabled(ctx context.Context, conn *dbus.Conn, unit string) bool {
	states, err := conn.ListUnitFilesByPatternsContext(ctx, nil, []string{unit})
	if err != nil {
		return false
	}
	for _, s := range states {
		if s.Path == unit || strings.HasSuffix(s.Path, "/"+unit) {
			return s.Type == "enabled"
		}
	}
	return false
}
