// Package systemdmanager controls the toasterd unit through systemd.
package systemdmanager

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultUnit is the unit name used when none is given.
const DefaultUnit = "toaster"

var ErrClosed = errors.New("systemd connection is closed")

// ServiceStatus represents the current state of a unit.
type ServiceStatus struct {
	Name        string
	Active      string // active, inactive, failed, etc.
	SubState    string // running, dead, etc.
	LoadState   string // loaded, not-found, etc.
	Description string
	MainPID     uint32
	Memory      uint64 // in bytes
	Enabled     bool
	ActiveSince time.Time
	StateChange time.Time
}

// Running reports whether the unit is active.
func (s ServiceStatus) Running() bool { return s.Active == "active" }

// Found reports whether systemd knows the unit.
func (s ServiceStatus) Found() bool { return s.LoadState != "not-found" }

// Uptime is the time since the unit became active, or zero when it is not.
func (s ServiceStatus) Uptime(now time.Time) time.Duration {
	if !s.Running() || s.ActiveSince.IsZero() {
		return 0
	}
	return now.Sub(s.ActiveSince)
}

// UnitName appends ".service" unless name already has a unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultUnit
	}
	if i := strings.LastIndex(name, "."); i > 0 {
		switch name[i+1:] {
		case "service", "socket", "timer", "target":
			return name
		}
	}
	return name + ".service"
}

func notFound(name string) *ServiceStatus {
	return &ServiceStatus{Name: name, Active: "unknown", SubState: "not-found", LoadState: "not-found"}
}

// statusFromProps builds a status from a unit property map as returned over D-Bus.
func statusFromProps(name string, props map[string]interface{}) *ServiceStatus {
	load, _ := props["LoadState"].(string)
	if load == "not-found" {
		return notFound(name)
	}
	st := &ServiceStatus{Name: name, LoadState: load}
	st.Active, _ = props["ActiveState"].(string)
	st.SubState, _ = props["SubState"].(string)
	st.Description, _ = props["Description"].(string)
	st.MainPID, _ = props["MainPID"].(uint32)
	if mem, ok := props["MemoryCurrent"].(uint64); ok && mem != ^uint64(0) {
		st.Memory = mem
	}
	st.ActiveSince = parseTimestamp(props, "ActiveEnterTimestamp")
	st.StateChange = parseTimestamp(props, "StateChangeTimestamp")
	return st
}

func parseTimestamp(props map[string]interface{}, key string) time.Time {
	if ts, ok := props[key].(uint64); ok && ts > 0 {
		// systemd timestamps are in microseconds since the Unix epoch
		return time.Unix(int64(ts/1_000_000), 0)
	}
	return time.Time{}
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}

// FormatActionResult renders "<action> <unit>: ok" or the error.
func FormatActionResult(unit, action string, err error) string {
	if err != nil {
		return fmt.Sprintf("%s %s: error: %v", action, unit, err)
	}
	return fmt.Sprintf("%s %s: ok", action, unit)
}
