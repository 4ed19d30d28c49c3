package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// RunRecord is one stage execution attempt.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID         string    `json:"id"`
	Job        string    `json:"job"`
	Stage      int       `json:"stage"`
	Command    string    `json:"command"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
	ExitCode   int       `json:"exit_code"`
	Bytes      int       `json:"bytes"`
	Error      string    `json:"error,omitempty"`
}

// OK reports whether the stage launched and exited zero.
func (r RunRecord) OK() bool { return r.Error == "" && r.ExitCode == 0 }
