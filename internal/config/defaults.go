package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// EnvHome overrides the config root (default ~/.toaster).
	EnvHome = "TOASTER_HOME"
	// EnvSocket overrides the control socket path.
	EnvSocket = "TOASTER_SOCKET"

	DefaultFileName = "toaster.toml"
	defaultRootName = ".toaster"
)

// DefaultTOML is written on first start when no config file exists.
const DefaultTOML = `# toaster configuration

[settings]
threads = 1
default_row_length = 4
timezone = "UTC"
# delete Logs/output-*.log files older than N days (0 keeps everything)
log_retention_days = 0
# reload automatically when this file changes
watch_config = false

[logging]
level = "info"
console = true

[storage]
# file | sqlite | none
driver = "file"

# HTTP debug endpoint with pprof and /status; disabled when addr is empty.
# [debug]
# addr = "127.0.0.1:6060"
# token = ""

# Each system runs its stages forever. stages and schedules are paired by index;
# a schedule is month:day:hour:minute:second (a month counts as 30 days).
#
# [system.testing]
# description = "says hola every 30 seconds"
# shell = "sh"
# stages = ["echo Hola!"]
# schedules = ["00:00:00:00:30"]

# Commands are run on demand with "toaster run <name>".
#
# [command.listing]
# description = "list files"
# shell = "sh"
# stages = ["%[color:cyan,o:l6] ls"]
`

// DefaultRoot returns $TOASTER_HOME or ~/.toaster.
func DefaultRoot() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvHome)); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, defaultRootName), nil
}

// DefaultPath returns <root>/toaster.toml.
func DefaultPath() (string, error) {
	root, err := DefaultRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, DefaultFileName), nil
}

// EnsureDefault creates the config directory, its Logs/ directory and, if path
// does not exist yet, a default config file. It reports whether the file was created.
func EnsureDefault(path string) (bool, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(filepath.Join(dir, LogDirName), 0o755); err != nil {
		return false, fmt.Errorf("create config root: %w", err)
	}
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create default config: %w", err)
	}
	if _, err := f.WriteString(DefaultTOML); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("write default config: %w", err)
	}
	return true, f.Close()
}
