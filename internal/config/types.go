package config

// Config is the on-disk document. TOML and YAML files are coerced to JSON first,
// so the json tags are the canonical key names for every format.
//
// Jobs live under "system" and ad-hoc commands under "command", keyed by name:
//
//	[system.backup]
//	description = "nightly rsync"
//	shell = "bash"
//	stages = ["rsync -a ~/src /mnt/backup"]
//	schedules = ["00:01:00:00:00"]
type Config struct {
	Settings SettingsConfig           `json:"settings"`
	Logging  LoggingConfig            `json:"logging,omitempty"`
	Storage  *StorageConfig           `json:"storage,omitempty"`
	Control  ControlConfig            `json:"control,omitempty"`
	Debug    DebugConfig              `json:"debug,omitempty"`
	System   map[string]SystemConfig  `json:"system,omitempty"`
	Command  map[string]CommandConfig `json:"command,omitempty"`
}

// SettingsConfig holds daemon-wide knobs.
//
// Defaults (when fields are omitted/zero):
//   - threads: 1
//   - default_row_length: 4
//   - timezone: "UTC"
//   - log_retention_days: 0 (keep forever)
//   - watch_config: false
type SettingsConfig struct {
	Threads          uint   `json:"threads"`
	DefaultRowLength uint   `json:"default_row_length"`
	Timezone         string `json:"timezone,omitempty"`
	LogRetentionDays int    `json:"log_retention_days,omitempty"`
	WatchConfig      bool   `json:"watch_config,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console *bool             `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the run-history backend.
//
// Driver values: "file" (default), "sqlite", "none".
// Path is relative to the config root when not absolute.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type ControlConfig struct {
	Socket string `json:"socket,omitempty"`
}

// DebugConfig enables the HTTP debug endpoint (pprof, /status). Off when Addr is empty.
// A non-loopback Addr requires Token unless AllowInsecure is set.
type DebugConfig struct {
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// SystemConfig declares one scheduled job. Stages and schedules are paired by index.
type SystemConfig struct {
	Description string   `json:"description"`
	Shell       string   `json:"shell"`
	Stages      []string `json:"stages"`
	Schedules   []string `json:"schedules"`
}

// CommandConfig declares an ad-hoc command run on demand by the client.
//
// A stage may start with a parameter block: "%[color:cyan,o:l6;-s] ls".
type CommandConfig struct {
	Description string   `json:"description"`
	Shell       string   `json:"shell"`
	Stages      []string `json:"stages"`
}
