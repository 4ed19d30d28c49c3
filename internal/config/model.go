package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"toaster/internal/recurrence"
	logx "toaster/pkg/logx"
)

// ErrInvalid is wrapped by every compile failure (malformed settings, job or recurrence).
var ErrInvalid = errors.New("invalid config")

const (
	DefaultThreads     = 1
	DefaultRowLength   = 4
	DefaultTimezone    = "UTC"
	DefaultSocketPath  = "/tmp/toaster.sock"
	DefaultHistoryFile = "history.jsonl"
	DefaultHistoryDB   = "history.db"
	LogDirName         = "Logs"
)

const defaultSQLiteBusyTimeout = 5 * time.Second

// Colors accepted in ad-hoc command stage parameters.
var Colors = []string{"red", "green", "blue", "yellow", "magenta", "cyan", "white", "black", "bright_green", "bright_red"}

// Model is the compiled, read-only configuration. Reloads replace it wholesale.
type Model struct {
	Path string // config file
	Root string // directory holding the config file, Logs/ and history

	Settings Settings
	Jobs     []Job // sorted by name
	Commands []Command

	Logging logx.Config
	Storage Storage
	Socket  string
	Debug   Debug

	Location *time.Location
}

type Settings struct {
	Threads          uint
	DefaultRowLength uint
	Timezone         string
	LogRetentionDays int
	WatchConfig      bool
}

type Debug struct {
	Addr          string // empty disables the endpoint
	Token         string
	AllowInsecure bool
}

func (d Debug) Enabled() bool { return d.Addr != "" }

type Storage struct {
	Driver      string // "file", "sqlite" or "none"
	Path        string
	BusyTimeout time.Duration
}

// Stage is one scheduled shell command. IDs run 1..N in declaration order.
type Stage struct {
	ID      int
	Command string
	Every   recurrence.Spec
}

// Job is a named set of scheduled stages (a "system" in the config file).
type Job struct {
	Name        string
	Description string
	Shell       string
	Stages      []Stage
}

// Clone returns a copy that shares nothing with j.
func (j Job) Clone() Job {
	cp := j
	cp.Stages = append([]Stage(nil), j.Stages...)
	return cp
}

// Command is an on-demand pipeline run by the client, not by the daemon.
type Command struct {
	Name        string
	Description string
	Shell       string
	Stages      []CommandStage
}

type CommandStage struct {
	ID      int
	Command string
	Color   string
	Sort    *SortRules
}

type SortRules struct {
	Sorting      bool
	ItemsPerLine int
}

// LogDir returns <root>/Logs.
func (m *Model) LogDir() string { return filepath.Join(m.Root, LogDirName) }

// Job looks up a job by (case-insensitive) name.
func (m *Model) Job(name string) (Job, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, j := range m.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return Job{}, false
}

// Command looks up an ad-hoc command by (case-insensitive) name.
func (m *Model) Command(name string) (Command, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range m.Commands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// Compile validates cfg and builds the in-memory model. path is the config file
// the document was read from; relative paths are resolved against its directory.
func Compile(cfg *Config, path string) (*Model, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	m := &Model{Path: abs, Root: filepath.Dir(abs)}

	if err := compileSettings(m, cfg.Settings); err != nil {
		return nil, err
	}
	if err := compileLogging(m, cfg.Logging); err != nil {
		return nil, err
	}
	if err := compileStorage(m, cfg.Storage); err != nil {
		return nil, err
	}

	m.Socket = strings.TrimSpace(cfg.Control.Socket)
	if m.Socket == "" {
		m.Socket = DefaultSocketPath
	}
	m.Debug = Debug{
		Addr:          strings.TrimSpace(cfg.Debug.Addr),
		Token:         strings.TrimSpace(cfg.Debug.Token),
		AllowInsecure: cfg.Debug.AllowInsecure,
	}

	seen := map[string]bool{}
	for key, sc := range cfg.System {
		job, err := compileJob(key, sc)
		if err != nil {
			return nil, err
		}
		if seen[job.Name] {
			return nil, fmt.Errorf("%w: system %q declared twice (names are case-insensitive)", ErrInvalid, job.Name)
		}
		seen[job.Name] = true
		m.Jobs = append(m.Jobs, job)
	}
	sort.Slice(m.Jobs, func(i, j int) bool { return m.Jobs[i].Name < m.Jobs[j].Name })

	seen = map[string]bool{}
	for key, cc := range cfg.Command {
		cmd, err := compileCommand(key, cc, int(m.Settings.DefaultRowLength))
		if err != nil {
			return nil, err
		}
		if seen[cmd.Name] {
			return nil, fmt.Errorf("%w: command %q declared twice (names are case-insensitive)", ErrInvalid, cmd.Name)
		}
		seen[cmd.Name] = true
		m.Commands = append(m.Commands, cmd)
	}
	sort.Slice(m.Commands, func(i, j int) bool { return m.Commands[i].Name < m.Commands[j].Name })

	return m, nil
}

func compileSettings(m *Model, sc SettingsConfig) error {
	s := Settings{
		Threads:          sc.Threads,
		DefaultRowLength: sc.DefaultRowLength,
		Timezone:         strings.TrimSpace(sc.Timezone),
		LogRetentionDays: sc.LogRetentionDays,
		WatchConfig:      sc.WatchConfig,
	}
	if s.Threads == 0 {
		s.Threads = DefaultThreads
	}
	if s.DefaultRowLength == 0 {
		s.DefaultRowLength = DefaultRowLength
	}
	if s.Timezone == "" {
		s.Timezone = DefaultTimezone
	}
	if s.LogRetentionDays < 0 {
		return fmt.Errorf("%w: settings.log_retention_days must be >= 0", ErrInvalid)
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return fmt.Errorf("%w: settings.timezone: invalid %q: %v", ErrInvalid, s.Timezone, err)
	}
	m.Settings = s
	m.Location = loc
	return nil
}

func compileLogging(m *Model, lc LoggingConfig) error {
	if !logx.ValidLevel(lc.Level) {
		return fmt.Errorf("%w: logging.level: unknown level %q", ErrInvalid, lc.Level)
	}
	console := true
	if lc.Console != nil {
		console = *lc.Console
	}
	path := strings.TrimSpace(lc.File.Path)
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(m.Root, path)
	}
	m.Logging = logx.Config{
		Level:   lc.Level,
		Console: console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: path},
	}
	return nil
}

func compileStorage(m *Model, sc *StorageConfig) error {
	st := Storage{Driver: "file"}
	if sc != nil {
		if d := strings.ToLower(strings.TrimSpace(sc.Driver)); d != "" {
			st.Driver = d
		}
		st.Path = strings.TrimSpace(sc.Path)
		if raw := strings.TrimSpace(sc.BusyTimeout); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d < 0 {
				return fmt.Errorf("%w: storage.busy_timeout: invalid duration %q", ErrInvalid, raw)
			}
			st.BusyTimeout = d
		}
	}
	switch st.Driver {
	case "none":
		st.Path = ""
	case "file":
		if st.Path == "" {
			st.Path = DefaultHistoryFile
		}
	case "sqlite", "sqlite3":
		st.Driver = "sqlite"
		if st.Path == "" {
			st.Path = DefaultHistoryDB
		}
		if st.BusyTimeout == 0 {
			st.BusyTimeout = defaultSQLiteBusyTimeout
		}
	default:
		return fmt.Errorf("%w: storage.driver: unknown driver %q", ErrInvalid, st.Driver)
	}
	if st.Path != "" && !filepath.IsAbs(st.Path) {
		st.Path = filepath.Join(m.Root, st.Path)
	}
	m.Storage = st
	return nil
}

func compileJob(key string, sc SystemConfig) (Job, error) {
	name := strings.ToLower(strings.TrimSpace(key))
	if name == "" {
		return Job{}, fmt.Errorf("%w: system name is empty", ErrInvalid)
	}
	shell := strings.TrimSpace(sc.Shell)
	if shell == "" {
		return Job{}, fmt.Errorf("%w: system %q: shell is required", ErrInvalid, name)
	}
	if len(sc.Stages) == 0 {
		return Job{}, fmt.Errorf("%w: system %q: at least one stage is required", ErrInvalid, name)
	}
	if len(sc.Stages) != len(sc.Schedules) {
		return Job{}, fmt.Errorf("%w: system %q: %d stages but %d schedules", ErrInvalid, name, len(sc.Stages), len(sc.Schedules))
	}

	job := Job{Name: name, Description: sc.Description, Shell: shell}
	for i, cmd := range sc.Stages {
		every, err := recurrence.Parse(sc.Schedules[i])
		if err != nil {
			return Job{}, fmt.Errorf("%w: system %q stage %d: %v", ErrInvalid, name, i+1, err)
		}
		if strings.TrimSpace(cmd) == "" {
			return Job{}, fmt.Errorf("%w: system %q stage %d: command is empty", ErrInvalid, name, i+1)
		}
		job.Stages = append(job.Stages, Stage{ID: i + 1, Command: cmd, Every: every})
	}
	return job, nil
}

func compileCommand(key string, cc CommandConfig, rowLength int) (Command, error) {
	name := strings.ToLower(strings.TrimSpace(key))
	if name == "" {
		return Command{}, fmt.Errorf("%w: command name is empty", ErrInvalid)
	}
	shell := strings.TrimSpace(cc.Shell)
	if shell == "" {
		return Command{}, fmt.Errorf("%w: command %q: shell is required", ErrInvalid, name)
	}
	cmd := Command{Name: name, Description: cc.Description, Shell: shell}
	for i, raw := range cc.Stages {
		st, err := parseCommandStage(raw, rowLength)
		if err != nil {
			return Command{}, fmt.Errorf("%w: command %q stage %d: %v", ErrInvalid, name, i+1, err)
		}
		if strings.TrimSpace(st.Command) == "" {
			continue
		}
		st.ID = len(cmd.Stages) + 1
		cmd.Stages = append(cmd.Stages, st)
	}
	if len(cmd.Stages) == 0 {
		return Command{}, fmt.Errorf("%w: command %q has no stages", ErrInvalid, name)
	}
	return cmd, nil
}

// parseCommandStage splits an optional "%[params] command" prefix.
//
// Params are comma separated:
//   - color:<name>    output color
//   - o:<flags>       organize output; flags separated by ';':
//     -s   group without sorting
//     l<N> items per line
func parseCommandStage(raw string, rowLength int) (CommandStage, error) {
	st := CommandStage{Command: raw, Color: "white"}
	if !strings.HasPrefix(raw, "%") {
		return st, nil
	}
	rest := strings.TrimPrefix(raw, "%")
	open := strings.Index(rest, "[")
	closeIdx := strings.Index(rest, "]")
	if open < 0 || closeIdx < open {
		return st, fmt.Errorf("malformed parameter block in %q", raw)
	}
	params := rest[open+1 : closeIdx]
	st.Command = strings.TrimSpace(rest[closeIdx+1:])

	for _, p := range strings.Split(params, ",") {
		p = strings.TrimSpace(p)
		switch {
		case p == "":
		case strings.HasPrefix(p, "color:"):
			c := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(p, "color:")))
			if !knownColor(c) {
				return st, fmt.Errorf("unknown color %q", c)
			}
			st.Color = c
		case strings.HasPrefix(p, "o"):
			rules := SortRules{Sorting: true, ItemsPerLine: rowLength}
			flags := strings.TrimPrefix(strings.TrimPrefix(p, "o"), ":")
			for _, f := range strings.Split(flags, ";") {
				f = strings.TrimSpace(f)
				switch {
				case f == "":
				case f == "-s":
					rules.Sorting = false
				case strings.HasPrefix(f, "l"):
					var n int
					if _, err := fmt.Sscanf(f, "l%d", &n); err != nil || n <= 0 {
						return st, fmt.Errorf("invalid items-per-line flag %q", f)
					}
					rules.ItemsPerLine = n
				default:
					return st, fmt.Errorf("unknown output flag %q", f)
				}
			}
			if rules.ItemsPerLine <= 0 {
				rules.ItemsPerLine = DefaultRowLength
			}
			st.Sort = &rules
		default:
			return st, fmt.Errorf("unknown parameter %q", p)
		}
	}
	return st, nil
}

func knownColor(c string) bool {
	for _, k := range Colors {
		if k == c {
			return true
		}
	}
	return false
}
