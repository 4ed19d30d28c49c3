package config

import (
	"reflect"
	"sort"

	logx "toaster/pkg/logx"
)

// Summarize returns (1) a compact list of changed sections,
// (2) structured attrs for logging, and (3) the names of jobs that were
// added, removed or changed.
func Summarize(oldM, newM *Model) ([]string, []logx.Field, []string) {
	if oldM == nil {
		oldM = &Model{}
	}
	if newM == nil {
		newM = &Model{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldM.Settings != newM.Settings {
		changed = append(changed, "settings")
		attrs = append(attrs,
			logx.Int("settings.threads", int(newM.Settings.Threads)),
			logx.String("settings.timezone", newM.Settings.Timezone),
			logx.Int("settings.log_retention_days", newM.Settings.LogRetentionDays),
			logx.Bool("settings.watch_config", newM.Settings.WatchConfig),
		)
	}

	if oldM.Logging != newM.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newM.Logging.Level),
			logx.Bool("logging.console", newM.Logging.Console),
			logx.Bool("logging.file_enabled", newM.Logging.File.Enabled),
		)
	}

	if oldM.Storage != newM.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newM.Storage.Driver))
	}

	if oldM.Socket != newM.Socket {
		// the listener is bound once at startup; a new path applies on restart
		changed = append(changed, "control")
		attrs = append(attrs, logx.String("control.socket", newM.Socket))
	}

	if oldM.Debug != newM.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs, logx.String("debug.addr", newM.Debug.Addr), logx.Bool("debug.token_set", newM.Debug.Token != ""))
	}

	jobs := changedJobs(oldM.Jobs, newM.Jobs)
	if len(jobs) > 0 {
		changed = append(changed, "system")
		attrs = append(attrs, logx.Int("system.count", len(newM.Jobs)), logx.Int("system.changed", len(jobs)))
	}

	if !reflect.DeepEqual(oldM.Commands, newM.Commands) {
		changed = append(changed, "command")
		attrs = append(attrs, logx.Int("command.count", len(newM.Commands)))
	}

	return changed, attrs, jobs
}

func changedJobs(oldJobs, newJobs []Job) []string {
	oldBy := make(map[string]Job, len(oldJobs))
	for _, j := range oldJobs {
		oldBy[j.Name] = j
	}
	newBy := make(map[string]Job, len(newJobs))
	for _, j := range newJobs {
		newBy[j.Name] = j
	}

	var out []string
	for name, nj := range newBy {
		oj, ok := oldBy[name]
		if !ok || !reflect.DeepEqual(oj, nj) {
			out = append(out, name)
		}
	}
	for name := range oldBy {
		if _, ok := newBy[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
