package config

import (
	"github.com/lakesite/ls-dispatch/dispatch"
	logx "github.com/lakesite/ls-dispatch/pkg/logx"
	"github.com/lakesite/ls-dispatch/schedule"
)

// Config is the host-facing file format. YAML and JSON are both accepted;
// unknown keys are rejected so typos surface at load time instead of being
// silently ignored.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Dispatch DispatchConfig `json:"dispatch"`
	Schedule ScheduleConfig `json:"schedule"`
}

// DispatchConfig controls the worker pool and intake queue.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
type DispatchConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

// ScheduleConfig controls the cron trigger service.
type ScheduleConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	// Entries are host-defined recurring commands. Each tick enqueues one
	// job into the dispatcher.
	Entries []ScheduleEntry `json:"entries,omitempty"`
}

// ScheduleEntry is one named recurring command.
type ScheduleEntry struct {
	Name string `json:"name"`
	// Spec is a cron expression ("*/5 * * * *", "@hourly", "@every 90s").
	Spec string `json:"spec"`
	// Command is argv form; Command[0] is the executable.
	Command  []string `json:"command"`
	Priority int      `json:"priority,omitempty"`
	// Timeout is a Go duration string bounding one run ("0s" disables).
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Journal LoggingJournal `json:"journal"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingJournal struct {
	Enabled  bool   `json:"enabled"`
	MinLevel string `json:"min_level,omitempty"`
}

// ToDispatch translates the file section into engine config.
func (c DispatchConfig) ToDispatch() dispatch.Config {
	return dispatch.Config{
		Workers:   c.Workers,
		QueueSize: c.QueueSize,
	}
}

// ToSchedule translates the file section into trigger-service config.
func (c ScheduleConfig) ToSchedule() schedule.Config {
	return schedule.Config{
		Enabled:  c.Enabled,
		Timezone: c.Timezone,
	}
}

// ToLogx translates the file section into logging config.
func (c LoggingConfig) ToLogx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Journal: logx.JournalConfig{Enabled: c.Journal.Enabled, MinLevel: c.Journal.MinLevel},
	}
}
