// Package conf holds the runtime configuration for corefw: pool sizing,
// per-core worker counts, and the timing bounds the scheduler and trigger
// engine enforce. Values are loadable from YAML via viper; cmd/coresim's
// --config flag names the file, and no other flag overrides a value.
package conf

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// LogRotation selects how the ambient logger rotates its file output.
type LogRotation string

const (
	RotationSize   LogRotation = "size"
	RotationDaily  LogRotation = "daily"
	RotationWeekly LogRotation = "weekly"
)

// LogSettings configures the lumberjack-backed file logger.
type LogSettings struct {
	MaxSize  int64       `mapstructure:"max_size_bytes" yaml:"max_size_bytes"`
	Rotation LogRotation `mapstructure:"rotation" yaml:"rotation"`
}

// MainSettings groups settings applying to the whole process.
type MainSettings struct {
	Log LogSettings `mapstructure:"log" yaml:"log"`
}

// BufferSettings bounds the Buffer subsystem (§4.1).
type BufferSettings struct {
	// DefaultXrunLimitUS is how much accumulated xrun deficit is tolerated
	// before a Buffer transitions its owning Pipeline into recovery, per §7.
	DefaultXrunLimitUS int64 `mapstructure:"xrun_limit_us" yaml:"xrun_limit_us"`
	// CacheLineSize is loaded with the other settings; internal/buffer does
	// not read it and falls back to its own 64-byte constant when no
	// CPU-detected value is available.
	CacheLineSize int `mapstructure:"cache_line_size" yaml:"cache_line_size"`
}

// SchedulerSettings bounds the Scheduler subsystem (§4.4).
type SchedulerSettings struct {
	// CoreCount is the configured number of simulated worker cores;
	// cmd/coresim does not read it and runs a single core.
	CoreCount int `mapstructure:"core_count" yaml:"core_count"`
	// TaskFreeTimeoutMultiplier is the configured bound on Task.Free()'s
	// wait, in multiples of the task's period (§5); internal/sched does not
	// read it and uses a fixed multiple of 100.
	TaskFreeTimeoutMultiplier int `mapstructure:"task_free_timeout_multiplier" yaml:"task_free_timeout_multiplier"`
}

// TriggerSettings bounds the Trigger engine (§4.5).
type TriggerSettings struct {
	// DMAStopTimeout is the configured bound on how long STOP waits for a
	// DMA channel to drain; internal/dma does not read it and uses its own
	// fixed 500ms bound.
	DMAStopTimeout time.Duration `mapstructure:"dma_stop_timeout" yaml:"dma_stop_timeout"`
}

// PosnSettings bounds the stream_posn mailbox pool (§6.3).
type PosnSettings struct {
	// MailboxCapacity is the fixed slot count, one slot per live pipeline.
	MailboxCapacity int `mapstructure:"mailbox_capacity" yaml:"mailbox_capacity"`
}

// Settings is the root configuration struct.
type Settings struct {
	Main      MainSettings      `mapstructure:"main" yaml:"main"`
	Buffer    BufferSettings    `mapstructure:"buffer" yaml:"buffer"`
	Scheduler SchedulerSettings `mapstructure:"scheduler" yaml:"scheduler"`
	Trigger   TriggerSettings   `mapstructure:"trigger" yaml:"trigger"`
	Posn      PosnSettings      `mapstructure:"posn" yaml:"posn"`
}

// Default returns the built-in defaults, used when no config file is present.
func Default() *Settings {
	return &Settings{
		Main: MainSettings{
			Log: LogSettings{
				MaxSize:  10 * 1024 * 1024,
				Rotation: RotationSize,
			},
		},
		Buffer: BufferSettings{
			DefaultXrunLimitUS: 5000,
			CacheLineSize:      64,
		},
		Scheduler: SchedulerSettings{
			CoreCount:                 4,
			TaskFreeTimeoutMultiplier: 100,
		},
		Trigger: TriggerSettings{
			DMAStopTimeout: 500 * time.Millisecond,
		},
		Posn: PosnSettings{
			MailboxCapacity: 32,
		},
	}
}

var (
	current   *Settings
	currentMu sync.RWMutex
	once      sync.Once
)

// Setting returns the current process-wide settings, initializing them to
// defaults on first access.
func Setting() *Settings {
	once.Do(func() {
		currentMu.Lock()
		current = Default()
		currentMu.Unlock()
	})
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

// SetSetting replaces the process-wide settings, e.g. after Load().
func SetSetting(s *Settings) {
	currentMu.Lock()
	defer currentMu.Unlock()
	current = s
	once.Do(func() {}) // mark initialized so Setting() doesn't overwrite it
}

// Load reads settings from path (if non-empty) via viper, falling back to
// defaults for anything unset, and stores the result as the process-wide
// settings.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	s := Default()
	v.SetDefault("main.log.max_size_bytes", s.Main.Log.MaxSize)
	v.SetDefault("main.log.rotation", string(s.Main.Log.Rotation))
	v.SetDefault("buffer.xrun_limit_us", s.Buffer.DefaultXrunLimitUS)
	v.SetDefault("buffer.cache_line_size", s.Buffer.CacheLineSize)
	v.SetDefault("scheduler.core_count", s.Scheduler.CoreCount)
	v.SetDefault("scheduler.task_free_timeout_multiplier", s.Scheduler.TaskFreeTimeoutMultiplier)
	v.SetDefault("trigger.dma_stop_timeout", s.Trigger.DMAStopTimeout)
	v.SetDefault("posn.mailbox_capacity", s.Posn.MailboxCapacity)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("conf: read config %s: %w", path, err)
		}
	}

	loaded := Default()
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("conf: unmarshal config: %w", err)
	}

	SetSetting(loaded)
	return loaded, nil
}
