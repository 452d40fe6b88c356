package engine

import (
	"errors"
	"fmt"
	"time"
)

// recurringTasks is the number of tasks the engine schedules: poll,
// watchdog, error dump and catalog dump.
const recurringTasks = 4

// Config holds scheduling settings for the engine.
type Config struct {
	PollDelay         time.Duration `yaml:"poll_delay"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	WatchdogPeriod    time.Duration `yaml:"watchdog_period"`
	IdleThreshold     time.Duration `yaml:"idle_threshold"`
	ListDeadline      time.Duration `yaml:"list_deadline"` // bound on one terminal listing
	ErrorDumpDelay    time.Duration `yaml:"error_dump_delay"`
	ErrorDumpPeriod   time.Duration `yaml:"error_dump_period"`
	CatalogDumpDelay  time.Duration `yaml:"catalog_dump_delay"`
	CatalogDumpPeriod time.Duration `yaml:"catalog_dump_period"`
	Workers           int           `yaml:"workers"`
	Verbose           bool          `yaml:"verbose"` // periodic dumps at info level
}

// ApplyDefaults fills in unset values.
func (c *Config) ApplyDefaults() {
	setDefault(&c.PollDelay, time.Second)
	setDefault(&c.PollInterval, 100*time.Millisecond)
	setDefault(&c.WatchdogPeriod, time.Second)
	setDefault(&c.IdleThreshold, 2*time.Second)
	setDefault(&c.ListDeadline, time.Second)
	setDefault(&c.ErrorDumpDelay, 10*time.Second)
	setDefault(&c.ErrorDumpPeriod, 30*time.Second)
	setDefault(&c.CatalogDumpDelay, 10*time.Second)
	setDefault(&c.CatalogDumpPeriod, 15*time.Second)
	if c.Workers == 0 {
		c.Workers = 5
	}
}

// Validate reports settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Workers < recurringTasks {
		errs = append(errs, fmt.Errorf("workers %d: need at least %d", c.Workers, recurringTasks))
	}
	for name, d := range map[string]time.Duration{
		"poll_interval":       c.PollInterval,
		"watchdog_period":     c.WatchdogPeriod,
		"idle_threshold":      c.IdleThreshold,
		"list_deadline":       c.ListDeadline,
		"error_dump_period":   c.ErrorDumpPeriod,
		"catalog_dump_period": c.CatalogDumpPeriod,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

func setDefault(d *time.Duration, v time.Duration) {
	if *d == 0 {
		*d = v
	}
}
