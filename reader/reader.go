// Package reader performs single, deadline-bound UID reads against a bound
// terminal and classifies whatever goes wrong.
package reader

import "time"

// Defaults for Config.
const (
	DefaultDeadline       = 150 * time.Millisecond
	DefaultDebounceWindow = 1250 * time.Millisecond
)

// Config holds settings for the read worker.
type Config struct {
	Deadline          time.Duration `yaml:"deadline"`            // per attempt budget
	DebounceWindow    time.Duration `yaml:"debounce_window"`     // same card suppression
	DisableAutoBuzzer *bool         `yaml:"disable_auto_buzzer"` // silence the reader's own beep (default true)
	Buzz              *bool         `yaml:"buzz"`                // acknowledge new cards with one beep (default true)
}

// ApplyDefaults fills in unset values.
func (c *Config) ApplyDefaults() {
	if c.Deadline == 0 {
		c.Deadline = DefaultDeadline
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = DefaultDebounceWindow
	}
	if c.DisableAutoBuzzer == nil {
		c.DisableAutoBuzzer = boolPtr(true)
	}
	if c.Buzz == nil {
		c.Buzz = boolPtr(true)
	}
}

// BuzzEnabled reports whether new cards are acknowledged with a beep.
func (c Config) BuzzEnabled() bool {
	return c.Buzz == nil || *c.Buzz
}

// AutoBuzzerDisabled reports whether each read silences the reader's beep.
func (c Config) AutoBuzzerDisabled() bool {
	return c.DisableAutoBuzzer == nil || *c.DisableAutoBuzzer
}

func boolPtr(b bool) *bool {
	return &b
}
