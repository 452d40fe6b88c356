package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"cardwedge/emit"
	"cardwedge/engine"
	"cardwedge/eventpipe"
	"cardwedge/indicator"
	"cardwedge/logger"
	"cardwedge/mqtt"
	"cardwedge/reader"
	"cardwedge/terminal"
)

// Config is the main configuration structure for cardwedge.
type Config struct {
	// Card terminal selection
	Terminal terminal.Config `yaml:"terminal"`

	// Read attempt and debounce settings
	Reader reader.Config `yaml:"reader"`

	// Polling, watchdog and diagnostics cadence
	Engine engine.Config `yaml:"engine"`

	// Where card UIDs go
	Emit emit.Config `yaml:"emit"`

	// Status indicator configuration
	Indicator indicator.Config `yaml:"indicator"`

	// MQTT connection settings
	MQTT mqtt.Config `yaml:"mqtt"`

	// Control pipe
	Control eventpipe.Config `yaml:"control"`

	Log     logger.Config `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Start reading as soon as the process is up
	Autostart bool `yaml:"autostart"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. ":9120"; empty disables
	Path   string `yaml:"path"`   // default /metrics
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	c.Reader.ApplyDefaults()
	c.Engine.ApplyDefaults()
	if len(c.Terminal.Preferences) == 0 {
		c.Terminal.Preferences = terminal.DefaultPreferences().Patterns()
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate reports every setting the system cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("engine: %w", err))
	}
	if c.Reader.Deadline <= 0 {
		errs = append(errs, errors.New("reader: deadline must be positive"))
	}
	if c.Reader.DebounceWindow < 0 {
		errs = append(errs, errors.New("reader: debounce_window must not be negative"))
	}
	switch strings.ToLower(c.Terminal.Type) {
	case "", "pcsc":
	default:
		errs = append(errs, fmt.Errorf("terminal: unknown type %q", c.Terminal.Type))
	}
	if _, err := c.preferences(); err != nil {
		errs = append(errs, fmt.Errorf("terminal: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) preferences() (terminal.Preferences, error) {
	return terminal.NewPreferences(c.Terminal.Preferences...)
}
