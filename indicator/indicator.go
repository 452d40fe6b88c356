// Package indicator shows the reader's lifecycle status on LEDs, a neopixel
// strip, or a retained MQTT topic.
package indicator

import (
	"sync"

	"github.com/rs/zerolog"

	"cardwedge/status"
)

// Indicator is the interface for status indicator implementations (LEDs, neopixels, etc).
type Indicator interface {
	// Update shows the given status. It is called after every flag change
	// and must not block for long.
	Update(s status.Snapshot)

	// Release releases any hardware resources.
	Release() error
}

// Config holds configuration for indicator implementations.
type Config struct {
	// GPIO LED pins (nil = not configured)
	GreenPin  *uint8 `yaml:"green_pin"`
	YellowPin *uint8 `yaml:"yellow_pin"`
	RedPin    *uint8 `yaml:"red_pin"`

	// Neopixel pipe path (empty = not configured)
	NeopixelPipe string `yaml:"neopixel_pipe"`

	// Publish snapshots on <prefix>/status
	MQTT bool `yaml:"mqtt"`
}

// New creates an Indicator based on the provided configuration. Status
// changes are always logged.
func New(cfg Config, pub RetainedPublisher, topic string, log zerolog.Logger) (Indicator, error) {
	indicators := []Indicator{NewLog(log)}

	if cfg.GreenPin != nil || cfg.YellowPin != nil || cfg.RedPin != nil {
		gpio, err := NewGPIO(cfg.GreenPin, cfg.YellowPin, cfg.RedPin)
		if err != nil {
			return nil, err
		}
		indicators = append(indicators, gpio)
	}

	if cfg.NeopixelPipe != "" {
		neo, err := NewNeopixel(cfg.NeopixelPipe, log)
		if err != nil {
			releaseAll(indicators)
			return nil, err
		}
		indicators = append(indicators, neo)
	}

	if cfg.MQTT && pub != nil {
		indicators = append(indicators, NewMQTT(pub, topic, log))
	}

	if len(indicators) == 1 {
		return indicators[0], nil
	}
	return NewMulti(indicators...), nil
}

// Light is what a single colour indicator shows.
type Light int

const (
	LightOff Light = iota
	LightRed
	LightYellow
	LightGreen
)

func (l Light) String() string {
	switch l {
	case LightRed:
		return "red"
	case LightYellow:
		return "yellow"
	case LightGreen:
		return "green"
	default:
		return "off"
	}
}

// LightFor maps a snapshot onto a light: green when cards can be scanned,
// yellow while running without a usable reader, red when inactive.
func LightFor(s status.Snapshot) Light {
	switch {
	case !s.Running:
		return LightRed
	case s.DeviceFound && s.ReaderRunning:
		return LightGreen
	default:
		return LightYellow
	}
}

// latch reports whether the light changed since the last call.
type latch struct {
	mu   sync.Mutex
	last Light
	set  bool
}

func (l *latch) changed(to Light) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set && l.last == to {
		return false
	}
	l.last, l.set = to, true
	return true
}

func releaseAll(indicators []Indicator) error {
	var lastErr error
	for _, ind := range indicators {
		if err := ind.Release(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
