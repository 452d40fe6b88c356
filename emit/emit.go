// Package emit hands card identifiers to whatever consumes them, typically
// by typing them on a virtual keyboard.
package emit

import (
	"errors"

	"github.com/rs/zerolog"
)

// Emitter delivers text as if it had been typed.
type Emitter interface {
	// Emit delivers the whole of text, in order, or returns an error.
	Emit(text string) error

	// Close releases any resources held by the emitter.
	Close() error
}

// Publisher is the part of the MQTT client the emitter needs.
type Publisher interface {
	Publish(topic string, payload string)
}

// Config holds configuration for emitter implementations.
type Config struct {
	// Virtual keyboard (uinput). nil = enabled with defaults.
	Keyboard *KeyboardConfig `yaml:"keyboard"`

	// Serial keyboard bridge (empty device = not configured)
	Serial SerialConfig `yaml:"serial"`

	// Publish every card on MQTT
	MQTT bool `yaml:"mqtt"`
}

// New creates an Emitter based on the provided configuration.
// Returns a Multi emitter if more than one sink is configured, and a Log
// emitter if none is.
func New(cfg Config, pub Publisher, topic string, log zerolog.Logger) (Emitter, error) {
	var emitters []Emitter

	var kbCfg KeyboardConfig
	if cfg.Keyboard != nil {
		kbCfg = *cfg.Keyboard
	}
	if kbCfg.IsEnabled() {
		kb, err := NewKeyboard(kbCfg)
		if err != nil {
			return nil, err
		}
		emitters = append(emitters, kb)
	}

	if cfg.Serial.Device != "" {
		s, err := NewSerial(cfg.Serial)
		if err != nil {
			closeAll(emitters)
			return nil, err
		}
		emitters = append(emitters, s)
	}

	if cfg.MQTT && pub != nil {
		emitters = append(emitters, NewMQTT(pub, topic))
	}

	if len(emitters) == 0 {
		return NewLog(log), nil
	}
	if len(emitters) == 1 {
		return emitters[0], nil
	}
	return &Multi{emitters: emitters}, nil
}

// Multi combines multiple Emitter implementations.
type Multi struct {
	emitters []Emitter
}

// NewMulti combines the given emitters.
func NewMulti(emitters ...Emitter) *Multi {
	return &Multi{emitters: emitters}
}

// Emit implements Emitter.Emit. Every sink is tried; failures are joined.
func (m *Multi) Emit(text string) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Emit(text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Emitter.Close.
func (m *Multi) Close() error {
	return closeAll(m.emitters)
}

func closeAll(emitters []Emitter) error {
	var errs []error
	for _, e := range emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
