package emit

import (
	"fmt"
	"io"
	"sync"

	"github.com/tarm/serial"
)

// SerialConfig holds settings for a serial keyboard bridge, e.g. a
// microcontroller that replays received lines as USB HID keystrokes.
type SerialConfig struct {
	Device string `yaml:"device"` // e.g. "/dev/ttyACM0"
	Baud   int    `yaml:"baud"`
}

// Serial writes each text to a serial port.
type Serial struct {
	mu   sync.Mutex
	port io.WriteCloser
}

// NewSerial opens the bridge port.
func NewSerial(cfg SerialConfig) (*Serial, error) {
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}
	return &Serial{port: port}, nil
}

// Emit implements Emitter.Emit.
func (s *Serial) Emit(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := []byte(text)
	for len(buf) > 0 {
		n, err := s.port.Write(buf)
		if err != nil {
			return fmt.Errorf("write serial: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("write serial: %w", io.ErrShortWrite)
		}
		buf = buf[n:]
	}
	return nil
}

// Close implements Emitter.Close.
func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}
