package indicator

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"cardwedge/status"
)

// Neopixel command strings for the external neopixel tool.
const (
	neoNoReader   = "@2 !150000 001010"
	neoReady      = "@3 !150000 400000"
	neoTerminated = "@0 010101"
)

// Neopixel implements Indicator using an external neopixel tool via named pipe.
type Neopixel struct {
	pipe  io.WriteCloser
	log   zerolog.Logger
	light latch
}

// NewNeopixel creates a new Neopixel indicator.
func NewNeopixel(pipePath string, log zerolog.Logger) (*Neopixel, error) {
	f, err := os.OpenFile(pipePath, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open neopixel pipe %s: %w", pipePath, err)
	}
	return &Neopixel{pipe: f, log: log}, nil
}

// Update implements Indicator.Update.
func (n *Neopixel) Update(s status.Snapshot) {
	light := LightFor(s)
	if !n.light.changed(light) {
		return
	}

	switch light {
	case LightGreen:
		n.write(neoReady)
	case LightYellow:
		n.write(neoNoReader)
	default:
		n.write(neoTerminated)
	}
}

// Release implements Indicator.Release.
func (n *Neopixel) Release() error {
	if n.pipe == nil {
		return nil
	}
	return n.pipe.Close()
}

func (n *Neopixel) write(s string) {
	if n.pipe == nil {
		return
	}
	if _, err := io.WriteString(n.pipe, s); err != nil {
		n.log.Debug().Err(err).Msg("Neopixel write")
	}
}
