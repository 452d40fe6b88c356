package indicator

import (
	"fmt"

	"github.com/hjkoskel/govattu"

	"cardwedge/status"
)

// GPIO implements Indicator using discrete GPIO LED pins.
type GPIO struct {
	write     func(pin uint8, on bool)
	close     func() error
	greenPin  *uint8
	yellowPin *uint8
	redPin    *uint8
	light     latch
}

// NewGPIO creates a new GPIO-based indicator.
func NewGPIO(greenPin, yellowPin, redPin *uint8) (*GPIO, error) {
	hw, err := govattu.Open()
	if err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}

	for _, pin := range []*uint8{greenPin, yellowPin, redPin} {
		if pin != nil {
			hw.PinMode(*pin, govattu.ALToutput)
		}
	}

	write := func(pin uint8, on bool) {
		if on {
			hw.PinSet(pin)
		} else {
			hw.PinClear(pin)
		}
	}
	g := newGPIO(write, hw.Close, greenPin, yellowPin, redPin)
	g.allOff()
	return g, nil
}

func newGPIO(write func(uint8, bool), close func() error, greenPin, yellowPin, redPin *uint8) *GPIO {
	return &GPIO{
		write:     write,
		close:     close,
		greenPin:  greenPin,
		yellowPin: yellowPin,
		redPin:    redPin,
	}
}

// Update implements Indicator.Update.
func (g *GPIO) Update(s status.Snapshot) {
	light := LightFor(s)
	if !g.light.changed(light) {
		return
	}

	g.allOff()
	switch light {
	case LightGreen:
		g.on(g.greenPin)
	case LightYellow:
		g.on(g.yellowPin)
	case LightRed:
		g.on(g.redPin)
	}
}

// Release implements Indicator.Release.
func (g *GPIO) Release() error {
	g.allOff()
	return g.close()
}

func (g *GPIO) on(pin *uint8) {
	if pin != nil {
		g.write(*pin, true)
	}
}

func (g *GPIO) allOff() {
	for _, pin := range []*uint8{g.greenPin, g.yellowPin, g.redPin} {
		if pin != nil {
			g.write(*pin, false)
		}
	}
}
