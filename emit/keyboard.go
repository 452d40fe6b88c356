package emit

import (
	"fmt"
	"sync"

	"github.com/bendahl/uinput"
)

// KeyboardConfig holds virtual keyboard settings.
type KeyboardConfig struct {
	Enabled *bool  `yaml:"enabled"` // default true
	Device  string `yaml:"device"`  // default /dev/uinput
	Name    string `yaml:"name"`    // name the keyboard registers with
}

// IsEnabled reports whether cards are typed. A block without an enabled
// key still types.
func (c KeyboardConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// keySender is the subset of uinput.Keyboard used for typing.
type keySender interface {
	KeyPress(key int) error
	KeyDown(key int) error
	KeyUp(key int) error
	Close() error
}

type keyStroke struct {
	code  int
	shift bool
}

var keymap = map[rune]keyStroke{
	'0': {uinput.Key0, false}, '1': {uinput.Key1, false}, '2': {uinput.Key2, false},
	'3': {uinput.Key3, false}, '4': {uinput.Key4, false}, '5': {uinput.Key5, false},
	'6': {uinput.Key6, false}, '7': {uinput.Key7, false}, '8': {uinput.Key8, false},
	'9': {uinput.Key9, false},
	'a': {uinput.KeyA, false}, 'b': {uinput.KeyB, false}, 'c': {uinput.KeyC, false},
	'd': {uinput.KeyD, false}, 'e': {uinput.KeyE, false}, 'f': {uinput.KeyF, false},
	'g': {uinput.KeyG, false}, 'h': {uinput.KeyH, false}, 'i': {uinput.KeyI, false},
	'j': {uinput.KeyJ, false}, 'k': {uinput.KeyK, false}, 'l': {uinput.KeyL, false},
	'm': {uinput.KeyM, false}, 'n': {uinput.KeyN, false}, 'o': {uinput.KeyO, false},
	'p': {uinput.KeyP, false}, 'q': {uinput.KeyQ, false}, 'r': {uinput.KeyR, false},
	's': {uinput.KeyS, false}, 't': {uinput.KeyT, false}, 'u': {uinput.KeyU, false},
	'v': {uinput.KeyV, false}, 'w': {uinput.KeyW, false}, 'x': {uinput.KeyX, false},
	'y': {uinput.KeyY, false}, 'z': {uinput.KeyZ, false},
	' ':  {uinput.KeySpace, false},
	'-':  {uinput.KeyMinus, false},
	'_':  {uinput.KeyMinus, true},
	'\n': {uinput.KeyEnter, false},
}

func init() {
	for r := 'a'; r <= 'z'; r++ {
		ks := keymap[r]
		keymap[r-'a'+'A'] = keyStroke{code: ks.code, shift: true}
	}
}

// Keyboard types text on a virtual uinput keyboard.
type Keyboard struct {
	mu sync.Mutex
	kb keySender
}

// NewKeyboard registers a virtual keyboard with the kernel.
func NewKeyboard(cfg KeyboardConfig) (*Keyboard, error) {
	if cfg.Device == "" {
		cfg.Device = "/dev/uinput"
	}
	if cfg.Name == "" {
		cfg.Name = "cardwedge"
	}
	kb, err := uinput.CreateKeyboard(cfg.Device, []byte(cfg.Name))
	if err != nil {
		return nil, fmt.Errorf("create keyboard %s: %w", cfg.Device, err)
	}
	return &Keyboard{kb: kb}, nil
}

// Emit implements Emitter.Emit. The text is checked before the first key
// goes out so an unsupported character never leaves half a code typed.
func (k *Keyboard) Emit(text string) error {
	strokes := make([]keyStroke, 0, len(text))
	for i, r := range text {
		ks, ok := keymap[r]
		if !ok {
			return fmt.Errorf("cannot type %q at offset %d", r, i)
		}
		strokes = append(strokes, ks)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for i, ks := range strokes {
		if err := k.stroke(ks); err != nil {
			return fmt.Errorf("type key %d of %d: %w", i+1, len(strokes), err)
		}
	}
	return nil
}

func (k *Keyboard) stroke(ks keyStroke) error {
	if !ks.shift {
		return k.kb.KeyPress(ks.code)
	}
	if err := k.kb.KeyDown(uinput.KeyLeftshift); err != nil {
		return err
	}
	err := k.kb.KeyPress(ks.code)
	if uerr := k.kb.KeyUp(uinput.KeyLeftshift); err == nil {
		err = uerr
	}
	return err
}

// Close implements Emitter.Close.
func (k *Keyboard) Close() error {
	if k.kb == nil {
		return nil
	}
	return k.kb.Close()
}
