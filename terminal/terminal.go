// Package terminal lists the contactless-card terminals visible on the local
// device bus and binds the engine to one of them.
package terminal

import "errors"

// Errors reported by Transport implementations. Implementations wrap the
// native error with one of these so callers never inspect message text.
var (
	ErrNoCard            = errors.New("no card present")
	ErrRemovedCard       = errors.New("card removed")
	ErrNotTransacted     = errors.New("transaction not completed")
	ErrReaderUnavailable = errors.New("reader unavailable")
	ErrConnectFailed     = errors.New("connect failed")
)

// Entry is one terminal as reported by the transport.
type Entry struct {
	Name string
	Ref  any // transport specific, opaque to callers
}

// Handle is a terminal the engine has bound to. A reconnect replaces the
// handle; it is never mutated in place.
type Handle struct {
	Name string
	Ref  any
}

func (h *Handle) String() string {
	if h == nil {
		return "<none>"
	}
	return h.Name
}

// Transport is the driver layer: enumerate terminals and open card sessions.
type Transport interface {
	// List returns the currently visible terminals.
	List() ([]Entry, error)

	// Connect opens a session with the card on the referenced terminal.
	Connect(ref any) (Session, error)
}

// Session is one open connection to a card.
type Session interface {
	// Transmit sends a command frame and returns the response frame,
	// including the trailing status word.
	Transmit(frame []byte) ([]byte, error)

	// Disconnect ends the session and resets the card.
	Disconnect() error
}

// Config holds transport and terminal selection settings.
type Config struct {
	Type        string   `yaml:"type"`        // "pcsc" (default)
	Preferences []string `yaml:"preferences"` // name substrings, most specific first
}

// Names returns the terminal names in catalog order.
func Names(entries []Entry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}
