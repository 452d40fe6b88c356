//go:build nopcsc

package main

import (
	"errors"

	"cardwedge/terminal"
)

// ErrTransportNotCompiled is returned when the binary was built without PC/SC.
var ErrTransportNotCompiled = errors.New("pcsc support not compiled in (built with -tags nopcsc)")

func newTransport(cfg terminal.Config) (terminal.Transport, error) {
	return nil, ErrTransportNotCompiled
}
