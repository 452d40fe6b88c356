//go:build !nopcsc

package main

import (
	"cardwedge/terminal"
	"cardwedge/terminal/pcsc"
)

func newTransport(cfg terminal.Config) (terminal.Transport, error) {
	return pcsc.New(), nil
}
