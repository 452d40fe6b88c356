// Package eventpipe accepts control commands on a named pipe, one per line.
package eventpipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
)

// Command is a control request for the reading system.
type Command int

const (
	CmdStart Command = iota + 1
	CmdStop
	CmdRestart
	CmdReconnect
	CmdStatus
)

func (c Command) String() string {
	switch c {
	case CmdStart:
		return "start"
	case CmdStop:
		return "stop"
	case CmdRestart:
		return "restart"
	case CmdReconnect:
		return "reconnect"
	case CmdStatus:
		return "status"
	default:
		return "unknown"
	}
}

var ErrUnknownCommand = errors.New("unknown command")

// Config holds configuration for the event pipe.
type Config struct {
	Path string `yaml:"path"` // Path to named pipe (e.g., "/tmp/cardwedge-control")
}

// Handler is called for every command read from the pipe.
type Handler func(Command)

// EventPipe listens for commands on a named pipe.
type EventPipe struct {
	path    string
	handler Handler
	log     zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a new EventPipe. Returns nil if path is empty.
func New(cfg Config, handler Handler, log zerolog.Logger) (*EventPipe, error) {
	if cfg.Path == "" {
		return nil, nil
	}

	os.Remove(cfg.Path)

	if err := syscall.Mkfifo(cfg.Path, 0660); err != nil {
		return nil, fmt.Errorf("create named pipe %s: %w", cfg.Path, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &EventPipe{
		path:    cfg.Path,
		handler: handler,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins listening for commands on the pipe.
// This should be called as a goroutine.
func (ep *EventPipe) Start() {
	ep.log.Info().Str("path", ep.path).Msg("Control pipe listening")

	for {
		if ep.ctx.Err() != nil {
			return
		}

		// Blocks until a writer connects.
		file, err := os.OpenFile(ep.path, os.O_RDONLY, 0)
		if err != nil {
			if ep.ctx.Err() != nil {
				return
			}
			ep.log.Error().Err(err).Msg("Control pipe open")
			continue
		}

		ep.serve(file)
		file.Close()
	}
}

func (ep *EventPipe) serve(file *os.File) {
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if ep.ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		cmd, err := ParseCommand(line)
		if err != nil {
			ep.log.Warn().Err(err).Msg("Control pipe parse error")
			continue
		}

		if ep.handler != nil {
			ep.handler(cmd)
		}
	}
}

// Close stops the event pipe listener and removes the pipe.
func (ep *EventPipe) Close() error {
	ep.cancel()
	// Unblock a pending open in Start.
	if w, err := os.OpenFile(ep.path, os.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
		w.Close()
	}
	return os.Remove(ep.path)
}

// ParseCommand parses a command line.
// Command format:
//
//	start                           - Start reading cards
//	stop                            - Stop reading cards
//	restart                         - Stop, then start with fresh state
//	reconnect                       - Re-acquire the card terminal
//	status                          - Log the current status
func ParseCommand(line string) (Command, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return 0, fmt.Errorf("empty command")
	}

	switch strings.ToLower(parts[0]) {
	case "start":
		return CmdStart, nil
	case "stop":
		return CmdStop, nil
	case "restart":
		return CmdRestart, nil
	case "reconnect":
		return CmdReconnect, nil
	case "status":
		return CmdStatus, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownCommand, parts[0])
	}
}
