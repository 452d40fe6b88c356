package main

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cardwedge/engine"
	"cardwedge/eventpipe"
	"cardwedge/status"
)

// defaultDrain is how long Stop waits for an engine's tasks to return.
const defaultDrain = 2 * time.Second

// Controller starts and stops the reading system. Every start gets a new
// engine, so nothing survives a stop.
type Controller struct {
	build  func() (*engine.Engine, error)
	status *status.Publisher
	log    zerolog.Logger
	drain  time.Duration

	mu  sync.Mutex
	eng *engine.Engine
}

// NewController creates a controller that calls build on every start.
func NewController(build func() (*engine.Engine, error), pub *status.Publisher, log zerolog.Logger) *Controller {
	return &Controller{build: build, status: pub, log: log, drain: defaultDrain}
}

// Start starts a fresh engine unless one is already running.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eng != nil {
		c.log.Info().Msg("Already running")
		return nil
	}

	eng, err := c.build()
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		eng.Stop()
		return err
	}
	c.eng = eng
	return nil
}

// Stop stops the running engine, if any, and waits a bounded time for its
// tasks to exit. A task stuck in the emitter is left behind.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eng == nil {
		return
	}
	eng := c.eng
	c.eng = nil
	eng.Stop()

	t := time.NewTimer(c.drain)
	defer t.Stop()
	select {
	case <-eng.Done():
	case <-t.C:
		c.log.Warn().Dur("waited", c.drain).Msg("Engine tasks still busy, leaving them behind")
	}
}

// Restart stops and starts again with fresh state.
func (c *Controller) Restart(ctx context.Context) error {
	c.Stop()
	return c.Start(ctx)
}

// Reconnect asks the running engine to re-acquire its terminal.
func (c *Controller) Reconnect() {
	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()

	if eng != nil {
		eng.Reconnect()
	}
}

// Running reports whether an engine is running.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eng != nil
}

// Report logs the current status, bound terminal and counters.
func (c *Controller) Report() status.Snapshot {
	snap := c.status.Snapshot()
	ev := c.log.Info().Bool("running", snap.Running).Bool("device_found", snap.DeviceFound)

	c.mu.Lock()
	eng := c.eng
	c.mu.Unlock()
	if eng != nil {
		if name, ok := eng.Terminal(); ok {
			ev = ev.Str("terminal", name)
		}
		ev = ev.Uint64("scans", eng.Scans())
	}
	ev.Msg(snap.Summary())
	return snap
}

// Handle runs one control command.
func (c *Controller) Handle(ctx context.Context, cmd eventpipe.Command) {
	c.log.Debug().Stringer("command", cmd).Msg("Control command")

	var err error
	switch cmd {
	case eventpipe.CmdStart:
		err = c.Start(ctx)
	case eventpipe.CmdStop:
		c.Stop()
	case eventpipe.CmdRestart:
		err = c.Restart(ctx)
	case eventpipe.CmdReconnect:
		c.Reconnect()
	case eventpipe.CmdStatus:
		c.Report()
	}
	if err != nil {
		c.log.Error().Err(err).Stringer("command", cmd).Msg("Control command failed")
	}
}
