// Package engine polls a card terminal on a fixed cadence, emits new cards
// and keeps the terminal binding alive despite a misbehaving driver layer.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cardwedge/emit"
	"cardwedge/reader"
	"cardwedge/status"
	"cardwedge/terminal"
)

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrStopped        = errors.New("engine stopped; create a new one")
)

type phase int

const (
	phaseNew phase = iota
	phaseStarting
	phaseRunning
	phaseStopped
)

// Deps are the collaborators an engine works with.
type Deps struct {
	Transport   terminal.Transport
	Preferences terminal.Preferences
	Emitter     emit.Emitter
	Status      *status.Publisher
	Metrics     *Metrics // optional
	Log         zerolog.Logger
}

// ScanState is what the engine remembers between ticks. It exists for one
// run only.
type ScanState struct {
	LastUID     []byte
	LastSuccess time.Time
}

// errorCounts are diagnostic only and never reset during a run. They are
// read without the engine lock.
type errorCounts [reader.NumKinds]atomic.Uint64

// Engine is one run of the polling system. After Stop it cannot be started
// again.
//
// Only the read attempt itself, which is bounded by its deadline, runs with
// mu held. Terminal listing, emission and status notifications happen
// outside it.
type Engine struct {
	cfg      Config
	catalog  *terminal.Catalog
	worker   *reader.Worker
	debounce reader.Debouncer
	prefs    terminal.Preferences
	emitter  emit.Emitter
	status   *status.Publisher
	metrics  *Metrics
	buzz     bool
	log      zerolog.Logger
	now      func() time.Time

	life    sync.Mutex
	phase   phase
	running atomic.Bool
	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// handle is swapped with mu held so a poll tick never sees a rebind
	// halfway; Stop clears it without taking mu.
	handle atomic.Pointer[terminal.Handle]

	// mu guards everything below and serialises read attempts with
	// rebinding.
	mu        sync.Mutex
	name      string
	state     ScanState
	idleSince time.Time
	scans     uint64

	reconnects atomic.Uint64
	errCounts  errorCounts
}

// New creates an engine. Nothing touches the transport until Start.
func New(cfg Config, rcfg reader.Config, deps Deps) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rcfg.ApplyDefaults()

	if deps.Status == nil {
		deps.Status = status.NewPublisher()
	}
	if deps.Emitter == nil {
		deps.Emitter = emit.NewLog(deps.Log)
	}

	return &Engine{
		cfg:      cfg,
		catalog:  terminal.NewCatalog(deps.Transport, deps.Log),
		worker:   reader.NewWorker(deps.Transport, rcfg, deps.Log),
		debounce: reader.Debouncer{Window: rcfg.DebounceWindow},
		prefs:    deps.Preferences,
		emitter:  deps.Emitter,
		status:   deps.Status,
		metrics:  deps.Metrics,
		buzz:     rcfg.BuzzEnabled(),
		log:      deps.Log,
		now:      time.Now,
		done:     make(chan struct{}),
	}, nil
}

// Start binds a terminal and schedules the recurring tasks. Failing to find
// a terminal is not an error: the engine runs and reports the device as not
// found.
func (e *Engine) Start(ctx context.Context) error {
	e.life.Lock()
	defer e.life.Unlock()

	switch e.phase {
	case phaseStarting, phaseRunning:
		return ErrAlreadyStarted
	case phaseStopped:
		return ErrStopped
	}
	e.phase = phaseStarting

	ctx, cancel := context.WithCancel(ctx)
	e.runCtx, e.cancel = ctx, cancel

	e.log.Info().Msg("Starting RFID reading")
	entries, ok := e.catalog.ListWithin(ctx, e.cfg.ListDeadline)
	if !ok {
		e.log.Warn().Dur("deadline", e.cfg.ListDeadline).Msg("Terminal listing did not answer")
	}
	e.log.Info().
		Int("preferences", e.prefs.Len()).
		Int("terminals", len(entries)).
		Strs("detected", terminal.Names(entries)).
		Msg("Terminals detected")
	e.status.Set(status.TerminalsDetected, true)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	g.Go(func() error {
		return fixedRate(gctx, e.cfg.ErrorDumpDelay, e.cfg.ErrorDumpPeriod, e.dumpErrors)
	})
	g.Go(func() error {
		return fixedRate(gctx, e.cfg.CatalogDumpDelay, e.cfg.CatalogDumpPeriod, e.dumpCatalog)
	})
	e.status.Set(status.SchedulersStarted, true)

	e.mu.Lock()
	found := e.resolveLocked(entries)
	e.bindLocked(ctx, entries)
	e.idleSince = e.now()
	e.mu.Unlock()

	e.status.Set(status.DeviceFound, found)
	e.status.Set(status.ReaderStarted, true)

	g.Go(func() error {
		return fixedDelay(gctx, e.cfg.PollDelay, e.cfg.PollInterval, e.pollTick)
	})
	g.Go(func() error {
		return fixedDelay(gctx, e.cfg.WatchdogPeriod, e.cfg.WatchdogPeriod, e.watchdogTick)
	})

	done := e.done
	go func() {
		_ = g.Wait()
		close(done)
	}()

	e.status.Set(status.ReaderRunning, true)
	e.status.Set(status.Running, true)
	e.phase = phaseRunning
	e.running.Store(true)
	return nil
}

// Stop cancels every recurring task and clears the terminal. It does not
// wait for a tick in progress: an attempt in flight finishes on its own and
// its result is thrown away.
func (e *Engine) Stop() {
	e.life.Lock()
	switch e.phase {
	case phaseStopped:
		e.life.Unlock()
		return
	case phaseNew:
		e.phase = phaseStopped
		close(e.done)
		e.life.Unlock()
		return
	}
	e.phase = phaseStopped
	e.running.Store(false)
	cancel := e.cancel
	e.life.Unlock()

	e.log.Info().Msg("Stopping the RFID reading")
	cancel()
	e.handle.Store(nil)

	e.status.Set(status.ReaderRunning, false)
	e.status.Set(status.ReaderStarted, false)
	e.status.Set(status.SchedulersStarted, false)
	e.status.Set(status.TerminalsDetected, false)
	e.status.Set(status.Running, false)
	e.log.Info().Msg("RFID capturing is now inactive")
}

// Done is closed once every recurring task has returned after Stop.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Reconnect forces re-acquisition of the terminal. It returns within the
// listing deadline.
func (e *Engine) Reconnect() {
	if !e.running.Load() {
		return
	}
	e.reconnect(e.runCtx)
}

// Terminal returns the name of the bound terminal, if any.
func (e *Engine) Terminal() (string, bool) {
	h := e.handle.Load()
	if h == nil {
		return "", false
	}
	return h.Name, true
}

// Scans returns the number of cards emitted so far.
func (e *Engine) Scans() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scans
}

// ErrorCounts returns a copy of the per kind failure counters.
func (e *Engine) ErrorCounts() map[reader.Kind]uint64 {
	counts := make(map[reader.Kind]uint64)
	for _, k := range reader.FailureKinds() {
		if n := e.errCounts[k].Load(); n > 0 {
			counts[k] = n
		}
	}
	return counts
}

// pollTick performs one read attempt. Attempts never overlap.
func (e *Engine) pollTick(ctx context.Context) {
	out, h, scan, ok := e.readLocked(ctx)
	if !ok {
		return
	}

	if !out.OK() {
		if out.Kind.Action() == reader.ActionReconnect {
			e.log.Error().Err(out.Err).Msg("Unclassified read failure, reconnecting")
			e.reconnect(ctx)
		}
		return
	}
	if scan == 0 {
		return
	}

	uid := out.Hex()
	if e.buzz {
		e.worker.Acknowledge(h)
	}

	e.log.Info().Str("uid", uid).Uint64("scan", scan).Msg("New card")
	if e.metrics != nil {
		e.metrics.cards.Inc()
	}

	if err := e.emitter.Emit(uid + "\n"); err != nil {
		e.log.Error().Err(err).Str("uid", uid).Msg("Emit card")
	}
}

// readLocked runs the attempt and applies it to the scan state. ok is false
// when there was nothing to attempt or the result must be dropped. scan is
// the card's sequence number when it was accepted as new, zero otherwise.
func (e *Engine) readLocked(ctx context.Context) (out reader.Outcome, h *terminal.Handle, scan uint64, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ctx.Err() != nil {
		return out, nil, 0, false
	}
	h = e.handle.Load()
	if h == nil {
		e.log.Debug().Msg("No terminal connected")
		return out, nil, 0, false
	}

	start := time.Now()
	out = e.worker.Attempt(ctx, h)
	if e.metrics != nil {
		e.metrics.attempts.Observe(time.Since(start).Seconds())
	}

	if ctx.Err() != nil {
		e.log.Debug().Msg("Discarding read result after stop")
		return out, nil, 0, false
	}

	if !out.OK() {
		e.countFailure(out)
		return out, h, 0, true
	}

	now := e.now()
	if !e.debounce.IsNewCard(out.UID, e.state.LastUID, e.state.LastSuccess, now) {
		return out, h, 0, true
	}

	e.state.LastUID = out.UID
	e.state.LastSuccess = now
	e.idleSince = now
	e.scans++
	return out, h, e.scans, true
}

func (e *Engine) countFailure(out reader.Outcome) {
	e.errCounts[out.Kind].Add(1)
	if e.metrics != nil {
		e.metrics.readErrors.WithLabelValues(out.Kind.String()).Inc()
	}

	switch out.Kind {
	case reader.KindTimeout:
		e.log.Debug().Msg("Did not get a card uid in time, cancelled")
	case reader.KindEmptyCode:
		e.log.Warn().Msg("Empty code was read")
	default:
		e.log.Trace().Err(out.Err).Stringer("kind", out.Kind).Msg("Read failed")
	}
}

// watchdogTick rebinds the terminal when nothing has been read for a while.
// The transport can drop its handle silently while no card is presented.
func (e *Engine) watchdogTick(ctx context.Context) {
	e.mu.Lock()
	if ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	now := e.now()
	if now.Sub(e.idleSince) <= e.cfg.IdleThreshold {
		e.mu.Unlock()
		return
	}
	e.idleSince = now
	e.mu.Unlock()

	e.log.Debug().Msg("Reconnect due to lack of scan actions")
	e.reconnect(ctx)
}

// reconnect replaces the handle with a fresh one for the cached name. If no
// name was ever resolved, resolution is retried first. The listing runs
// without mu; if it does not answer in time the current handle is kept.
func (e *Engine) reconnect(ctx context.Context) {
	e.reconnects.Add(1)
	if e.metrics != nil {
		e.metrics.reconnects.Inc()
	}

	entries, ok := e.catalog.ListWithin(ctx, e.cfg.ListDeadline)
	if !ok {
		if ctx.Err() == nil {
			e.log.Warn().Dur("deadline", e.cfg.ListDeadline).Msg("Terminal listing did not answer, keeping current terminal")
		}
		return
	}

	e.mu.Lock()
	resolved := e.name == ""
	found := false
	if resolved {
		found = e.resolveLocked(entries)
	}
	e.bindLocked(ctx, entries)
	e.mu.Unlock()

	if resolved {
		e.status.Set(status.DeviceFound, found)
	}
}

func (e *Engine) resolveLocked(entries []terminal.Entry) bool {
	name, ok := terminal.Resolve(e.prefs, entries)
	if !ok {
		e.log.Warn().Strs("preferences", e.prefs.Patterns()).Msg("Unable to find an RFID reader")
		return false
	}
	e.name = name
	e.log.Info().Str("terminal", name).Msg("Selected terminal")
	return true
}

// bindLocked swaps in a handle for the cached name, or clears it. A bind
// racing with Stop never leaves a handle behind: Stop cancels ctx before it
// clears the handle.
func (e *Engine) bindLocked(ctx context.Context, entries []terminal.Entry) {
	h, ok := terminal.Bind(e.name, entries)
	if !ok {
		if e.name != "" {
			e.log.Warn().Str("terminal", e.name).Msg("Terminal not attached")
		}
		e.handle.Store(nil)
		return
	}
	e.handle.Store(h)
	if ctx.Err() != nil {
		e.handle.Store(nil)
		return
	}
	e.log.Debug().Stringer("terminal", h).Msg("Attached")
}
