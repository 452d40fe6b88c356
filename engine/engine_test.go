package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardwedge/reader"
	"cardwedge/status"
	"cardwedge/terminal"
)

const acr = "ACS ACR122U PICC Interface"

type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	e       *Engine
	tr      *fakeTransport
	out     *recordEmitter
	pub     *status.Publisher
	clock   *clock
	metrics *Metrics
	ctx     context.Context
}

// newHarness starts an engine whose recurring tasks never fire on their own;
// tests drive the ticks directly.
func newHarness(t *testing.T, names ...string) *harness {
	t.Helper()

	h := &harness{
		tr:      newFakeTransport(names...),
		out:     &recordEmitter{},
		pub:     status.NewPublisher(),
		clock:   newClock(),
		metrics: NewMetrics(prometheus.NewRegistry()),
		ctx:     context.Background(),
	}

	never := time.Hour
	cfg := Config{
		PollDelay:        never,
		WatchdogPeriod:   never,
		ErrorDumpDelay:   never,
		CatalogDumpDelay: never,
	}
	e, err := New(cfg, reader.Config{Deadline: 50 * time.Millisecond}, Deps{
		Transport:   h.tr,
		Preferences: terminal.DefaultPreferences(),
		Emitter:     h.out,
		Status:      h.pub,
		Metrics:     h.metrics,
		Log:         zerolog.Nop(),
	})
	require.NoError(t, err)
	e.now = h.clock.now
	h.e = e

	require.NoError(t, e.Start(h.ctx))
	t.Cleanup(e.Stop)
	// Ticks run on the engine's own context, as the scheduler runs them.
	h.ctx = e.runCtx
	return h
}

func (h *harness) tick() {
	h.e.pollTick(h.ctx)
}

func (h *harness) handle() *terminal.Handle {
	return h.e.handle.Load()
}

func (h *harness) reconnects() uint64 {
	return h.e.reconnects.Load()
}

// within fails the test if fn does not return in time.
func within(t *testing.T, d time.Duration, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("%s blocked for more than %s", what, d)
	}
}

func TestStartPublishesStatus(t *testing.T) {
	h := newHarness(t, acr)

	snap := h.pub.Snapshot()
	assert.Equal(t, status.Snapshot{
		TerminalsDetected: true,
		SchedulersStarted: true,
		ReaderStarted:     true,
		ReaderRunning:     true,
		DeviceFound:       true,
		Running:           true,
	}, snap)
	assert.Equal(t, "Ready to scan tickets", snap.Summary())

	name, ok := h.e.Terminal()
	require.True(t, ok)
	assert.Equal(t, acr, name)
}

func TestStartWithoutTerminal(t *testing.T) {
	h := newHarness(t)

	snap := h.pub.Snapshot()
	assert.True(t, snap.Running)
	assert.False(t, snap.DeviceFound)
	assert.Equal(t, "Could not find an appropriate RFID reader", snap.Summary())

	h.tick()
	assert.Empty(t, h.out.emitted())
	assert.Empty(t, h.e.ErrorCounts())
}

func TestDebouncedEmission(t *testing.T) {
	h := newHarness(t, acr)
	uid := []byte{0x04, 0xA1, 0xB2, 0xC3}

	h.tr.queue(h.tr.card(uid...))
	h.tick()
	assert.Equal(t, []string{"04A1B2C3\n"}, h.out.emitted())

	h.clock.advance(200 * time.Millisecond)
	h.tr.queue(h.tr.card(uid...))
	h.tick()
	assert.Len(t, h.out.emitted(), 1, "same card within the window is suppressed")

	h.clock.advance(1100 * time.Millisecond)
	h.tr.queue(h.tr.card(uid...))
	h.tick()
	assert.Len(t, h.out.emitted(), 2, "same card after the window is new again")

	h.tr.queue(h.tr.card(0x01, 0x02))
	h.tick()
	assert.Equal(t, "0102\n", h.out.emitted()[2])

	assert.Equal(t, uint64(3), h.e.Scans())
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.cards))
	assert.Eventually(t, func() bool { return h.tr.buzzCount() == 3 }, time.Second, 5*time.Millisecond)
}

func TestSuppressedReadDoesNotTouchTimestamp(t *testing.T) {
	h := newHarness(t, acr)
	uid := []byte{0x04, 0xA1, 0xB2, 0xC3}

	h.tr.queue(h.tr.card(uid...))
	h.tick()
	first := h.e.state.LastSuccess

	h.clock.advance(500 * time.Millisecond)
	h.tr.queue(h.tr.card(uid...))
	h.tick()
	assert.Equal(t, first, h.e.state.LastSuccess)
}

func TestRoutineFailureKeepsHandle(t *testing.T) {
	h := newHarness(t, acr)
	before := h.handle()

	h.tr.queue(read{err: terminal.ErrReaderUnavailable})
	h.tick()

	assert.Equal(t, uint64(1), h.e.ErrorCounts()[reader.KindReaderUnavailable])
	assert.Same(t, before, h.handle())
	assert.Zero(t, h.reconnects())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.readErrors.WithLabelValues("ReaderUnavailable")))
}

func TestEveryRoutineKindKeepsHandle(t *testing.T) {
	h := newHarness(t, acr)
	before := h.handle()

	h.tr.queue(
		read{err: terminal.ErrNoCard},
		read{err: terminal.ErrRemovedCard},
		read{err: terminal.ErrNotTransacted},
		read{err: terminal.ErrReaderUnavailable},
		read{rsp: []byte{0x63, 0x00}},
		read{rsp: ok9000},
	)
	for i := 0; i < 6; i++ {
		h.tick()
	}

	counts := h.e.ErrorCounts()
	for _, k := range []reader.Kind{
		reader.KindNoCard, reader.KindRemovedCard, reader.KindFailedTransaction,
		reader.KindReaderUnavailable, reader.KindCardReadFailure, reader.KindEmptyCode,
	} {
		assert.Equal(t, uint64(1), counts[k], k.String())
	}
	assert.Same(t, before, h.handle())
	assert.Zero(t, h.reconnects())
}

func TestUnclassifiedReconnectsOnce(t *testing.T) {
	h := newHarness(t, acr)
	before := h.handle()
	lists := h.tr.listCount()

	h.tr.queue(read{err: errors.New("SCARD_E_INVALID_HANDLE")})
	h.tick()

	assert.Equal(t, uint64(1), h.reconnects())
	assert.Equal(t, lists+1, h.tr.listCount())
	assert.Equal(t, uint64(1), h.e.ErrorCounts()[reader.KindUnclassified])

	after := h.handle()
	require.NotNil(t, after)
	assert.NotSame(t, before, after, "handle is replaced, not mutated")
	assert.Equal(t, acr, after.Name)
}

func TestTimedOutAttemptIsNeverApplied(t *testing.T) {
	h := newHarness(t, acr)

	h.tr.queue(read{rsp: []byte{0x04, 0xA1, 0x90, 0x00}, hang: true})
	start := time.Now()
	h.tick()
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, uint64(1), h.e.ErrorCounts()[reader.KindTimeout])
	close(h.tr.hang)

	// The abandoned transaction completes now; nothing may pick it up.
	time.Sleep(20 * time.Millisecond)
	h.tick()
	assert.Empty(t, h.out.emitted())
	assert.Nil(t, h.e.state.LastUID)
	assert.Zero(t, h.reconnects())
}

func TestWatchdog(t *testing.T) {
	h := newHarness(t, acr)

	h.clock.advance(2 * time.Second)
	h.e.watchdogTick(h.ctx)
	assert.Zero(t, h.reconnects(), "threshold must be exceeded")

	h.clock.advance(time.Millisecond)
	h.e.watchdogTick(h.ctx)
	assert.Equal(t, uint64(1), h.reconnects())

	h.e.watchdogTick(h.ctx)
	assert.Equal(t, uint64(1), h.reconnects(), "idle clock was reset")

	h.clock.advance(3 * time.Second)
	h.e.watchdogTick(h.ctx)
	assert.Equal(t, uint64(2), h.reconnects(), "one reconnect per tick")
}

func TestWatchdogResetsClockWhenNothingFound(t *testing.T) {
	h := newHarness(t, acr)
	h.tr.setTerminals()

	h.clock.advance(5 * time.Second)
	h.e.watchdogTick(h.ctx)
	assert.Equal(t, uint64(1), h.reconnects())
	assert.Nil(t, h.handle())

	h.clock.advance(time.Second)
	h.e.watchdogTick(h.ctx)
	assert.Equal(t, uint64(1), h.reconnects())
}

func TestWatchdogQuietAfterCard(t *testing.T) {
	h := newHarness(t, acr)

	h.clock.advance(1500 * time.Millisecond)
	h.tr.queue(h.tr.card(0x04))
	h.tick()

	h.clock.advance(1500 * time.Millisecond)
	h.e.watchdogTick(h.ctx)
	assert.Zero(t, h.reconnects())
}

func TestLateTerminalIsAdopted(t *testing.T) {
	h := newHarness(t)
	require.Nil(t, h.handle())

	h.tr.setTerminals("Generic Reader")
	h.clock.advance(3 * time.Second)
	h.e.watchdogTick(h.ctx)

	name, ok := h.e.Terminal()
	require.True(t, ok)
	assert.Equal(t, "Generic Reader", name)
	assert.True(t, h.pub.Snapshot().DeviceFound)
}

func TestStickyTerminal(t *testing.T) {
	h := newHarness(t, "ACR122 0")

	h.tr.setTerminals(acr, "ACR122 0")
	h.e.Reconnect()

	name, ok := h.e.Terminal()
	require.True(t, ok)
	assert.Equal(t, "ACR122 0", name)
}

func TestHungListingBlocksNeitherPollNorStop(t *testing.T) {
	h := newHarness(t, acr)
	h.e.cfg.ListDeadline = time.Hour
	release := h.tr.blockLists()
	defer release()

	lists := h.tr.listCount()
	h.clock.advance(3 * time.Second)
	watchdog := make(chan struct{})
	go func() {
		h.e.watchdogTick(h.ctx)
		close(watchdog)
	}()
	require.Eventually(t, func() bool { return h.tr.listCount() > lists }, time.Second, time.Millisecond)

	h.tr.queue(h.tr.card(0x0A, 0x0B))
	within(t, time.Second, "poll tick", h.tick)
	assert.Equal(t, []string{"0A0B\n"}, h.out.emitted())

	within(t, time.Second, "Reconnect", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		h.e.reconnect(ctx)
	})

	within(t, time.Second, "Stop", h.e.Stop)
	assert.False(t, h.pub.Snapshot().Running)

	select {
	case <-watchdog:
	case <-time.After(time.Second):
		t.Fatal("watchdog tick did not give up on the listing after stop")
	}
	release()
	assert.Nil(t, h.handle(), "a late listing never rebinds a stopped engine")
}

func TestListingDeadlineKeepsHandle(t *testing.T) {
	h := newHarness(t, acr)
	h.e.cfg.ListDeadline = 20 * time.Millisecond
	before := h.handle()

	release := h.tr.blockLists()
	defer release()

	within(t, time.Second, "Reconnect", h.e.Reconnect)
	assert.Same(t, before, h.handle())
	assert.Equal(t, uint64(1), h.reconnects())
}

func TestWatchdogRunsWhileEmissionHangs(t *testing.T) {
	h := newHarness(t, acr)
	h.out.entered = make(chan struct{})
	h.out.release = make(chan struct{})

	h.tr.queue(h.tr.card(0x01))
	polled := make(chan struct{})
	go func() {
		h.tick()
		close(polled)
	}()

	select {
	case <-h.out.entered:
	case <-time.After(time.Second):
		t.Fatal("card was never handed to the emitter")
	}

	h.clock.advance(3 * time.Second)
	within(t, time.Second, "watchdog tick", func() { h.e.watchdogTick(h.ctx) })
	assert.Equal(t, uint64(1), h.reconnects())
	assert.Equal(t, uint64(1), h.e.Scans())
	within(t, time.Second, "Stop", h.e.Stop)

	close(h.out.release)
	<-polled
	assert.Equal(t, []string{"01\n"}, h.out.emitted())
}

func TestStop(t *testing.T) {
	h := newHarness(t, acr)

	h.e.Stop()
	// Device presence is left as last observed.
	assert.Equal(t, status.Snapshot{DeviceFound: true}, h.pub.Snapshot())
	assert.Equal(t, "RFID scanning system is not active", h.pub.Snapshot().Summary())
	assert.Nil(t, h.handle())

	select {
	case <-h.e.Done():
	case <-time.After(time.Second):
		t.Fatal("recurring tasks did not exit")
	}

	assert.ErrorIs(t, h.e.Start(context.Background()), ErrStopped)
	h.e.Stop()

	h.e.Reconnect()
	assert.Nil(t, h.handle())
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t, acr)
	assert.ErrorIs(t, h.e.Start(context.Background()), ErrAlreadyStarted)
}

func TestStopDiscardsInFlightAttempt(t *testing.T) {
	h := newHarness(t, acr)
	defer close(h.tr.hang)

	ctx, cancel := context.WithCancel(context.Background())
	h.tr.queue(read{rsp: []byte{0x04, 0x90, 0x00}, hang: true})

	done := make(chan struct{})
	go func() {
		h.e.pollTick(ctx)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, h.out.emitted())
	assert.Empty(t, h.e.ErrorCounts(), "result after cancellation is dropped")
}

func TestRunningEngineReadsCards(t *testing.T) {
	tr := newFakeTransport(acr)
	out := &recordEmitter{}
	e, err := New(Config{PollDelay: time.Millisecond, PollInterval: time.Millisecond},
		reader.Config{}, Deps{
			Transport:   tr,
			Preferences: terminal.DefaultPreferences(),
			Emitter:     out,
			Log:         zerolog.Nop(),
		})
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	tr.queue(tr.card(0xDE, 0xAD))

	assert.Eventually(t, func() bool { return len(out.emitted()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "DEAD\n", out.emitted()[0])

	e.Stop()
	<-e.Done()
}

func TestNewRejectsSmallPool(t *testing.T) {
	_, err := New(Config{Workers: 2}, reader.Config{}, Deps{Transport: newFakeTransport(), Log: zerolog.Nop()})
	assert.Error(t, err)
}

func TestStopBeforeStart(t *testing.T) {
	e, err := New(Config{}, reader.Config{}, Deps{Transport: newFakeTransport(), Log: zerolog.Nop()})
	require.NoError(t, err)
	e.Stop()
	<-e.Done()
	assert.ErrorIs(t, e.Start(context.Background()), ErrStopped)
}
