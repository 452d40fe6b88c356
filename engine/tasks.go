package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"cardwedge/terminal"
)

// fixedDelay runs fn after delay and then period after each run returns.
func fixedDelay(ctx context.Context, delay, period time.Duration, fn func(context.Context)) error {
	t := time.NewTimer(delay)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		fn(ctx)
		t.Reset(period)
	}
}

// fixedRate runs fn after delay and then every period.
func fixedRate(ctx context.Context, delay, period time.Duration, fn func(context.Context)) error {
	t := time.NewTimer(delay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-t.C:
	}
	fn(ctx)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (e *Engine) dumpLevel() *zerolog.Event {
	if e.cfg.Verbose {
		return e.log.Info()
	}
	return e.log.Debug()
}

func (e *Engine) dumpErrors(context.Context) {
	ev := e.dumpLevel()
	for k, n := range e.ErrorCounts() {
		ev = ev.Uint64(k.String(), n)
	}
	ev.Msg("Error map")
}

func (e *Engine) dumpCatalog(ctx context.Context) {
	entries, ok := e.catalog.ListWithin(ctx, e.cfg.ListDeadline)
	if !ok {
		return
	}
	e.dumpLevel().Strs("terminals", terminal.Names(entries)).Msg("Terminals")
}
