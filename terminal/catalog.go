package terminal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Catalog enumerates terminals and hides every transport failure behind an
// empty result.
type Catalog struct {
	transport Transport
	log       zerolog.Logger
}

// NewCatalog creates a catalog over the given transport.
func NewCatalog(transport Transport, log zerolog.Logger) *Catalog {
	return &Catalog{transport: transport, log: log}
}

// List returns the visible terminals, or nil if the transport fails or panics.
func (c *Catalog) List() (entries []Entry) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Debug().Str("panic", fmt.Sprint(r)).Msg("List terminals panicked")
			entries = nil
		}
	}()

	entries, err := c.transport.List()
	if err != nil {
		c.log.Debug().Err(err).Msg("List terminals")
		return nil
	}
	return entries
}

// ListWithin is List bounded by timeout. ok is false if the transport did
// not answer in time or ctx ended first; the listing is then abandoned on
// its own goroutine and its result dropped.
func (c *Catalog) ListWithin(ctx context.Context, timeout time.Duration) (entries []Entry, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan []Entry, 1)
	go func() {
		result <- c.List()
	}()

	select {
	case entries = <-result:
		return entries, true
	case <-ctx.Done():
		c.log.Debug().Err(ctx.Err()).Msg("List terminals abandoned")
		return nil, false
	}
}
