package reader

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"cardwedge/terminal"
)

// Outcome is the result of one attempt: a UID, or a failure kind, never both.
type Outcome struct {
	UID    []byte
	Status uint16
	Kind   Kind
	Err    error
}

// OK reports whether the attempt read a UID.
func (o Outcome) OK() bool {
	return o.Kind == KindNone
}

// Hex returns the UID as upper case hex, the form that gets typed.
func (o Outcome) Hex() string {
	return strings.ToUpper(hex.EncodeToString(o.UID))
}

func failure(err error) Outcome {
	kind, _ := Classify(err)
	return Outcome{Kind: kind, Err: err}
}

// Worker runs read transactions in isolation from the caller. Each attempt
// gets its own goroutine and transport session; a transport call that never
// returns only strands that goroutine.
type Worker struct {
	transport         terminal.Transport
	deadline          time.Duration
	disableAutoBuzzer bool
	log               zerolog.Logger
}

// NewWorker creates a worker over the given transport.
func NewWorker(transport terminal.Transport, cfg Config, log zerolog.Logger) *Worker {
	cfg.ApplyDefaults()
	return &Worker{
		transport:         transport,
		deadline:          cfg.Deadline,
		disableAutoBuzzer: cfg.AutoBuzzerDisabled(),
		log:               log,
	}
}

// Attempt reads the UID of the card on h. It returns within the deadline; a
// transaction still running at that point is abandoned and its result, if it
// ever arrives, is dropped.
func (w *Worker) Attempt(ctx context.Context, h *terminal.Handle) Outcome {
	ctx, cancel := context.WithTimeout(ctx, w.deadline)
	defer cancel()

	result := make(chan Outcome, 1)
	go func() {
		result <- w.transact(ctx, h.Ref)
	}()

	select {
	case out := <-result:
		return out
	case <-ctx.Done():
		return failure(fmt.Errorf("%w: %w", ErrTimeout, ctx.Err()))
	}
}

func (w *Worker) transact(ctx context.Context, ref any) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failure(fmt.Errorf("transport panic: %v", r))
		}
	}()

	sess, err := w.transport.Connect(ref)
	if err != nil {
		return failure(err)
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			w.log.Debug().Err(err).Msg("Disconnect")
		}
	}()

	if w.disableAutoBuzzer {
		if _, err := sess.Transmit(cmdDisableBuzzer); err != nil {
			return failure(err)
		}
		// Abandoned already; don't bother the card any further.
		if ctx.Err() != nil {
			return failure(fmt.Errorf("%w: %w", ErrTimeout, ctx.Err()))
		}
	}

	rsp, err := sess.Transmit(cmdReadUID)
	if err != nil {
		return failure(err)
	}

	uid, sw, err := parseResponse(rsp)
	if err != nil {
		return failure(err)
	}
	return Outcome{UID: uid, Status: sw}
}

// Acknowledge beeps once on h. It runs on its own goroutine and gives up
// quietly; the card may well be gone by now.
func (w *Worker) Acknowledge(h *terminal.Handle) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Debug().Str("panic", fmt.Sprint(r)).Msg("Could not buzz")
			}
		}()

		sess, err := w.transport.Connect(h.Ref)
		if err != nil {
			w.log.Debug().Err(err).Msg("Could not buzz")
			return
		}
		defer func() {
			if err := sess.Disconnect(); err != nil {
				w.log.Debug().Err(err).Msg("Disconnect")
			}
		}()

		if _, err := sess.Transmit(cmdOneBuzz); err != nil {
			w.log.Debug().Err(err).Msg("Could not buzz")
		}
	}()
}
