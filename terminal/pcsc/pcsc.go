// Package pcsc implements terminal.Transport on the platform PC/SC service.
package pcsc

import (
	"errors"
	"fmt"

	"github.com/ebfe/scard"

	"cardwedge/terminal"
)

// Transport implements terminal.Transport. Every call establishes its own
// context so a session abandoned by a timed out read never shares state with
// the next one.
type Transport struct{}

// New creates a PC/SC transport.
func New() *Transport {
	return &Transport{}
}

// List implements terminal.Transport.List.
func (p *Transport) List() ([]terminal.Entry, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish context: %w", normalize(err))
	}
	defer ctx.Release()

	names, err := ctx.ListReaders()
	if err != nil {
		if errors.Is(err, scard.ErrNoReadersAvailable) {
			return nil, nil
		}
		return nil, fmt.Errorf("list readers: %w", normalize(err))
	}

	entries := make([]terminal.Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, terminal.Entry{Name: name, Ref: name})
	}
	return entries, nil
}

// Connect implements terminal.Transport.Connect.
func (p *Transport) Connect(ref any) (terminal.Session, error) {
	name, ok := ref.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected terminal ref %T", terminal.ErrConnectFailed, ref)
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: establish context: %w", terminal.ErrConnectFailed, normalize(err))
	}

	card, err := ctx.Connect(name, scard.ShareShared, scard.ProtocolT1)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("%w: %s: %w", terminal.ErrConnectFailed, name, normalize(err))
	}

	return &pcscSession{ctx: ctx, card: card}, nil
}

type pcscSession struct {
	ctx  *scard.Context
	card *scard.Card
}

// Transmit implements terminal.Session.Transmit.
func (s *pcscSession) Transmit(frame []byte) ([]byte, error) {
	rsp, err := s.card.Transmit(frame)
	if err != nil {
		return nil, normalize(err)
	}
	return rsp, nil
}

// Disconnect implements terminal.Session.Disconnect.
func (s *pcscSession) Disconnect() error {
	derr := s.card.Disconnect(scard.ResetCard)
	rerr := s.ctx.Release()
	return errors.Join(derr, rerr)
}

// normalize wraps PC/SC codes that have a portable meaning. Anything else is
// returned unchanged.
func normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scard.ErrNoSmartcard):
		return fmt.Errorf("%w: %w", terminal.ErrNoCard, err)
	case errors.Is(err, scard.ErrRemovedCard):
		return fmt.Errorf("%w: %w", terminal.ErrRemovedCard, err)
	case errors.Is(err, scard.ErrNotTransacted):
		return fmt.Errorf("%w: %w", terminal.ErrNotTransacted, err)
	case errors.Is(err, scard.ErrReaderUnavailable),
		errors.Is(err, scard.ErrSharingViolation),
		errors.Is(err, scard.ErrNoReadersAvailable):
		return fmt.Errorf("%w: %w", terminal.ErrReaderUnavailable, err)
	default:
		return err
	}
}
