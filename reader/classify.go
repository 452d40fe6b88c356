package reader

import (
	"errors"

	"cardwedge/terminal"
)

// Errors produced by the worker itself.
var (
	ErrCardReadFailure   = errors.New("card read failure")
	ErrEmptyCode         = errors.New("scanned code was empty")
	ErrTimeout           = errors.New("read deadline exceeded")
	ErrMalformedResponse = errors.New("malformed response")
)

// Kind is the stable failure taxonomy used for counting and recovery.
type Kind int

const (
	KindNone Kind = iota
	KindNoCard
	KindRemovedCard
	KindFailedTransaction
	KindReaderUnavailable
	KindConnectFailed
	KindCardReadFailure
	KindEmptyCode
	KindTimeout
	KindUnclassified

	NumKinds
)

var kindNames = [NumKinds]string{
	KindNone:              "None",
	KindNoCard:            "NoCard",
	KindRemovedCard:       "RemovedCard",
	KindFailedTransaction: "FailedTransaction",
	KindReaderUnavailable: "ReaderUnavailable",
	KindConnectFailed:     "ConnectFailed",
	KindCardReadFailure:   "CardReadFailure",
	KindEmptyCode:         "EmptyCode",
	KindTimeout:           "Timeout",
	KindUnclassified:      "Unclassified",
}

func (k Kind) String() string {
	if k < 0 || k >= NumKinds {
		return "Kind(?)"
	}
	return kindNames[k]
}

// FailureKinds lists every kind a failed attempt can carry.
func FailureKinds() []Kind {
	kinds := make([]Kind, 0, NumKinds-1)
	for k := KindNoCard; k < NumKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Action is what the engine does about a failure.
type Action int

const (
	ActionIgnore Action = iota
	ActionReconnect
)

func (a Action) String() string {
	if a == ActionReconnect {
		return "reconnect"
	}
	return "ignore"
}

// Action returns the recovery action for the kind. Only unclassified
// failures force re-acquisition of the terminal.
func (k Kind) Action() Action {
	if k == KindUnclassified {
		return ActionReconnect
	}
	return ActionIgnore
}

// classification is checked in order; the first match wins. Connect errors
// that carry a more specific cause (no card, removed) classify as the cause.
var classification = []struct {
	err  error
	kind Kind
}{
	{ErrTimeout, KindTimeout},
	{ErrEmptyCode, KindEmptyCode},
	{ErrCardReadFailure, KindCardReadFailure},
	{terminal.ErrNoCard, KindNoCard},
	{terminal.ErrRemovedCard, KindRemovedCard},
	{terminal.ErrNotTransacted, KindFailedTransaction},
	{terminal.ErrReaderUnavailable, KindReaderUnavailable},
	{terminal.ErrConnectFailed, KindConnectFailed},
}

// Classify maps a failure to its kind and recovery action.
func Classify(err error) (Kind, Action) {
	if err == nil {
		return KindNone, ActionIgnore
	}
	for _, c := range classification {
		if errors.Is(err, c.err) {
			return c.kind, c.kind.Action()
		}
	}
	return KindUnclassified, ActionReconnect
}
