package emit

import (
	"strings"

	"github.com/rs/zerolog"
)

// Log only logs cards. Used when no other sink is configured.
type Log struct {
	log zerolog.Logger
}

// NewLog creates a logging emitter.
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

// Emit implements Emitter.Emit.
func (l *Log) Emit(text string) error {
	l.log.Info().Str("uid", strings.TrimRight(text, "\r\n")).Msg("Card")
	return nil
}

// Close implements Emitter.Close.
func (l *Log) Close() error {
	return nil
}
