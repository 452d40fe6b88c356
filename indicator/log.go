package indicator

import (
	"github.com/rs/zerolog"

	"cardwedge/status"
)

// Log writes the status summary whenever the light changes.
type Log struct {
	log   zerolog.Logger
	light latch
}

// NewLog creates a logging indicator.
func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log}
}

// Update implements Indicator.Update.
func (l *Log) Update(s status.Snapshot) {
	light := LightFor(s)
	if !l.light.changed(light) {
		return
	}
	l.log.Info().Stringer("light", light).Msg(s.Summary())
}

// Release implements Indicator.Release.
func (l *Log) Release() error {
	return nil
}
