package indicator

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"cardwedge/status"
)

// RetainedPublisher is satisfied by mqtt.Client.
type RetainedPublisher interface {
	PublishRetained(topic, payload string)
}

// MQTT publishes every distinct snapshot as retained JSON, so a dashboard
// subscribing late still sees the current state.
type MQTT struct {
	pub   RetainedPublisher
	topic string
	log   zerolog.Logger

	mu   sync.Mutex
	last *status.Snapshot
}

type statusMessage struct {
	status.Snapshot
	Summary string `json:"summary"`
}

// NewMQTT creates an MQTT status indicator.
func NewMQTT(pub RetainedPublisher, topic string, log zerolog.Logger) *MQTT {
	return &MQTT{pub: pub, topic: topic, log: log}
}

// Update implements Indicator.Update.
func (m *MQTT) Update(s status.Snapshot) {
	m.mu.Lock()
	if m.last != nil && *m.last == s {
		m.mu.Unlock()
		return
	}
	m.last = &s
	m.mu.Unlock()

	b, err := json.Marshal(statusMessage{Snapshot: s, Summary: s.Summary()})
	if err != nil {
		m.log.Error().Err(err).Msg("Encode status")
		return
	}
	m.pub.PublishRetained(m.topic, string(b))
}

// Release implements Indicator.Release.
func (m *MQTT) Release() error {
	return nil
}
