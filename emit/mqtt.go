package emit

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// MQTT publishes every card to a topic.
type MQTT struct {
	pub   Publisher
	topic string
	now   func() time.Time
}

type cardMessage struct {
	UID string    `json:"uid"`
	At  time.Time `json:"at"`
}

// NewMQTT creates an emitter that publishes to topic.
func NewMQTT(pub Publisher, topic string) *MQTT {
	return &MQTT{pub: pub, topic: topic, now: time.Now}
}

// Emit implements Emitter.Emit. The line terminator is not part of the
// published identifier.
func (m *MQTT) Emit(text string) error {
	msg, err := json.Marshal(cardMessage{
		UID: strings.TrimRight(text, "\r\n"),
		At:  m.now().UTC(),
	})
	if err != nil {
		return err
	}
	m.pub.Publish(m.topic, string(msg))
	return nil
}

// Close implements Emitter.Close.
func (m *MQTT) Close() error {
	return nil
}
