package indicator

import "cardwedge/status"

// Multi combines multiple Indicator implementations.
type Multi struct {
	indicators []Indicator
}

// NewMulti fans every update out to indicators, in order.
func NewMulti(indicators ...Indicator) *Multi {
	return &Multi{indicators: indicators}
}

// Update implements Indicator.Update.
func (m *Multi) Update(s status.Snapshot) {
	for _, ind := range m.indicators {
		ind.Update(s)
	}
}

// Release implements Indicator.Release.
func (m *Multi) Release() error {
	return releaseAll(m.indicators)
}
