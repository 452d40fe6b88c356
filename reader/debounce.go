package reader

import (
	"bytes"
	"time"
)

// Debouncer suppresses repeated reads of a card that is still on the reader.
type Debouncer struct {
	Window time.Duration
}

// IsNewCard reports whether newUID should be emitted. A nil lastUID or a zero
// lastSuccess means nothing has been emitted yet.
func (d Debouncer) IsNewCard(newUID, lastUID []byte, lastSuccess, now time.Time) bool {
	if lastUID == nil || lastSuccess.IsZero() {
		return true
	}
	if !bytes.Equal(newUID, lastUID) {
		return true
	}
	return now.Sub(lastSuccess) >= d.Window
}
