// Package status holds the lifecycle flags of the card reading system and
// notifies a single observer whenever one of them is set.
package status

import "sync"

// Flag identifies one lifecycle flag.
type Flag int

const (
	TerminalsDetected Flag = iota
	SchedulersStarted
	ReaderStarted
	ReaderRunning
	DeviceFound
	Running
)

func (f Flag) String() string {
	switch f {
	case TerminalsDetected:
		return "terminals_detected"
	case SchedulersStarted:
		return "schedulers_started"
	case ReaderStarted:
		return "reader_started"
	case ReaderRunning:
		return "reader_running"
	case DeviceFound:
		return "device_found"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Snapshot is a copy of all flags at one point in time.
type Snapshot struct {
	TerminalsDetected bool `json:"terminals_detected"`
	SchedulersStarted bool `json:"schedulers_started"`
	ReaderStarted     bool `json:"reader_started"`
	ReaderRunning     bool `json:"reader_running"`
	DeviceFound       bool `json:"device_found"`
	Running           bool `json:"running"`
}

// Summary is the one line shown to users.
func (s Snapshot) Summary() string {
	if !s.Running {
		return "RFID scanning system is not active"
	}
	if !s.DeviceFound {
		return "Could not find an appropriate RFID reader"
	}
	if s.ReaderRunning {
		return "Ready to scan tickets"
	}
	return "Unknown status"
}

// Publisher owns the flags. The observer is called synchronously after every
// Set, outside the publisher's lock; it must not call back into whatever
// component is setting flags.
type Publisher struct {
	mu       sync.Mutex
	snap     Snapshot
	observer func(Snapshot)
}

// NewPublisher returns a publisher with every flag cleared.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// OnChange registers the observer. A later registration replaces it.
func (p *Publisher) OnChange(fn func(Snapshot)) {
	p.mu.Lock()
	p.observer = fn
	p.mu.Unlock()
}

// Set updates one flag and notifies the observer.
func (p *Publisher) Set(f Flag, v bool) {
	p.mu.Lock()
	switch f {
	case TerminalsDetected:
		p.snap.TerminalsDetected = v
	case SchedulersStarted:
		p.snap.SchedulersStarted = v
	case ReaderStarted:
		p.snap.ReaderStarted = v
	case ReaderRunning:
		p.snap.ReaderRunning = v
	case DeviceFound:
		p.snap.DeviceFound = v
	case Running:
		p.snap.Running = v
	}
	snap := p.snap
	fn := p.observer
	p.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Snapshot returns the current flags.
func (p *Publisher) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}
