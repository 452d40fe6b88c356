package engine

import (
	"sync"

	"cardwedge/terminal"
)

var (
	readFrame = []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}
	ok9000    = []byte{0x90, 0x00}
)

// fakeTransport serves reads from a queue. When the queue is empty the card
// is absent.
type fakeTransport struct {
	mu       sync.Mutex
	entries  []terminal.Entry
	reads    []read
	lists    int
	buzzes   int
	hang     chan struct{}
	listGate chan struct{}
}

type read struct {
	rsp  []byte
	err  error
	hang bool
}

func newFakeTransport(names ...string) *fakeTransport {
	f := &fakeTransport{hang: make(chan struct{})}
	f.setTerminals(names...)
	return f
}

func (f *fakeTransport) setTerminals(names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = nil
	for _, n := range names {
		f.entries = append(f.entries, terminal.Entry{Name: n, Ref: n})
	}
}

func (f *fakeTransport) queue(reads ...read) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, reads...)
}

func (f *fakeTransport) card(uid ...byte) read {
	return read{rsp: append(append([]byte(nil), uid...), ok9000...)}
}

func (f *fakeTransport) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

func (f *fakeTransport) buzzCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buzzes
}

// blockLists makes every following List call hang until the returned
// function is called.
func (f *fakeTransport) blockLists() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.listGate = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.listGate = nil
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *fakeTransport) List() ([]terminal.Entry, error) {
	f.mu.Lock()
	f.lists++
	gate := f.listGate
	entries := append([]terminal.Entry(nil), f.entries...)
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return entries, nil
}

func (f *fakeTransport) Connect(ref any) (terminal.Session, error) {
	return &fakeSession{f: f}, nil
}

type fakeSession struct {
	f *fakeTransport
}

func (s *fakeSession) Transmit(frame []byte) ([]byte, error) {
	f := s.f
	f.mu.Lock()
	if frame[2] == 0x40 {
		f.buzzes++
		f.mu.Unlock()
		return ok9000, nil
	}
	if string(frame) != string(readFrame) {
		f.mu.Unlock()
		return ok9000, nil
	}
	if len(f.reads) == 0 {
		f.mu.Unlock()
		return nil, terminal.ErrNoCard
	}
	r := f.reads[0]
	f.reads = f.reads[1:]
	f.mu.Unlock()

	if r.hang {
		<-f.hang
	}
	return r.rsp, r.err
}

func (s *fakeSession) Disconnect() error {
	return nil
}

type recordEmitter struct {
	mu    sync.Mutex
	texts []string

	// When set, Emit signals entered and then waits for release, like a
	// serial bridge that stopped draining.
	entered chan struct{}
	release chan struct{}
}

func (r *recordEmitter) Emit(text string) error {
	if r.entered != nil {
		r.entered <- struct{}{}
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordEmitter) Close() error { return nil }

func (r *recordEmitter) emitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}
