package reader

import (
	"bytes"
	"sync"

	"cardwedge/terminal"
)

// fakeTransport answers frames from a table. A nil response with a nil error
// blocks the transmit until release is closed.
type fakeTransport struct {
	mu            sync.Mutex
	connectErr    error
	disconnectErr error
	responses     map[string]response
	release       chan struct{}
	frames        [][]byte
	sessions      int
	closed        int
	transmitted   chan []byte
}

type response struct {
	data []byte
	err  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		responses:   make(map[string]response),
		release:     make(chan struct{}),
		transmitted: make(chan []byte, 16),
	}
}

func (f *fakeTransport) on(frame []byte, data []byte, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[string(frame)] = response{data: data, err: err}
}

func (f *fakeTransport) List() ([]terminal.Entry, error) {
	return []terminal.Entry{{Name: "fake", Ref: "fake"}}, nil
}

func (f *fakeTransport) Connect(ref any) (terminal.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.sessions++
	return &fakeSession{f: f}, nil
}

func (f *fakeTransport) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func (f *fakeTransport) disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSession struct {
	f *fakeTransport
}

func (s *fakeSession) Transmit(frame []byte) ([]byte, error) {
	s.f.mu.Lock()
	s.f.frames = append(s.f.frames, bytes.Clone(frame))
	rsp, ok := s.f.responses[string(frame)]
	s.f.mu.Unlock()

	select {
	case s.f.transmitted <- bytes.Clone(frame):
	default:
	}

	if !ok {
		return []byte{0x90, 0x00}, nil
	}
	if rsp.data == nil && rsp.err == nil {
		<-s.f.release
		return []byte{0x04, 0xA1, 0xB2, 0xC3, 0x90, 0x00}, nil
	}
	return rsp.data, rsp.err
}

func (s *fakeSession) Disconnect() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.closed++
	return s.f.disconnectErr
}
