package transport

import (
	"context"
	"errors"
	"sync"
)

var errDialRefused = errors.New("connection refused")

type fakeSocket struct {
	in     chan []byte
	remote chan error
	done   chan struct{}

	mu        sync.Mutex
	written   []string
	failWrite error
	closeCode int
	closed    bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan []byte, 16),
		remote: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (s *fakeSocket) Read() ([]byte, error) {
	select {
	case f := <-s.in:
		return f, nil
	case err := <-s.remote:
		return nil, err
	case <-s.done:
		return nil, errors.New("use of closed connection")
	}
}

func (s *fakeSocket) Write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite != nil {
		return s.failWrite
	}
	s.written = append(s.written, string(frame))
	return nil
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.closeCode = code
	close(s.done)
	return nil
}

func (s *fakeSocket) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.written...)
}

func (s *fakeSocket) CloseCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}

func (s *fakeSocket) FailWrites(err error) {
	s.mu.Lock()
	s.failWrite = err
	s.mu.Unlock()
}

// closeFromRemote simulates the relay ending the connection.
func (s *fakeSocket) closeFromRemote(code int) {
	s.remote <- &CloseError{Code: code}
}

type fakeDialer struct {
	mu      sync.Mutex
	err     error
	dials   int
	sockets []*fakeSocket
	ids     []Identity
}

func (d *fakeDialer) Dial(ctx context.Context, url string, id Identity) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.ids = append(d.ids, id)
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeSocket()
	d.sockets = append(d.sockets, s)
	return s, nil
}

func (d *fakeDialer) Fail(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Socket(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sockets) {
		return nil
	}
	return d.sockets[i]
}

func (d *fakeDialer) Sockets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sockets)
}
