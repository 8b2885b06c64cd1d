package device

import (
	"sync"
	"time"
)

// Signal is a one-shot, settable wait condition. The zero value is not
// usable; create signals with NewSignal. A nil *Signal behaves as already set.
type Signal struct {
	once     sync.Once
	ch       chan struct{}
	mu       sync.Mutex
	disposed bool
}

// NewSignal returns an unset signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set fires the signal. Further calls are no-ops.
func (s *Signal) Set() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.ch) })
}

// Dispose invalidates the signal. Waiters treat a disposed signal as
// satisfied, so it is also set.
func (s *Signal) Dispose() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
	s.Set()
}

// Disposed reports whether Dispose was called.
func (s *Signal) Disposed() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// C returns a channel closed when the signal fires.
func (s *Signal) C() <-chan struct{} {
	if s == nil {
		return closedChan
	}
	return s.ch
}

// IsSet reports whether the signal has fired.
func (s *Signal) IsSet() bool {
	select {
	case <-s.C():
		return true
	default:
		return false
	}
}

// Wait blocks until the signal fires or timeout elapses; it reports whether
// the signal fired. A non-positive timeout only polls.
func (s *Signal) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return s.IsSet()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.C():
		return true
	case <-t.C:
		return false
	}
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()
