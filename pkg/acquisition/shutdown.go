package acquisition

import "sync/atomic"

// Shutdown is the process-wide stop signal. It flips from false to true
// exactly once; Done is closed at that moment so waiting workers wake up.
type Shutdown struct {
	requested atomic.Bool
	done      chan struct{}
}

func NewShutdown() *Shutdown {
	return &Shutdown{done: make(chan struct{})}
}

// Request sets the flag. It reports whether this call was the one that set it.
func (s *Shutdown) Request() bool {
	if !s.requested.CompareAndSwap(false, true) {
		return false
	}
	close(s.done)
	return true
}

func (s *Shutdown) Requested() bool { return s.requested.Load() }

func (s *Shutdown) Done() <-chan struct{} { return s.done }
