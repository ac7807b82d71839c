package device

import "sync"

type State int

const (
	Unopened State = iota
	Prepared
	Streaming
	Stopped
	Released
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Prepared:
		return "prepared"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	case Released:
		return "released"
	default:
		return "unknown"
	}
}

// Lifecycle is the session state machine shared by all drivers. Hooks run
// while the lock is held, so a session's hardware calls never overlap.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Prepare moves Unopened to Prepared once open succeeded.
func (l *Lifecycle) Prepare(open func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Unopened {
		return &StateError{Op: "open", State: l.state}
	}
	if err := open(); err != nil {
		return err
	}
	l.state = Prepared
	return nil
}

func (l *Lifecycle) Start(start func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Prepared {
		return &StateError{Op: "start", State: l.state}
	}
	if err := start(); err != nil {
		return err
	}
	l.state = Streaming
	return nil
}

// Poll runs fn only while streaming.
func (l *Lifecycle) Poll(fn func() (Batch, error)) (Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Streaming {
		return nil, &StateError{Op: "poll", State: l.state}
	}
	return fn()
}

// Stop is idempotent: only a streaming session runs the hook. The session
// is marked stopped even if the hook fails.
func (l *Lifecycle) Stop(stop func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Streaming {
		return nil
	}
	l.state = Stopped
	return stop()
}

// Release is idempotent. It stops a streaming session first and always ends
// in Released, returning the first hook error.
func (l *Lifecycle) Release(stop, release func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Released {
		return nil
	}
	var err error
	if l.state == Streaming {
		err = stop()
	}
	if l.state != Unopened {
		if rerr := release(); err == nil {
			err = rerr
		}
	}
	l.state = Released
	return err
}
