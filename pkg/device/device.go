// Package device wraps one biosensor connection's lifecycle: open, start,
// poll, stop and release.
package device

import (
	"errors"
	"fmt"
	"time"
)

type Signal string

const (
	SignalPPG  Signal = "PPG"
	SignalEDA  Signal = "EDA"
	SignalTemp Signal = "TEMP"
)

// SignalSpec describes one logical channel group produced by a session.
type SignalSpec struct {
	Signal   Signal
	Channels []string
	Rate     float64
	Unit     string
	Min, Max float64
}

var builtinSpecs = map[Signal]SignalSpec{
	SignalPPG:  {Signal: SignalPPG, Channels: []string{"PPG_1", "PPG_2", "PPG_3"}, Rate: 100, Unit: "a.u.", Min: -100000, Max: 100000},
	SignalEDA:  {Signal: SignalEDA, Channels: []string{"EDA"}, Rate: 15, Unit: "uS", Min: 0, Max: 100},
	SignalTemp: {Signal: SignalTemp, Channels: []string{"Temperature"}, Rate: 15, Unit: "degC", Min: -20, Max: 60},
}

// SpecFor returns the built-in description of sig. Unknown signals get a
// single voltage channel.
func SpecFor(sig Signal) SignalSpec {
	if s, ok := builtinSpecs[sig]; ok {
		s.Channels = append([]string(nil), s.Channels...)
		return s
	}
	return SignalSpec{Signal: sig, Channels: []string{string(sig)}, Rate: 128, Unit: "V", Min: -4.096, Max: 4.096}
}

type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Values    []float64 `json:"values"`
}

// Batch holds the samples retrieved by one poll, oldest first per signal.
type Batch map[Signal][]Sample

// Latest returns the newest sample of sig.
func (b Batch) Latest(sig Signal) (Sample, bool) {
	s := b[sig]
	if len(s) == 0 {
		return Sample{}, false
	}
	return s[len(s)-1], true
}

// Empty reports whether no signal has samples.
func (b Batch) Empty() bool {
	for _, s := range b {
		if len(s) > 0 {
			return false
		}
	}
	return true
}

type Session interface {
	ID() string
	State() State
	Signals() []SignalSpec
	Start() error
	Poll() (Batch, error)
	Stop() error
	Release() error
}

var (
	ErrConnection = errors.New("device unreachable")
	ErrState      = errors.New("invalid session state")
)

// ConnectionError is returned by Open when the hardware cannot be reached.
type ConnectionError struct {
	ID  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.ID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// StateError is returned when an operation is invoked out of lifecycle order.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: session is %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrState }
