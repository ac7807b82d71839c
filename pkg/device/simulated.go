package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/biosync/biostream/pkg/config"
)

var errSimulatedPoll = errors.New("simulated poll failure")

// SimulatedSession emulates an EmotiBit: PPG on the auxiliary group, EDA and
// temperature on the ancillary group, produced at nominal rates from the
// time elapsed between polls.
type SimulatedSession struct {
	Lifecycle
	serial  string
	specs   []SignalSpec
	faults  config.SimulationConfig
	rnd     *rand.Rand
	now     func() time.Time
	start   time.Time
	emitted map[Signal]int
	polls   int
}

// OpenSimulated opens a simulated device identified by cfg.Serial.
func OpenSimulated(_ context.Context, cfg config.DeviceConfig) (Session, error) {
	return newSimulated(cfg, time.Now)
}

func newSimulated(cfg config.DeviceConfig, now func() time.Time) (*SimulatedSession, error) {
	s := &SimulatedSession{
		serial:  cfg.Serial,
		specs:   []SignalSpec{SpecFor(SignalPPG), SpecFor(SignalEDA), SpecFor(SignalTemp)},
		now:     now,
		emitted: make(map[Signal]int),
	}
	if cfg.Simulation != nil {
		s.faults = *cfg.Simulation
	}
	seed := s.faults.Seed
	if seed == 0 {
		seed = int64(len(cfg.Serial)) + time.Now().UnixNano()
	}
	s.rnd = rand.New(rand.NewSource(seed))
	err := s.Prepare(func() error {
		if s.serial == "" || s.faults.FailOpen {
			return &ConnectionError{ID: s.serial, Err: errors.New("no simulated device with this serial")}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SimulatedSession) ID() string { return s.serial }

func (s *SimulatedSession) Signals() []SignalSpec { return s.specs }

func (s *SimulatedSession) Start() error {
	return s.Lifecycle.Start(func() error {
		s.start = s.now()
		return nil
	})
}

func (s *SimulatedSession) Poll() (Batch, error) {
	return s.Lifecycle.Poll(func() (Batch, error) {
		s.polls++
		if s.faults.FailAfterPolls > 0 && s.polls > s.faults.FailAfterPolls {
			return nil, fmt.Errorf("%s: %w", s.serial, errSimulatedPoll)
		}
		elapsed := s.now().Sub(s.start).Seconds()
		b := Batch{}
		for _, spec := range s.specs {
			due := int(math.Floor(elapsed*spec.Rate + 1e-6))
			for i := s.emitted[spec.Signal]; i < due; i++ {
				t := float64(i) / spec.Rate
				b[spec.Signal] = append(b[spec.Signal], Sample{
					Timestamp: s.start.Add(time.Duration(t * float64(time.Second))),
					Values:    s.values(spec, t),
				})
			}
			if due > s.emitted[spec.Signal] {
				s.emitted[spec.Signal] = due
			}
		}
		return b, nil
	})
}

func (s *SimulatedSession) values(spec SignalSpec, t float64) []float64 {
	switch spec.Signal {
	case SignalPPG:
		// infrared, red, green at ~72 bpm
		base := math.Sin(2 * math.Pi * 1.2 * t)
		return []float64{
			50000 + 2000*base + s.rnd.NormFloat64()*50,
			30000 + 1500*base + s.rnd.NormFloat64()*50,
			8000 + 600*base + s.rnd.NormFloat64()*20,
		}
	case SignalEDA:
		return []float64{2 + 0.3*math.Sin(2*math.Pi*t/30) + s.rnd.NormFloat64()*0.01}
	case SignalTemp:
		return []float64{33 + 0.1*math.Sin(2*math.Pi*t/120) + s.rnd.NormFloat64()*0.02}
	default:
		return make([]float64, len(spec.Channels))
	}
}

func (s *SimulatedSession) Stop() error {
	return s.Lifecycle.Stop(func() error { return nil })
}

func (s *SimulatedSession) Release() error {
	noop := func() error { return nil }
	return s.Lifecycle.Release(noop, noop)
}
