package device

import (
	"context"
	"fmt"
	"time"

	"github.com/biosync/biostream/pkg/config"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	pointerConv   = 0x00
	pointerConfig = 0x01
	// full scale range for PGA ±4.096V
	pgaFS = 4.096
)

type analogInput struct {
	channel    int
	sampleRate int
	scale      float64
	offset     float64
}

type analogGroup struct {
	spec   SignalSpec
	inputs []analogInput
}

// ADS1115Session reads an analog front end (GSR/PPG boards) through an
// ADS1115 ADC in single-shot mode. Inputs sharing a signal form one group.
type ADS1115Session struct {
	Lifecycle
	id     string
	dev    conn.Conn
	bus    i2c.BusCloser
	groups []analogGroup
	sleep  func(time.Duration)
	now    func() time.Time
}

// OpenADS1115 initialises the host, opens the I2C bus and probes the ADC.
func OpenADS1115(_ context.Context, cfg config.DeviceConfig) (Session, error) {
	s := &ADS1115Session{id: cfg.Serial, groups: buildAnalogGroups(cfg), sleep: time.Sleep, now: time.Now}
	err := s.Prepare(func() error {
		if _, err := host.Init(); err != nil {
			return &ConnectionError{ID: s.id, Err: fmt.Errorf("host init: %w", err)}
		}
		bus, err := i2creg.Open(cfg.I2C.Bus)
		if err != nil {
			return &ConnectionError{ID: s.id, Err: fmt.Errorf("open i2c: %w", err)}
		}
		dev := &i2c.Dev{Addr: uint16(cfg.I2C.Address), Bus: bus}
		if err := dev.Tx([]byte{pointerConfig}, make([]byte, 2)); err != nil {
			_ = bus.Close()
			return &ConnectionError{ID: s.id, Err: fmt.Errorf("probe 0x%02X: %w", cfg.I2C.Address, err)}
		}
		s.bus, s.dev = bus, dev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// buildAnalogGroups extracts enabled inputs from the config, grouped by
// signal in channel order.
func buildAnalogGroups(cfg config.DeviceConfig) []analogGroup {
	var groups []analogGroup
	index := map[Signal]int{}
	for _, c := range cfg.Channels {
		if !c.Enabled {
			continue
		}
		sig := Signal(c.Signal)
		rate := c.SampleRate
		if rate == 0 {
			rate = cfg.SampleRate
		}
		in := analogInput{channel: c.Channel, sampleRate: rate, scale: c.CalibrationScale, offset: c.CalibrationOffset}
		if in.scale == 0 {
			in.scale = 1.0
		}
		i, ok := index[sig]
		if !ok {
			spec := SpecFor(sig)
			spec.Channels = nil
			spec.Unit = "V"
			spec.Min, spec.Max = -pgaFS, pgaFS
			groups = append(groups, analogGroup{spec: spec})
			i = len(groups) - 1
			index[sig] = i
		}
		groups[i].inputs = append(groups[i].inputs, in)
		groups[i].spec.Channels = append(groups[i].spec.Channels, fmt.Sprintf("%s_A%d", sig, c.Channel))
	}
	// one poll converts every input in sequence
	for i := range groups {
		groups[i].spec.Rate = 1000.0 / float64(sweepMillis(groups))
	}
	return groups
}

// sweepMillis estimates the time needed to convert every enabled input once.
func sweepMillis(groups []analogGroup) int {
	total := 0
	for _, g := range groups {
		for _, in := range g.inputs {
			total += conversionDelay(in.sampleRate)
		}
	}
	if total == 0 {
		return 10
	}
	return total
}

func conversionDelay(sampleRate int) int {
	if sampleRate <= 0 {
		sampleRate = 128
	}
	return int(1000.0/float64(sampleRate)) + 2
}

func (s *ADS1115Session) ID() string { return s.id }

func (s *ADS1115Session) Signals() []SignalSpec {
	out := make([]SignalSpec, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g.spec)
	}
	return out
}

func (s *ADS1115Session) Start() error {
	return s.Lifecycle.Start(func() error { return nil })
}

func (s *ADS1115Session) Poll() (Batch, error) {
	return s.Lifecycle.Poll(s.read)
}

func (s *ADS1115Session) read() (Batch, error) {
	b := Batch{}
	for _, g := range s.groups {
		values := make([]float64, 0, len(g.inputs))
		for _, in := range g.inputs {
			v, err := s.convert(in)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		b[g.spec.Signal] = []Sample{{Timestamp: s.now(), Values: values}}
	}
	return b, nil
}

func (s *ADS1115Session) convert(in analogInput) (float64, error) {
	msb, lsb, err := s.configForChannel(in.channel, in.sampleRate)
	if err != nil {
		return 0, err
	}
	if err := s.dev.Tx([]byte{pointerConfig, msb, lsb}, nil); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}
	s.sleep(time.Duration(conversionDelay(in.sampleRate)) * time.Millisecond)
	readBuf := make([]byte, 2)
	if err := s.dev.Tx([]byte{pointerConv}, readBuf); err != nil {
		return 0, fmt.Errorf("read conv: %w", err)
	}
	raw := int16(readBuf[0])<<8 | int16(readBuf[1])
	return float64(raw)*pgaFS/32768.0*in.scale + in.offset, nil
}

func (s *ADS1115Session) configForChannel(channel, sampleRate int) (byte, byte, error) {
	var mux byte
	switch channel {
	case 0:
		mux = 0x4
	case 1:
		mux = 0x5
	case 2:
		mux = 0x6
	case 3:
		mux = 0x7
	default:
		return 0, 0, fmt.Errorf("invalid channel %d", channel)
	}
	// PGA: use ±4.096V -> bits 001
	pga := byte(0x1)
	var dr byte
	switch sampleRate {
	case 8:
		dr = 0x0
	case 16:
		dr = 0x1
	case 32:
		dr = 0x2
	case 64:
		dr = 0x3
	case 128:
		dr = 0x4
	case 250:
		dr = 0x5
	case 475:
		dr = 0x6
	case 860:
		dr = 0x7
	default:
		dr = 0x4
	}
	var cfg uint16 = 0x8000 // OS = 1 (start single conversion)
	cfg |= uint16(mux) << 12
	cfg |= uint16(pga) << 9
	cfg |= 1 << 8 // single-shot mode
	cfg |= uint16(dr) << 5
	// comparator disabled (bits 1:0 = 11)
	cfg |= 0x3
	return byte(cfg >> 8), byte(cfg & 0xFF), nil
}

func (s *ADS1115Session) Stop() error {
	return s.Lifecycle.Stop(func() error { return nil })
}

func (s *ADS1115Session) Release() error {
	return s.Lifecycle.Release(func() error { return nil }, func() error {
		if s.bus != nil {
			return s.bus.Close()
		}
		return nil
	})
}
