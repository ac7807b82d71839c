// Package edf records streams to EDF files, one file per stream.
package edf

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/OpenPSG/edf"
	"github.com/biosync/biostream/pkg/config"
	"github.com/biosync/biostream/pkg/device"
	"github.com/biosync/biostream/pkg/output"
)

const (
	recordDuration = time.Second
	digitalMin     = -32768
	digitalMax     = 32767
	// EDF fixed-width header fields
	maxLabel = 16
	maxDim   = 8
)

type EDFOutput struct {
	dir         string
	patientID   string
	recordingID string
	now         func() time.Time

	mu    sync.Mutex
	names map[string]bool
}

// NewEDF creates the recording directory.
func NewEDF(cfg config.EDFConfig, recordingID string) (*EDFOutput, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create edf dir: %w", err)
	}
	return &EDFOutput{dir: cfg.Dir, patientID: cfg.PatientID, recordingID: recordingID, now: time.Now, names: map[string]bool{}}, nil
}

// Path returns the file a stream is recorded to.
func (e *EDFOutput) Path(info output.StreamInfo) string {
	return filepath.Join(e.dir, fileName(info.Name)+".edf")
}

func (e *EDFOutput) Channel(info output.StreamInfo) (output.Channel, error) {
	if len(info.Channels) == 0 {
		return nil, errors.New("stream has no channels")
	}
	e.mu.Lock()
	if e.names[info.Name] {
		e.mu.Unlock()
		return nil, fmt.Errorf("stream %s already recorded", info.Name)
	}
	e.names[info.Name] = true
	e.mu.Unlock()

	f, err := os.OpenFile(e.Path(info), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create edf file: %w", err)
	}
	spr := samplesPerRecord(info.Rate)
	hdr := edf.Header{
		Version:            edf.Version0,
		PatientID:          e.patientID,
		RecordingID:        truncate(fmt.Sprintf("%s %s", e.recordingID, info.SourceID), 80),
		StartTime:          e.now(),
		DataRecordDuration: recordDuration,
		SignalCount:        len(info.Channels),
	}
	lo, hi := info.Min, info.Max
	if hi <= lo {
		lo, hi = -1, 1
	}
	for _, label := range info.Channels {
		hdr.Signals = append(hdr.Signals, edf.Signal{
			Label:             truncate(label, maxLabel),
			TransducerType:    info.Type,
			PhysicalDimension: truncate(info.Unit, maxDim),
			PhysicalMin:       lo,
			PhysicalMax:       hi,
			DigitalMin:        digitalMin,
			DigitalMax:        digitalMax,
			SamplesPerRecord:  spr,
		})
	}
	w, err := edf.Create(f, hdr)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write edf header: %w", err)
	}
	buf := make([][]float64, len(info.Channels))
	for i := range buf {
		buf[i] = make([]float64, 0, spr)
	}
	return &edfChannel{f: f, w: w, spr: spr, buf: buf, lo: lo, hi: hi}, nil
}

func (e *EDFOutput) Markers(output.StreamInfo) (output.MarkerChannel, error) {
	return nil, output.ErrUnsupported
}

func (e *EDFOutput) Close() error { return nil }

// edfChannel buffers one data record per flush. Values are clamped to the
// declared physical range.
type edfChannel struct {
	f      *os.File
	w      *edf.Writer
	spr    int
	buf    [][]float64
	lo, hi float64
	closed bool
}

func (c *edfChannel) Publish(s device.Sample) error {
	if c.closed {
		return errors.New("edf channel closed")
	}
	if len(s.Values) != len(c.buf) {
		return fmt.Errorf("edf: got %d values, want %d", len(s.Values), len(c.buf))
	}
	for i, v := range s.Values {
		c.buf[i] = append(c.buf[i], clamp(v, c.lo, c.hi))
	}
	if len(c.buf[0]) == c.spr {
		return c.flush()
	}
	return nil
}

func (c *edfChannel) flush() error {
	if err := c.w.WriteRecord(c.buf); err != nil {
		return fmt.Errorf("write edf record: %w", err)
	}
	for i := range c.buf {
		c.buf[i] = c.buf[i][:0]
	}
	return nil
}

// Close pads a partial record with the last value, finalises the header
// and closes the file.
func (c *edfChannel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	if n := len(c.buf[0]); n > 0 {
		for i := range c.buf {
			last := c.buf[i][n-1]
			for len(c.buf[i]) < c.spr {
				c.buf[i] = append(c.buf[i], last)
			}
		}
		errs = append(errs, c.flush())
	}
	errs = append(errs, c.w.Close(), c.f.Close())
	return errors.Join(errs...)
}

func samplesPerRecord(rate float64) int {
	n := int(math.Round(rate * recordDuration.Seconds()))
	if n < 1 {
		return 1
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func fileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, name)
}
