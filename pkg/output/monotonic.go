package output

import (
	"fmt"
	"time"

	"github.com/biosync/biostream/pkg/device"
)

type monotonic struct {
	ch     Channel
	last   time.Time
	onDrop func(device.Sample)
}

// Monotonic guards ch against samples older than the last published one.
// Rejected samples are reported to onDrop (may be nil) and yield
// ErrOutOfOrder. Equal timestamps pass.
func Monotonic(ch Channel, onDrop func(device.Sample)) Channel {
	return &monotonic{ch: ch, onDrop: onDrop}
}

func (m *monotonic) Publish(s device.Sample) error {
	if !m.last.IsZero() && s.Timestamp.Before(m.last) {
		if m.onDrop != nil {
			m.onDrop(s)
		}
		return fmt.Errorf("%w: %s before %s", ErrOutOfOrder,
			s.Timestamp.Format(time.RFC3339Nano), m.last.Format(time.RFC3339Nano))
	}
	if err := m.ch.Publish(s); err != nil {
		return err
	}
	m.last = s.Timestamp
	return nil
}

func (m *monotonic) Close() error { return m.ch.Close() }
