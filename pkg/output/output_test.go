package output

import (
	"errors"
	"testing"
	"time"

	"github.com/biosync/biostream/pkg/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordChannel struct {
	samples []device.Sample
	markers []string
	err     error
	closed  int
}

func (r *recordChannel) Publish(s device.Sample) error {
	if r.err != nil {
		return r.err
	}
	r.samples = append(r.samples, s)
	return nil
}

func (r *recordChannel) PublishMarker(_ time.Time, m string) error {
	r.markers = append(r.markers, m)
	return nil
}

func (r *recordChannel) Close() error { r.closed++; return nil }

type recordSink struct {
	ch       *recordChannel
	noMarker bool
	fail     error
}

func (s *recordSink) Channel(StreamInfo) (Channel, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	return s.ch, nil
}

func (s *recordSink) Markers(StreamInfo) (MarkerChannel, error) {
	if s.noMarker {
		return nil, ErrUnsupported
	}
	return s.ch, nil
}

func (s *recordSink) Close() error { return nil }

func TestNewStreamInfo(t *testing.T) {
	info := NewStreamInfo("EmotiBit_1", "EM-V6-0000099", device.SpecFor(device.SignalPPG))
	assert.Equal(t, "PPG_EmotiBit_1", info.Name)
	assert.Equal(t, "PPG", info.Type)
	assert.Equal(t, "ppg_EM-V6-0000099", info.SourceID)
	assert.Equal(t, 100.0, info.Rate)
	assert.Len(t, info.Channels, 3)
}

func TestMonotonic(t *testing.T) {
	rec := &recordChannel{}
	var dropped []device.Sample
	ch := Monotonic(rec, func(s device.Sample) { dropped = append(dropped, s) })

	t0 := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ch.Publish(device.Sample{Timestamp: t0}))
	require.NoError(t, ch.Publish(device.Sample{Timestamp: t0}))
	require.NoError(t, ch.Publish(device.Sample{Timestamp: t0.Add(time.Second)}))

	err := ch.Publish(device.Sample{Timestamp: t0.Add(500 * time.Millisecond)})
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Len(t, dropped, 1)
	assert.Len(t, rec.samples, 3)

	require.NoError(t, ch.Close())
	assert.Equal(t, 1, rec.closed)
}

func TestMonotonicFailedPublishKeepsLast(t *testing.T) {
	rec := &recordChannel{}
	ch := Monotonic(rec, nil)
	t0 := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ch.Publish(device.Sample{Timestamp: t0}))

	rec.err = errors.New("broker gone")
	assert.Error(t, ch.Publish(device.Sample{Timestamp: t0.Add(2 * time.Second)}))

	rec.err = nil
	assert.NoError(t, ch.Publish(device.Sample{Timestamp: t0.Add(time.Second)}))
}

func TestMultiFanout(t *testing.T) {
	a, b := &recordChannel{}, &recordChannel{}
	sink := Multi(&recordSink{ch: a}, &recordSink{ch: b, noMarker: true})

	ch, err := sink.Channel(StreamInfo{Name: "EDA_EmotiBit_1"})
	require.NoError(t, err)
	require.NoError(t, ch.Publish(device.Sample{Values: []float64{1}}))
	assert.Len(t, a.samples, 1)
	assert.Len(t, b.samples, 1)

	mk, err := sink.Markers(MarkerInfo("DataSyncMarker", "12345"))
	require.NoError(t, err)
	require.NoError(t, mk.PublishMarker(time.Now(), "baseline"))
	assert.Equal(t, []string{"baseline"}, a.markers)
	assert.Empty(t, b.markers)

	require.NoError(t, ch.Close())
	require.NoError(t, sink.Close())
}

func TestMultiPublishContinuesAfterError(t *testing.T) {
	a, b := &recordChannel{err: errors.New("down")}, &recordChannel{}
	sink := Multi(&recordSink{ch: a}, &recordSink{ch: b})
	ch, err := sink.Channel(StreamInfo{Name: "TEMP_EmotiBit_1"})
	require.NoError(t, err)
	assert.Error(t, ch.Publish(device.Sample{}))
	assert.Len(t, b.samples, 1)
}

func TestMultiChannelError(t *testing.T) {
	a := &recordChannel{}
	sink := Multi(&recordSink{ch: a}, &recordSink{fail: errors.New("disk full")})
	_, err := sink.Channel(StreamInfo{Name: "PPG_EmotiBit_1"})
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, a.closed)
}

func TestMultiMarkersUnsupported(t *testing.T) {
	sink := Multi(&recordSink{ch: &recordChannel{}, noMarker: true})
	_, err := sink.Markers(MarkerInfo("DataSyncMarker", "12345"))
	assert.ErrorIs(t, err, ErrUnsupported)
}
