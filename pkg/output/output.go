// Package output defines named broadcast destinations for device samples
// and console markers.
package output

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/biosync/biostream/pkg/device"
)

var (
	// ErrUnsupported is returned by sinks that cannot carry a stream kind.
	ErrUnsupported = errors.New("stream kind not supported by sink")
	// ErrOutOfOrder is returned when a sample is older than the last one
	// published on the same channel.
	ErrOutOfOrder = errors.New("sample timestamp out of order")
)

// StreamInfo describes one output channel.
type StreamInfo struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Device   string   `json:"device"`
	SourceID string   `json:"source_id"`
	Channels []string `json:"channels"`
	Rate     float64  `json:"rate"`
	Unit     string   `json:"unit"`
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
}

// NewStreamInfo names a device signal stream "<SIGNAL>_<device>" with source
// id "<signal>_<serial>".
func NewStreamInfo(deviceName, serial string, spec device.SignalSpec) StreamInfo {
	return StreamInfo{
		Name:     fmt.Sprintf("%s_%s", spec.Signal, deviceName),
		Type:     string(spec.Signal),
		Device:   deviceName,
		SourceID: fmt.Sprintf("%s_%s", strings.ToLower(string(spec.Signal)), serial),
		Channels: append([]string(nil), spec.Channels...),
		Rate:     spec.Rate,
		Unit:     spec.Unit,
		Min:      spec.Min,
		Max:      spec.Max,
	}
}

// MarkerInfo describes a string marker stream.
func MarkerInfo(name, sourceID string) StreamInfo {
	return StreamInfo{Name: name, Type: "Markers", SourceID: sourceID, Channels: []string{"Marker"}}
}

type Channel interface {
	Publish(device.Sample) error
	Close() error
}

type MarkerChannel interface {
	PublishMarker(ts time.Time, marker string) error
	Close() error
}

// Sink creates channels on one transport.
type Sink interface {
	Channel(StreamInfo) (Channel, error)
	Markers(StreamInfo) (MarkerChannel, error)
	Close() error
}
