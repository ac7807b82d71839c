package output

import (
	"errors"
	"fmt"
	"time"

	"github.com/biosync/biostream/pkg/device"
)

type multiSink []Sink

// Multi fans every channel out to all sinks.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (m multiSink) Channel(info StreamInfo) (Channel, error) {
	chs := make(multiChannel, 0, len(m))
	for _, s := range m {
		ch, err := s.Channel(info)
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		if err != nil {
			_ = chs.Close()
			return nil, fmt.Errorf("channel %s: %w", info.Name, err)
		}
		chs = append(chs, ch)
	}
	return chs, nil
}

func (m multiSink) Markers(info StreamInfo) (MarkerChannel, error) {
	chs := make(multiMarkers, 0, len(m))
	for _, s := range m {
		ch, err := s.Markers(info)
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		if err != nil {
			_ = chs.Close()
			return nil, fmt.Errorf("markers %s: %w", info.Name, err)
		}
		chs = append(chs, ch)
	}
	if len(chs) == 0 {
		return nil, fmt.Errorf("markers %s: %w", info.Name, ErrUnsupported)
	}
	return chs, nil
}

func (m multiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

type multiChannel []Channel

// Publish writes to every channel; one failing transport does not starve
// the others.
func (m multiChannel) Publish(s device.Sample) error {
	var errs []error
	for _, ch := range m {
		errs = append(errs, ch.Publish(s))
	}
	return errors.Join(errs...)
}

func (m multiChannel) Close() error {
	var errs []error
	for _, ch := range m {
		errs = append(errs, ch.Close())
	}
	return errors.Join(errs...)
}

type multiMarkers []MarkerChannel

func (m multiMarkers) PublishMarker(ts time.Time, marker string) error {
	var errs []error
	for _, ch := range m {
		errs = append(errs, ch.PublishMarker(ts, marker))
	}
	return errors.Join(errs...)
}

func (m multiMarkers) Close() error {
	var errs []error
	for _, ch := range m {
		errs = append(errs, ch.Close())
	}
	return errors.Join(errs...)
}
