// Package acquisition runs one worker per device and coordinates their
// cooperative shutdown.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/biosync/biostream/pkg/config"
	"github.com/biosync/biostream/pkg/device"
	"github.com/biosync/biostream/pkg/metrics"
	"github.com/biosync/biostream/pkg/output"
)

const DefaultIdle = 10 * time.Millisecond

// Opener opens the session a worker drives. device.Open in production.
type Opener func(ctx context.Context, cfg config.DeviceConfig) (device.Session, error)

type WorkerConfig struct {
	Device     config.DeviceConfig
	Idle       time.Duration
	PublishAll bool
}

// Worker owns exactly one device session and the output channels fed from it.
type Worker struct {
	cfg     WorkerConfig
	open    Opener
	sink    output.Sink
	logger  *slog.Logger
	metrics *metrics.Metrics

	state atomic.Int32
}

type deviceChannel struct {
	spec    device.SignalSpec
	ch      output.Channel
	failing bool
}

func NewWorker(cfg WorkerConfig, open Opener, sink output.Sink, logger *slog.Logger, m *metrics.Metrics) *Worker {
	if cfg.Idle <= 0 {
		cfg.Idle = DefaultIdle
	}
	return &Worker{
		cfg:     cfg,
		open:    open,
		sink:    sink,
		logger:  logger.With(slog.String("device", cfg.Device.Name), slog.String("serial", cfg.Device.Serial)),
		metrics: m,
	}
}

func (w *Worker) Name() string { return w.cfg.Device.Name }

// State is the last observed state of the worker's session.
func (w *Worker) State() device.State { return device.State(w.state.Load()) }

// Run streams until sd is requested or the device fails. Every error and
// panic is returned, never propagated; once the session is open, Stop and
// Release are always attempted before Run returns.
func (w *Worker) Run(ctx context.Context, sd *Shutdown) (err error) {
	defer func() {
		if err != nil {
			w.metrics.WorkerFailures.WithLabelValues(w.Name()).Inc()
			w.logger.Error("Acquisition failed", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Debug("Recovered panic", slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	sess, err := w.open(ctx, w.cfg.Device)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.cfg.Device.Serial, err)
	}
	w.state.Store(int32(sess.State()))

	var channels []*deviceChannel
	defer func() {
		if terr := w.teardown(sess, channels); err == nil {
			err = terr
		}
	}()

	if err := sess.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	w.state.Store(int32(sess.State()))
	w.logger.Info("Streaming started")

	channels, err = w.openChannels(sess)
	if err != nil {
		return err
	}
	w.logger.Info("Output channels ready", slog.Int("channels", len(channels)))

	w.metrics.ActiveWorkers.Inc()
	defer w.metrics.ActiveWorkers.Dec()

	idle := time.NewTimer(w.cfg.Idle)
	defer idle.Stop()
	for !sd.Requested() {
		batch, err := sess.Poll()
		w.metrics.Polls.WithLabelValues(w.Name()).Inc()
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if !batch.Empty() {
			w.publish(batch, channels)
		}

		idle.Reset(w.cfg.Idle)
		select {
		case <-sd.Done():
		case <-idle.C:
		}
	}
	return nil
}

func (w *Worker) openChannels(sess device.Session) ([]*deviceChannel, error) {
	specs := sess.Signals()
	channels := make([]*deviceChannel, 0, len(specs))
	for _, spec := range specs {
		info := output.NewStreamInfo(w.cfg.Device.Name, sess.ID(), spec)
		ch, err := w.sink.Channel(info)
		if err != nil {
			for _, c := range channels {
				_ = c.ch.Close()
			}
			return nil, fmt.Errorf("create output %s: %w", info.Name, err)
		}
		dropped := w.metrics.SamplesDropped.WithLabelValues(w.Name(), string(spec.Signal))
		channels = append(channels, &deviceChannel{
			spec: spec,
			ch:   output.Monotonic(ch, func(device.Sample) { dropped.Inc() }),
		})
	}
	return channels, nil
}

// publish sends new samples of every signal group in declaration order.
// Publish failures are logged once per failing streak and do not stop the
// worker.
func (w *Worker) publish(batch device.Batch, channels []*deviceChannel) {
	for _, dc := range channels {
		samples := batch[dc.spec.Signal]
		if !w.cfg.PublishAll {
			latest, ok := batch.Latest(dc.spec.Signal)
			if !ok {
				continue
			}
			samples = []device.Sample{latest}
		}
		sig := string(dc.spec.Signal)
		for _, s := range samples {
			err := dc.ch.Publish(s)
			switch {
			case err == nil:
				w.metrics.SamplesPublished.WithLabelValues(w.Name(), sig).Inc()
				if dc.failing {
					dc.failing = false
					w.logger.Info("Publishing recovered", slog.String("signal", sig))
				}
			case errors.Is(err, output.ErrOutOfOrder):
				w.logger.Debug("Dropped out-of-order sample", slog.String("signal", sig), slog.String("error", err.Error()))
			default:
				w.metrics.PublishErrors.WithLabelValues(w.Name(), sig).Inc()
				if !dc.failing {
					dc.failing = true
					w.logger.Warn("Publish failed", slog.String("signal", sig), slog.String("error", err.Error()))
				}
			}
		}
	}
}

// teardown stops and releases the session, attempting both regardless of
// failures, then closes the output channels.
func (w *Worker) teardown(sess device.Session, channels []*deviceChannel) error {
	w.logger.Info("Stopping device")
	var errs []error
	if err := sess.Stop(); err != nil {
		w.logger.Warn("Stop failed", slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	if err := sess.Release(); err != nil {
		w.logger.Warn("Release failed", slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("release: %w", err))
	}
	w.state.Store(int32(sess.State()))
	for _, dc := range channels {
		if err := dc.ch.Close(); err != nil {
			w.logger.Warn("Closing output failed", slog.String("signal", string(dc.spec.Signal)), slog.String("error", err.Error()))
		}
	}
	w.logger.Info("Device safely disconnected", slog.String("state", sess.State().String()))
	return errors.Join(errs...)
}
