package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/biosync/biostream/pkg/acquisition"
	"github.com/biosync/biostream/pkg/config"
	"github.com/biosync/biostream/pkg/device"
	"github.com/biosync/biostream/pkg/logging"
	"github.com/biosync/biostream/pkg/marker"
	"github.com/biosync/biostream/pkg/metrics"
	"github.com/biosync/biostream/pkg/output"
	"github.com/biosync/biostream/pkg/output/console"
	"github.com/biosync/biostream/pkg/output/edf"
	"github.com/biosync/biostream/pkg/output/mqtt"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// initOutputs builds one sink per configured output, fanned out together.
func initOutputs(cfg config.Config, runID string, stdout io.Writer) (output.Sink, error) {
	sinks := make([]output.Sink, 0, len(cfg.Outputs))
	fail := func(err error) (output.Sink, error) {
		_ = output.Multi(sinks...).Close()
		return nil, err
	}
	for _, o := range cfg.Outputs {
		switch o.Type {
		case "console":
			sinks = append(sinks, console.NewConsoleWriter(stdout))
		case "mqtt":
			m, err := mqtt.NewMQTT(*o.MQTT)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, m)
		case "edf":
			e, err := edf.NewEDF(*o.EDF, runID)
			if err != nil {
				return fail(err)
			}
			sinks = append(sinks, e)
		default:
			return fail(fmt.Errorf("unsupported output: %s", o.Type))
		}
	}
	return output.Multi(sinks...), nil
}

func buildWorkers(cfg config.Config, open acquisition.Opener, sink output.Sink, logger *slog.Logger, m *metrics.Metrics) []*acquisition.Worker {
	workers := make([]*acquisition.Worker, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		workers = append(workers, acquisition.NewWorker(acquisition.WorkerConfig{
			Device:     d,
			Idle:       time.Duration(cfg.IdleMs) * time.Millisecond,
			PublishAll: cfg.Publish == config.PublishAll,
		}, open, sink, logger, m))
	}
	return workers
}

// setup holds what every online command needs.
type setup struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	sink    output.Sink
	runID   string
	closers []io.Closer
}

func newSetup(ctx context.Context, name string, args []string, stdout io.Writer) (*setup, error) {
	cfg, err := config.Load(name, args)
	if err != nil {
		return nil, err
	}
	logger, logCloser := logging.New(cfg.Logging)
	s := &setup{cfg: cfg, logger: logger, runID: uuid.NewString(), closers: []io.Closer{logCloser}}

	reg := prometheus.NewRegistry()
	s.metrics = metrics.New(reg)
	if cfg.MetricsAddress != "" {
		go func() {
			if err := s.metrics.Serve(ctx, cfg.MetricsAddress, logger); err != nil {
				logger.Error("Metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	s.sink, err = initOutputs(cfg, s.runID, stdout)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append([]io.Closer{s.sink}, s.closers...)
	return s, nil
}

func (s *setup) Close() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}

func runStream(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSetup(ctx, "stream", args, stdout)
	if err != nil {
		return err
	}
	defer s.Close()

	s.logger.Info("Starting acquisition",
		slog.String("run_id", s.runID),
		slog.Int("devices", len(s.cfg.Devices)),
		slog.Int("idle_ms", s.cfg.IdleMs),
		slog.String("publish", s.cfg.Publish),
	)

	sd := acquisition.NewShutdown()
	sup := acquisition.NewSupervisor(sd, buildWorkers(s.cfg, device.Open, s.sink, s.logger, s.metrics)...)
	sup.Start(ctx)
	// nothing left to monitor once every worker has exited on its own
	go func() {
		sup.Wait()
		sd.Request()
	}()

	select {
	case <-time.After(time.Duration(s.cfg.StartupDelayMs) * time.Millisecond):
	case <-sd.Done():
	case <-ctx.Done():
	}
	fmt.Fprintln(stdout, "\nStreaming started for all devices.")
	fmt.Fprintf(stdout, "Press '%s' (and ENTER) to stop safely.\n\n", s.cfg.StopKey)

	reason := acquisition.WatchInput(ctx, stdin, s.cfg.StopKey, sd)
	s.logger.Info("Shutdown requested", slog.String("reason", string(reason)))
	fmt.Fprintln(stdout, "Stopping all devices...")

	results := sup.Wait()
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			s.logger.Warn("Device finished with error", slog.String("device", r.Device), slog.String("state", r.State.String()), slog.String("error", r.Err.Error()))
			continue
		}
		s.logger.Info("Device finished", slog.String("device", r.Device), slog.String("state", r.State.String()))
	}
	if failed > 0 {
		fmt.Fprintf(stdout, "%d of %d devices failed; the others stopped and released cleanly.\n", failed, len(results))
		return nil
	}
	fmt.Fprintln(stdout, "All devices stopped and released cleanly.")
	return nil
}

func runMarkers(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSetup(ctx, "markers", args, stdout)
	if err != nil {
		return err
	}
	defer s.Close()

	mc, err := s.sink.Markers(output.MarkerInfo(s.cfg.Markers.StreamName, s.cfg.Markers.SourceID))
	if errors.Is(err, output.ErrUnsupported) {
		return fmt.Errorf("no configured output can carry markers: %w", err)
	}
	if err != nil {
		return err
	}
	defer mc.Close()

	sender := marker.NewSender(marker.Config{Labels: s.cfg.Markers.Labels, ExitWord: s.cfg.Markers.ExitWord}, mc, s.logger, s.metrics)
	fmt.Fprintf(stdout, "Marker stream %s ready.\n%s\n", s.cfg.Markers.StreamName, sender.Prompt())
	n, err := sender.Run(ctx, stdin, stdout)
	s.logger.Info("Marker session ended", slog.Int("sent", n))
	return err
}
