// Package marker sends synchronisation labels typed at the console.
package marker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/biosync/biostream/pkg/metrics"
	"github.com/biosync/biostream/pkg/output"
)

type Config struct {
	// Labels restricts accepted markers; empty accepts anything.
	Labels   []string
	ExitWord string
}

type Sender struct {
	cfg     Config
	ch      output.MarkerChannel
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSender normalises labels and the exit word the same way input lines are.
func NewSender(cfg Config, ch output.MarkerChannel, logger *slog.Logger, m *metrics.Metrics) *Sender {
	labels := make([]string, 0, len(cfg.Labels))
	for _, l := range cfg.Labels {
		if l = normalize(l); l != "" {
			labels = append(labels, l)
		}
	}
	cfg.Labels = labels
	cfg.ExitWord = normalize(cfg.ExitWord)
	if cfg.ExitWord == "" {
		cfg.ExitWord = "exit"
	}
	return &Sender{cfg: cfg, ch: ch, logger: logger, metrics: m, now: time.Now}
}

// Prompt is printed before reading the first marker.
func (s *Sender) Prompt() string {
	if len(s.cfg.Labels) == 0 {
		return fmt.Sprintf("Type a marker, or '%s' to quit.\n", s.cfg.ExitWord)
	}
	quoted := make([]string, len(s.cfg.Labels))
	for i, l := range s.cfg.Labels {
		quoted[i] = "'" + l + "'"
	}
	return fmt.Sprintf("Type %s, or '%s' to quit.\n", strings.Join(quoted, ", "), s.cfg.ExitWord)
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Run reads one marker per line from in until the exit word, EOF or ctx is
// done. It returns the number of markers sent.
func (s *Sender) Run(ctx context.Context, in io.Reader, out io.Writer) (int, error) {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- sc.Err()
	}()

	sent := 0
	for {
		fmt.Fprint(out, "Enter marker: ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return sent, nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out)
			if err := <-errCh; err != nil {
				return sent, fmt.Errorf("read markers: %w", err)
			}
			return sent, nil
		}

		m := normalize(line)
		switch {
		case m == "":
			continue
		case m == s.cfg.ExitWord:
			fmt.Fprintln(out, "Exiting marker sender.")
			return sent, nil
		case len(s.cfg.Labels) > 0 && !slices.Contains(s.cfg.Labels, m):
			fmt.Fprintf(out, "Unknown marker %q\n", m)
			continue
		}

		ts := s.now()
		if err := s.ch.PublishMarker(ts, m); err != nil {
			s.logger.Error("Failed to send marker", slog.String("marker", m), slog.String("error", err.Error()))
			fmt.Fprintf(out, "Marker not sent: %s\n", m)
			continue
		}
		sent++
		s.metrics.MarkersSent.Inc()
		s.logger.Debug("Marker sent", slog.String("marker", m), slog.Time("timestamp", ts))
		fmt.Fprintf(out, "Marker sent: %s at %s\n", m, ts.Format("15:04:05"))
	}
}
