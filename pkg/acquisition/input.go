package acquisition

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// StopReason tells why WatchInput returned.
type StopReason string

const (
	StopInput     StopReason = "input"
	StopEOF       StopReason = "eof"
	StopSignal    StopReason = "signal"
	StopRequested StopReason = "requested"
)

// WatchInput blocks until shutdown is requested: by a line equal to key
// (case-insensitive), by r reaching EOF, by ctx being cancelled, or
// elsewhere through sd.
func WatchInput(ctx context.Context, r io.Reader, key string, sd *Shutdown) StopReason {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-sd.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			sd.Request()
			return StopSignal
		case <-sd.Done():
			return StopRequested
		case line, ok := <-lines:
			if !ok {
				sd.Request()
				return StopEOF
			}
			if strings.EqualFold(strings.TrimSpace(line), key) {
				sd.Request()
				return StopInput
			}
		}
	}
}
