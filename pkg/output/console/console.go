package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/biosync/biostream/pkg/device"
	"github.com/biosync/biostream/pkg/output"
)

// ConsoleOutput prints one line per sample or marker. Channels of all
// devices share the writer.
type ConsoleOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole() output.Sink { return NewConsoleWriter(os.Stdout) }

func NewConsoleWriter(w io.Writer) *ConsoleOutput { return &ConsoleOutput{w: w} }

func (c *ConsoleOutput) Channel(info output.StreamInfo) (output.Channel, error) {
	return &consoleChannel{out: c, name: info.Name}, nil
}

func (c *ConsoleOutput) Markers(info output.StreamInfo) (output.MarkerChannel, error) {
	return &consoleChannel{out: c, name: info.Name}, nil
}

func (c *ConsoleOutput) Close() error { return nil }

func (c *ConsoleOutput) println(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, line)
	return err
}

type consoleChannel struct {
	out  *ConsoleOutput
	name string
}

func (c *consoleChannel) Publish(s device.Sample) error {
	vals := make([]string, len(s.Values))
	for i, v := range s.Values {
		vals[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return c.out.println(fmt.Sprintf("%s stream=%s values=%s",
		s.Timestamp.Format(time.RFC3339Nano), c.name, strings.Join(vals, ",")))
}

func (c *consoleChannel) PublishMarker(ts time.Time, marker string) error {
	return c.out.println(fmt.Sprintf("%s stream=%s marker=%q", ts.Format(time.RFC3339Nano), c.name, marker))
}

func (c *consoleChannel) Close() error { return nil }
