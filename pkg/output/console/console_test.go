package console

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"github.com/biosync/biostream/pkg/device"
	"github.com/biosync/biostream/pkg/output"
)

func captureStdout(f func()) string {
	r, w, _ := os.Pipe()
	stdout := os.Stdout
	os.Stdout = w
	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()
	f()
	_ = w.Close()
	os.Stdout = stdout
	return <-outC
}

func TestConsolePublish(t *testing.T) {
	ts := time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)
	out := captureStdout(func() {
		c := NewConsole()
		ch, err := c.Channel(output.StreamInfo{Name: "PPG_EmotiBit_1"})
		if err != nil {
			t.Fatalf("channel: %v", err)
		}
		_ = ch.Publish(device.Sample{Timestamp: ts, Values: []float64{1.234567, 2}})
	})
	want := "2025-09-19T14:41:54Z stream=PPG_EmotiBit_1 values=1.234567,2.000000\n"
	if out != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestConsoleMarker(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)
	ch, err := c.Markers(output.MarkerInfo("DataSyncMarker", "12345"))
	if err != nil {
		t.Fatalf("markers: %v", err)
	}
	ts := time.Date(2025, 9, 19, 14, 41, 54, 500000000, time.UTC)
	if err := ch.PublishMarker(ts, "baseline"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := "2025-09-19T14:41:54.5Z stream=DataSyncMarker marker=\"baseline\"\n"
	if buf.String() != want {
		t.Fatalf("marker output mismatch:\n got: %q\nwant: %q", buf.String(), want)
	}
}
