package metrics

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SamplesPublished.WithLabelValues("EmotiBit_1", "PPG").Add(3)
	m.WorkerFailures.WithLabelValues("EmotiBit_2").Inc()
	m.ActiveWorkers.Set(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.SamplesPublished.WithLabelValues("EmotiBit_1", "PPG")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerFailures.WithLabelValues("EmotiBit_2")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveWorkers))
}

func TestServe(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.MarkersSent.Inc()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, addr, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.True(t, strings.Contains(body, "biostream_markers_sent_total 1"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
