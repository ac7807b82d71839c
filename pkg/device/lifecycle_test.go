package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleOrder(t *testing.T) {
	var l Lifecycle
	noop := func() error { return nil }

	err := l.Start(noop)
	var se *StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "start", se.Op)
	assert.Equal(t, Unopened, se.State)

	require.NoError(t, l.Prepare(noop))
	assert.Equal(t, Prepared, l.State())
	assert.ErrorIs(t, l.Prepare(noop), ErrState)

	require.NoError(t, l.Start(noop))
	assert.Equal(t, Streaming, l.State())
	assert.ErrorIs(t, l.Start(noop), ErrState)

	stops := 0
	stop := func() error { stops++; return nil }
	require.NoError(t, l.Stop(stop))
	require.NoError(t, l.Stop(stop))
	assert.Equal(t, 1, stops)
	assert.Equal(t, Stopped, l.State())

	_, err = l.Poll(func() (Batch, error) { return Batch{}, nil })
	assert.ErrorIs(t, err, ErrState)

	releases := 0
	release := func() error { releases++; return nil }
	require.NoError(t, l.Release(stop, release))
	require.NoError(t, l.Release(stop, release))
	assert.Equal(t, 1, releases)
	assert.Equal(t, 1, stops)
	assert.Equal(t, Released, l.State())
}

func TestLifecycleReleaseWhileStreaming(t *testing.T) {
	var l Lifecycle
	noop := func() error { return nil }
	require.NoError(t, l.Prepare(noop))
	require.NoError(t, l.Start(noop))

	var calls []string
	stopErr := errors.New("stop failed")
	err := l.Release(
		func() error { calls = append(calls, "stop"); return stopErr },
		func() error { calls = append(calls, "release"); return nil },
	)
	assert.ErrorIs(t, err, stopErr)
	assert.Equal(t, []string{"stop", "release"}, calls)
	assert.Equal(t, Released, l.State())
}

func TestLifecycleReleaseUnopened(t *testing.T) {
	var l Lifecycle
	called := false
	require.NoError(t, l.Release(nil, func() error { called = true; return nil }))
	assert.False(t, called)
	assert.Equal(t, Released, l.State())
}

func TestLifecyclePrepareFailure(t *testing.T) {
	var l Lifecycle
	err := l.Prepare(func() error { return &ConnectionError{ID: "x", Err: errors.New("timeout")} })
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, Unopened, l.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "released", Released.String())
	assert.Equal(t, "unknown", State(42).String())
}
