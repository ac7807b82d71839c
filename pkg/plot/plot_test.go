package plot

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scr = `LocalTimestamp,EmotiBitTimestamp,SA
100.0,1,0.5
101.0,2,nan
102.0,3,0.7
103.5,4,0.9
bad,5,1.0
`

func TestLoadSeries(t *testing.T) {
	s, err := LoadSeries(strings.NewReader(scr), "Finger", "LocalTimestamp", "SA", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Finger", s.Name)
	assert.Equal(t, []float64{2, 3.5}, s.Times)
	assert.Equal(t, []float64{0.7, 0.9}, s.Values)

	_, err = LoadSeries(strings.NewReader(scr), "Finger", "LocalTimestamp", "SF", 0)
	assert.Error(t, err)
}

func TestZScore(t *testing.T) {
	z := ZScore([]float64{1, 2, 3})
	assert.InDelta(t, -1.2247, z[0], 1e-4)
	assert.InDelta(t, 0, z[1], 1e-9)
	assert.InDelta(t, 1.2247, z[2], 1e-4)

	assert.Equal(t, []float64{0, 0}, ZScore([]float64{5, 5}))
	assert.Empty(t, ZScore(nil))
}

func TestSummarize(t *testing.T) {
	odd := Summarize([]float64{3, 1, 2, 10, 4})
	assert.Equal(t, 5, odd.N)
	assert.InDelta(t, 4, odd.Mean, 1e-9)
	assert.InDelta(t, 3, odd.Median, 1e-9)

	even := Summarize([]float64{4, 1, 3, 2})
	assert.InDelta(t, 2.5, even.Mean, 1e-9)
	assert.InDelta(t, 2.5, even.Median, 1e-9)
	assert.Equal(t, "mean=2.500, median=2.500 (n=4)", even.String())

	empty := Summarize(nil)
	assert.Equal(t, 0, empty.N)
	assert.True(t, math.IsNaN(empty.Mean))
}

func TestCommonWindow(t *testing.T) {
	a := Series{Name: "Finger", Times: []float64{2, 3, 4, 5, 6}, Values: []float64{1, 2, 3, 4, 5}}
	b := Series{Name: "Arm", Times: []float64{3.5, 4.5, 5.5, 8}, Values: []float64{10, 20, 30, 40}}
	c := Series{Name: "Empty"}

	out := CommonWindow(a, b, c)
	require.Len(t, out, 3)
	assert.Equal(t, []float64{4, 5, 6}, out[0].Times)
	assert.Equal(t, []float64{3, 4, 5}, out[0].Values)
	assert.Equal(t, []float64{3.5, 4.5, 5.5}, out[1].Times)
	assert.Equal(t, []float64{10, 20, 30}, out[1].Values)
	assert.Empty(t, out[2].Times)
	// inputs are left alone
	assert.Len(t, a.Times, 5)
}

func TestRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scr.png")
	s := Series{Name: "Finger", Times: []float64{0, 1, 2}, Values: []float64{0.1, 0.4, 0.2}}
	require.NoError(t, Render(path, "SCR Amplitude", "uS", s))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(b[:4]))

	assert.Error(t, Render(path, "empty", "uS"))
}
