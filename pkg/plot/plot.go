// Package plot renders recorded signal series to PNG.
package plot

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Series is a named signal over time relative to its first sample.
type Series struct {
	Name   string
	Times  []float64 // seconds
	Values []float64
}

// LoadSeries reads tsCol and valueCol from a CSV. Non-finite rows are
// dropped, time is made relative to the first remaining row, and samples
// earlier than skip are trimmed.
func LoadSeries(r io.Reader, name, tsCol, valueCol string, skip time.Duration) (Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return Series{}, fmt.Errorf("read header: %w", err)
	}
	ti, vi := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case tsCol:
			ti = i
		case valueCol:
			vi = i
		}
	}
	if ti < 0 || vi < 0 {
		return Series{}, fmt.Errorf("columns %q and %q are required", tsCol, valueCol)
	}

	s := Series{Name: name}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Series{}, fmt.Errorf("read row: %w", err)
		}
		if len(row) <= max(ti, vi) {
			continue
		}
		ts, err1 := strconv.ParseFloat(strings.TrimSpace(row[ti]), 64)
		v, err2 := strconv.ParseFloat(strings.TrimSpace(row[vi]), 64)
		if err1 != nil || err2 != nil || !finite(ts) || !finite(v) {
			continue
		}
		s.Times = append(s.Times, ts)
		s.Values = append(s.Values, v)
	}
	if len(s.Times) == 0 {
		return s, nil
	}

	t0 := s.Times[0]
	keep := 0
	for i := range s.Times {
		rel := s.Times[i] - t0
		if rel < skip.Seconds() {
			continue
		}
		s.Times[keep], s.Values[keep] = rel, s.Values[i]
		keep++
	}
	s.Times, s.Values = s.Times[:keep], s.Values[:keep]
	return s, nil
}

// ZScore standardises values with the population standard deviation. A
// constant series is only centred.
func ZScore(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	for i, v := range values {
		out[i] = v - mean
		if std != 0 && finite(std) {
			out[i] /= std
		}
	}
	return out
}

// Summary holds the statistics reported for one series.
type Summary struct {
	N      int
	Mean   float64
	Median float64
}

func (s Summary) String() string {
	return fmt.Sprintf("mean=%.3f, median=%.3f (n=%d)", s.Mean, s.Median, s.N)
}

// Summarize computes the mean and median of values. The median of an even
// count is the midpoint of the two middle values.
func Summarize(values []float64) Summary {
	n := len(values)
	if n == 0 {
		return Summary{Mean: math.NaN(), Median: math.NaN()}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return Summary{N: n, Mean: stat.Mean(values, nil), Median: median}
}

// CommonWindow cuts every series to the time range all non-empty series
// share. Empty series are returned unchanged.
func CommonWindow(series ...Series) []Series {
	start, end := math.Inf(-1), math.Inf(1)
	for _, s := range series {
		if len(s.Times) == 0 {
			continue
		}
		start = max(start, s.Times[0])
		end = min(end, s.Times[len(s.Times)-1])
	}
	out := make([]Series, len(series))
	for i, s := range series {
		cut := Series{Name: s.Name}
		for j, t := range s.Times {
			if t >= start && t <= end {
				cut.Times = append(cut.Times, t)
				cut.Values = append(cut.Values, s.Values[j])
			}
		}
		out[i] = cut
	}
	return out
}

// Render draws every series as a line and saves a PNG at path.
func Render(path, title, ylabel string, series ...Series) error {
	if len(series) == 0 {
		return errors.New("nothing to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = ylabel
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	lines := make([]interface{}, 0, 2*len(series))
	for _, s := range series {
		xys := make(plotter.XYs, len(s.Times))
		for i := range s.Times {
			xys[i] = plotter.XY{X: s.Times[i], Y: s.Values[i]}
		}
		lines = append(lines, s.Name, xys)
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return fmt.Errorf("add lines: %w", err)
	}
	if err := p.Save(14*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
