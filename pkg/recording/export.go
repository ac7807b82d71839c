package recording

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/OpenPSG/edf"
	"github.com/biosync/biostream/pkg/device"
)

const (
	ColTimestamp = "Timestamp"

	// fixed part of an EDF header
	edfFixedHeader = 256
	edfReadChunk   = 1024
)

// edfTiming is what the EDF reader parses but does not expose.
type edfTiming struct {
	start    time.Time
	records  int
	duration time.Duration
	signals  int
}

func readTiming(r io.ReadSeeker) (edfTiming, error) {
	b := make([]byte, edfFixedHeader)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return edfTiming{}, err
	}
	if _, err := io.ReadFull(r, b); err != nil {
		return edfTiming{}, fmt.Errorf("read edf header: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return edfTiming{}, err
	}
	field := func(from, to int) string { return strings.TrimSpace(string(b[from:to])) }

	start, err := time.Parse("02.01.06 15.04.05", field(168, 176)+" "+field(176, 184))
	if err != nil {
		return edfTiming{}, fmt.Errorf("edf start time: %w", err)
	}
	records, err := strconv.Atoi(field(236, 244))
	if err != nil {
		return edfTiming{}, fmt.Errorf("edf data records: %w", err)
	}
	secs, err := strconv.ParseFloat(field(244, 252), 64)
	if err != nil {
		return edfTiming{}, fmt.Errorf("edf record duration: %w", err)
	}
	signals, err := strconv.Atoi(field(252, 256))
	if err != nil {
		return edfTiming{}, fmt.Errorf("edf signal count: %w", err)
	}
	return edfTiming{
		start:    start,
		records:  records,
		duration: time.Duration(secs * float64(time.Second)),
		signals:  signals,
	}, nil
}

// ExportColumns names the value columns of a stream the way the live
// streams label them: PPG_1..PPG_3, EDA, Temperature, otherwise Ch_<j>.
func ExportColumns(stream string, n int) []string {
	sig, _, _ := strings.Cut(stream, "_")
	switch device.Signal(sig) {
	case device.SignalPPG, device.SignalEDA, device.SignalTemp:
		if labels := device.SpecFor(device.Signal(sig)).Channels; len(labels) == n {
			return labels
		}
	}
	cols := make([]string, n)
	for j := range cols {
		cols[j] = "Ch_" + strconv.Itoa(j)
	}
	return cols
}

// ExportEDF writes every sample of an EDF recording of stream as CSV: one
// column per signal, then a Timestamp column in Unix seconds. It returns
// the number of rows written.
func ExportEDF(r io.ReadSeeker, stream string, w io.Writer) (int, error) {
	timing, err := readTiming(r)
	if err != nil {
		return 0, err
	}
	er, err := edf.Open(r)
	if err != nil {
		return 0, fmt.Errorf("open edf: %w", err)
	}

	data := make([][]float64, timing.signals)
	for i := range data {
		sr, err := er.Signal(i)
		if err != nil {
			return 0, fmt.Errorf("signal %d: %w", i, err)
		}
		if data[i], err = readAll(sr); err != nil {
			return 0, fmt.Errorf("signal %d: %w", i, err)
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append(ExportColumns(stream, len(data)), ColTimestamp)); err != nil {
		return 0, err
	}
	rows := 0
	if len(data) > 0 && timing.records > 0 {
		rows = len(data[0])
		for _, d := range data[1:] {
			rows = min(rows, len(d))
		}
	}
	for k := 0; k < rows; k++ {
		rec := make([]string, 0, len(data)+1)
		for i := range data {
			rec = append(rec, formatFloat(data[i][k]))
		}
		rec = append(rec, formatFloat(sampleTime(timing, len(data[0]), k)))
		if err := cw.Write(rec); err != nil {
			return k, err
		}
	}
	cw.Flush()
	return rows, cw.Error()
}

// sampleTime spreads the samples of each record evenly over its duration.
func sampleTime(t edfTiming, total, k int) float64 {
	spr := max(total/t.records, 1)
	offset := t.duration * time.Duration(k/spr)
	offset += time.Duration(float64(t.duration) * float64(k%spr) / float64(spr))
	return float64(t.start.Add(offset).UnixNano()) / float64(time.Second)
}

type sampleReader interface {
	Read([]float64) (int, error)
}

func readAll(sr sampleReader) ([]float64, error) {
	var out []float64
	buf := make([]float64, edfReadChunk)
	for {
		n, err := sr.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
