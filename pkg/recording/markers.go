// Package recording post-processes EmotiBit recordings exported to CSV.
package recording

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

const (
	ColLSLTimestamp      = "LslMarkerSourceTimestamp"
	ColEmotiBitTimestamp = "EmotiBitTimestamp"
	ColMarker            = "Marker"

	// EmotiBit LM rows: timestamps, packet header, then payload
	lmMinFields      = 9
	lmPayloadStart   = 9
	lmLSLColumn      = 0
	lmEmotiBitColumn = 3
	lmLabelTag       = "LD"
)

type Marker struct {
	LSLTimestamp      float64
	EmotiBitTimestamp float64
	Label             string
}

// ParseMarkers extracts markers from an EmotiBit _LM.csv file. The marker
// is the field after "LD"; without it, a trailing field containing letters
// is used. Rows with unreadable timestamps are skipped.
func ParseMarkers(r io.Reader) ([]Marker, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	var out []Marker
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read marker row: %w", err)
		}
		if len(row) < lmMinFields {
			continue
		}
		lsl, err1 := parseFloat(row[lmLSLColumn])
		emo, err2 := parseFloat(row[lmEmotiBitColumn])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, Marker{LSLTimestamp: lsl, EmotiBitTimestamp: emo, Label: markerLabel(row)})
	}
	return out, nil
}

func markerLabel(row []string) string {
	for i := lmPayloadStart; i < len(row)-1; i++ {
		if strings.TrimSpace(row[i]) == lmLabelTag {
			return strings.TrimSpace(row[i+1])
		}
	}
	if len(row) > lmPayloadStart {
		if last := row[len(row)-1]; strings.IndexFunc(last, unicode.IsLetter) >= 0 {
			return strings.TrimSpace(last)
		}
	}
	return ""
}

// WriteMarkers writes markers as LslMarkerSourceTimestamp,EmotiBitTimestamp,Marker.
func WriteMarkers(w io.Writer, markers []Marker) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColLSLTimestamp, ColEmotiBitTimestamp, ColMarker}); err != nil {
		return err
	}
	for _, m := range markers {
		if err := cw.Write([]string{formatFloat(m.LSLTimestamp), formatFloat(m.EmotiBitTimestamp), m.Label}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
