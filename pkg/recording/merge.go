package recording

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

type timeKey struct {
	lsl, emo float64
}

type taggedRow struct {
	key   timeKey
	value float64
}

// Tagged is one EmotiBit per-tag export (PI, PG, PR, ...) in file order.
// Rows sharing a timestamp pair are all kept.
type Tagged struct {
	Tag  string
	rows []taggedRow
}

// Len is the number of rows loaded.
func (t Tagged) Len() int { return len(t.rows) }

// MergedRow is one row of the outer join. Values has one entry per tag;
// Present marks which of them were recorded at this timestamp.
type MergedRow struct {
	LSLTimestamp      float64
	EmotiBitTimestamp float64
	Values            []float64
	Present           []bool
}

// LoadTagged reads the timestamp columns and the tag column from an
// EmotiBit per-tag CSV. Rows whose value is not numeric are skipped.
func LoadTagged(r io.Reader, tag string) (Tagged, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return Tagged{}, fmt.Errorf("read %s header: %w", tag, err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	cols := make([]int, 0, 3)
	for _, name := range []string{ColLSLTimestamp, ColEmotiBitTimestamp, tag} {
		i, ok := idx[name]
		if !ok {
			return Tagged{}, fmt.Errorf("%s: missing column %q", tag, name)
		}
		cols = append(cols, i)
	}

	t := Tagged{Tag: tag}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Tagged{}, fmt.Errorf("read %s row: %w", tag, err)
		}
		if len(row) <= max(cols[0], cols[1], cols[2]) {
			continue
		}
		lsl, err1 := parseFloat(row[cols[0]])
		emo, err2 := parseFloat(row[cols[1]])
		v, err3 := parseFloat(row[cols[2]])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		t.rows = append(t.rows, taggedRow{key: timeKey{lsl, emo}, value: v})
	}
	return t, nil
}

// MergeTagged outer-joins series on both timestamps one after another,
// ordered by the LSL timestamp. A timestamp pair repeated in several series
// yields one row per combination of their values.
func MergeTagged(series ...Tagged) []MergedRow {
	var rows []MergedRow
	for i, s := range series {
		byKey := make(map[timeKey][]float64, len(s.rows))
		for _, r := range s.rows {
			byKey[r.key] = append(byKey[r.key], r.value)
		}

		matched := map[timeKey]bool{}
		next := make([]MergedRow, 0, len(rows)+len(s.rows))
		for _, row := range rows {
			k := timeKey{row.LSLTimestamp, row.EmotiBitTimestamp}
			vals, ok := byKey[k]
			if !ok {
				next = append(next, row)
				continue
			}
			matched[k] = true
			for _, v := range vals {
				r := row.clone()
				r.Values[i], r.Present[i] = v, true
				next = append(next, r)
			}
		}
		for _, r := range s.rows {
			if matched[r.key] {
				continue
			}
			row := newMergedRow(r.key, len(series))
			row.Values[i], row.Present[i] = r.value, true
			next = append(next, row)
		}
		rows = next
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].LSLTimestamp != rows[j].LSLTimestamp {
			return rows[i].LSLTimestamp < rows[j].LSLTimestamp
		}
		return rows[i].EmotiBitTimestamp < rows[j].EmotiBitTimestamp
	})
	return rows
}

func newMergedRow(k timeKey, n int) MergedRow {
	return MergedRow{
		LSLTimestamp:      k.lsl,
		EmotiBitTimestamp: k.emo,
		Values:            make([]float64, n),
		Present:           make([]bool, n),
	}
}

func (r MergedRow) clone() MergedRow {
	r.Values = append([]float64(nil), r.Values...)
	r.Present = append([]bool(nil), r.Present...)
	return r
}

// WriteMerged writes rows with one column per tag; missing cells are empty.
func WriteMerged(w io.Writer, tags []string, rows []MergedRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{ColLSLTimestamp, ColEmotiBitTimestamp}, tags...)); err != nil {
		return err
	}
	for _, r := range rows {
		rec := make([]string, 0, 2+len(tags))
		rec = append(rec, formatFloat(r.LSLTimestamp), formatFloat(r.EmotiBitTimestamp))
		for i := range tags {
			if i < len(r.Present) && r.Present[i] {
				rec = append(rec, formatFloat(r.Values[i]))
			} else {
				rec = append(rec, "")
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
