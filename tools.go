package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/biosync/biostream/pkg/plot"
	"github.com/biosync/biostream/pkg/recording"
)

func runMergePPG(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("merge-ppg", flag.ContinueOnError)
	dir := fs.String("dir", ".", "Directory holding the EmotiBit exports")
	prefix := fs.String("prefix", "", "Export file prefix, e.g. leftFingerData")
	out := fs.String("out", "", "Output directory (default <dir>/output)")
	tagList := fs.String("tags", "PI,PG,PR", "Comma-separated PPG tags to merge")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *prefix == "" {
		return fmt.Errorf("merge-ppg: -prefix is required")
	}
	if *out == "" {
		*out = filepath.Join(*dir, "output")
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	markers, err := readMarkers(filepath.Join(*dir, *prefix+"_LM.csv"))
	if err != nil {
		return err
	}
	lmPath := filepath.Join(*out, *prefix+"_LM_cleaned.csv")
	if err := writeFile(lmPath, func(w io.Writer) error { return recording.WriteMarkers(w, markers) }); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Saved %d markers to %s\n", len(markers), lmPath)

	var tags []string
	var series []recording.Tagged
	for _, tag := range strings.Split(*tagList, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		t, err := readTagged(filepath.Join(*dir, *prefix+"_"+tag+".csv"), tag)
		if err != nil {
			return err
		}
		tags = append(tags, tag)
		series = append(series, t)
	}
	rows := recording.MergeTagged(series...)
	ppgPath := filepath.Join(*out, *prefix+"_PPG_combined.csv")
	if err := writeFile(ppgPath, func(w io.Writer) error { return recording.WriteMerged(w, tags, rows) }); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Saved %d PPG rows to %s\n", len(rows), ppgPath)
	return nil
}

func readMarkers(path string) ([]recording.Marker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	markers, err := recording.ParseMarkers(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return markers, nil
}

func readTagged(path, tag string) (recording.Tagged, error) {
	f, err := os.Open(path)
	if err != nil {
		return recording.Tagged{}, err
	}
	defer f.Close()
	return recording.LoadTagged(f, tag)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func runPlot(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	out := fs.String("out", "plot.png", "Output PNG file")
	title := fs.String("title", "", "Plot title")
	ylabel := fs.String("ylabel", "", "Y axis label (default: value column)")
	tsCol := fs.String("ts", "LocalTimestamp", "Timestamp column")
	col := fs.String("col", "", "Value column")
	skip := fs.Duration("skip", 2*time.Second, "Leading time to drop from each series")
	zscore := fs.Bool("zscore", false, "Normalize each series to z-scores")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *col == "" {
		return fmt.Errorf("plot: -col is required")
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("plot: no input files")
	}
	if *ylabel == "" {
		*ylabel = *col
		if *zscore {
			*ylabel += " (z-score)"
		}
	}

	series := make([]plot.Series, 0, fs.NArg())
	summaries := make([]plot.Summary, 0, fs.NArg())
	for _, arg := range fs.Args() {
		name, path := seriesName(arg)
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		s, err := plot.LoadSeries(f, name, *tsCol, *col, *skip)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if len(s.Values) == 0 {
			fmt.Fprintf(stdout, "%s: no %s samples after trimming\n", name, *col)
			continue
		}
		series = append(series, s)
		summaries = append(summaries, plot.Summarize(s.Values))
	}

	fmt.Fprintf(stdout, "=== %s summary ===\n", *col)
	var drawn []plot.Series
	for i, s := range plot.CommonWindow(series...) {
		fmt.Fprintf(stdout, "%s: %s, %d in common window\n", s.Name, summaries[i], len(s.Values))
		if len(s.Values) == 0 {
			continue
		}
		if *zscore {
			s.Values = plot.ZScore(s.Values)
		}
		s.Name = fmt.Sprintf("%s (mean=%.2f, med=%.2f)", s.Name, summaries[i].Mean, summaries[i].Median)
		drawn = append(drawn, s)
	}
	series = drawn
	if err := plot.Render(*out, *title, *ylabel, series...); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Saved plot to %s\n", *out)
	return nil
}

// seriesName accepts "name=path" or a bare path named after its file.
func seriesName(arg string) (string, string) {
	if name, path, ok := strings.Cut(arg, "="); ok && name != "" {
		return name, path
	}
	return strings.TrimSuffix(filepath.Base(arg), filepath.Ext(arg)), arg
}

func runExport(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("out", "", "Output directory (default csv_exports next to the first file)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("export: no EDF files")
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(fs.Arg(0)), "csv_exports")
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	for _, path := range fs.Args() {
		stream := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		csvPath := filepath.Join(*out, stream+".csv")
		var rows int
		err = writeFile(csvPath, func(w io.Writer) error {
			var err error
			rows, err = recording.ExportEDF(f, stream, w)
			return err
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(stdout, "Saved %d rows to %s\n", rows, csvPath)
	}
	fmt.Fprintf(stdout, "All streams exported to %s\n", *out)
	return nil
}
