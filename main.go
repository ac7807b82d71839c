package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

const usage = `usage: biostream [command] [flags]

commands:
  stream      stream every configured device until stopped (default)
  markers     send console markers on the marker stream
  merge-ppg   extract LM markers and merge PI/PG/PR exports
  plot        plot CSV series to PNG
  export      convert EDF recordings to CSV
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "biostream: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	cmd := "stream"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "stream":
		return runStream(ctx, args, stdin, stdout)
	case "markers":
		return runMarkers(ctx, args, stdin, stdout)
	case "merge-ppg":
		return runMergePPG(args, stdout)
	case "plot":
		return runPlot(args, stdout)
	case "export":
		return runExport(args, stdout)
	case "help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}
