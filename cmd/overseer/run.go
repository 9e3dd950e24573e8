package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/deixis/overseer/internal/command"
	"github.com/deixis/overseer/internal/logging"
	"github.com/deixis/overseer/internal/logsink"
	"github.com/deixis/overseer/internal/report"
)

// --- run ---

// relayed are the signals passed on to a running child.
var relayed = []os.Signal{os.Interrupt, syscall.SIGTERM}

func runMain(args []string) (int, error) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	timeoutFlag := fs.Duration("timeout", 0, "deadline for the command (default from config, 60s)")
	dirFlag := fs.String("dir", "", "working directory, relative to the repository root")
	nameFlag := fs.String("c", "", "run a configured command by name instead of argv")
	jsonFlag := fs.Bool("json", false, "print the run as JSON instead of echoing output")
	verboseFlag := fs.Bool("v", false, "print a summary even when the command passes")
	_ = fs.Parse(args)

	argv := fs.Args()
	if (*nameFlag == "") == (len(argv) == 0) {
		fmt.Fprintln(os.Stderr, "usage: overseer run [flags] -- program args...")
		fmt.Fprintln(os.Stderr, "       overseer run [flags] -c name")
		return exitUsage, nil
	}

	ctx := context.Background()
	e, err := newEnv(ctx, logging.Console, echoLogger(*jsonFlag))
	if err != nil {
		return exitEngine, err
	}
	defer e.Close()
	// The child has its own process group and never sees the terminal's
	// signals; pass them on and report however it exits.
	e.runner.Relay = relayed

	var run *report.Run
	if *nameFlag != "" {
		run, _, err = e.engine.Command(*nameFlag, *timeoutFlag)
	} else {
		spec := command.FromArgv(argv)
		spec.Dir = *dirFlag
		run, _, err = e.engine.Exec("", spec, *timeoutFlag)
	}
	if run == nil {
		return exitEngine, err
	}

	if *jsonFlag {
		if jerr := writeJSON(os.Stdout, run); jerr != nil {
			return exitEngine, jerr
		}
	} else if *verboseFlag || run.Status != report.Pass {
		fmt.Fprint(os.Stderr, formatSummary(run))
	}
	return exitCode(run), err
}

// echoLogger passes child output straight through, unless the caller
// wants JSON on stdout.
func echoLogger(quiet bool) logsink.Logger {
	if quiet {
		return logsink.Discard
	}
	return &logging.StreamLogger{Out: os.Stdout, Err: os.Stderr}
}

// exitCode maps a finished run to the process exit status: the child's own
// code for a single command, 124 on timeout, 125 when it could not be run.
// Pipelines exit 0 or 1.
func exitCode(run *report.Run) int {
	if run.Kind == report.Pipeline {
		if run.Status == report.Pass {
			return 0
		}
		return 1
	}
	if len(run.Steps) == 0 {
		return exitEngine
	}
	s := run.Steps[0]
	switch s.Status {
	case report.Pass:
		return 0
	case report.Fail:
		if s.ExitCode > 0 {
			return s.ExitCode
		}
		return 1
	case report.Timeout:
		return exitTimeout
	default:
		return exitEngine
	}
}

// --- pipeline ---

func pipelineMain(args []string) (int, error) {
	fs := flag.NewFlagSet("pipeline", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "print the run as JSON instead of echoing output")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: overseer pipeline [flags] NAME")
		return exitUsage, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), relayed...)
	defer stop()

	e, err := newEnv(ctx, logging.Console, echoLogger(*jsonFlag))
	if err != nil {
		return exitEngine, err
	}
	defer e.Close()
	// The running step gets the signal; the pipeline stops before the next.
	e.runner.Relay = relayed

	res, err := e.engine.Pipeline(ctx, fs.Arg(0))
	if res == nil {
		return exitEngine, err
	}

	if *jsonFlag {
		if jerr := writeJSON(os.Stdout, res.Run); jerr != nil {
			return exitEngine, jerr
		}
	} else {
		fmt.Fprint(os.Stderr, formatSummary(res.Run))
	}
	if errors.Is(err, context.Canceled) {
		return 130, nil
	}
	return exitCode(res.Run), err
}

// --- show ---

func showMain(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	stepFlag := fs.String("step", "", "only lines from this step")
	severityFlag := fs.String("severity", "", "only lines of this severity (info|error)")
	containsFlag := fs.String("contains", "", "only lines containing this text")
	jsonFlag := fs.Bool("json", false, "output as JSON")
	limitFlag := fs.Int("n", 20, "number of runs to list when no run ID is given")
	_ = fs.Parse(args)

	q := report.Query{Step: *stepFlag, Contains: *containsFlag}
	if *severityFlag != "" {
		sev, err := logsink.ParseSeverity(*severityFlag)
		if err != nil {
			return err
		}
		q.Severity = &sev
	}

	ctx := context.Background()
	e, err := newEnv(ctx, logging.Console, logsink.Discard)
	if err != nil {
		return err
	}
	defer e.Close()

	if fs.NArg() == 0 {
		runs, err := e.store.recent(ctx, *limitFlag)
		if err != nil {
			return err
		}
		if *jsonFlag {
			return writeJSON(os.Stdout, runs)
		}
		fmt.Print(formatRecent(runs))
		return nil
	}

	run, err := e.engine.Inspect(fs.Arg(0))
	if err != nil {
		return err
	}
	entries := report.Filter(run, q)
	if *jsonFlag {
		if q == (report.Query{}) {
			return writeJSON(os.Stdout, run)
		}
		return writeJSON(os.Stdout, entries)
	}
	fmt.Print(formatSummary(run))
	fmt.Print(formatEntries(entries))
	return nil
}

// --- formatting ---

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatSummary(run *report.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s (run %s)\n", run.Kind, run.Name, strings.ToUpper(string(run.Status)), run.ID)
	for _, s := range run.Steps {
		fmt.Fprintf(&b, "  %-15s %s", s.Name, s.Status)
		switch s.Status {
		case report.Pass, report.Fail:
			fmt.Fprintf(&b, " (exit %d, %s)", s.ExitCode, s.Duration.Round(time.Millisecond))
		case report.Timeout, report.Error:
			fmt.Fprintf(&b, " (%s)", s.Error)
		}
		fmt.Fprintln(&b)
	}
	return b.String()
}

func formatEntries(entries []report.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s [%s] %s\n", e.Step, e.Severity, e.Text)
	}
	return b.String()
}

func formatRecent(runs []report.Run) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}
	var b strings.Builder
	for _, r := range runs {
		fmt.Fprintf(&b, "%s  %s  %-8s %-8s %s\n",
			r.CreatedAt.Local().Format(time.DateTime), r.ID, r.Kind, r.Status, r.Name)
	}
	return b.String()
}
