package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/mergetree/mergetree/internal/coordinator"
	"github.com/mergetree/mergetree/internal/errs"
	"github.com/mergetree/mergetree/internal/model"
	"github.com/mergetree/mergetree/internal/progressui"
	"github.com/mergetree/mergetree/internal/resolver"
	"github.com/mergetree/mergetree/internal/scan"
)

type mergeOptions struct {
	dbPath          string
	reset           bool
	workers         int
	sequentialApply bool
	resolve         string
	noProgress      bool
	verbose         bool
}

func newMergeCmd() *cobra.Command {
	var opts mergeOptions

	cmd := &cobra.Command{
		Use:   "mergetree <source_a> <source_b> <destination>",
		Short: "Merge two directory trees into a fresh destination, resumably",
		Long: `mergetree merges the contents of two source directory trees into a fresh
destination tree. Every path present in either source appears in the
destination; when the same relative path exists in both sources with
differing content, you decide which side wins, and the decision is
recorded durably.

Progress is checkpointed to an embedded database (--db), so a run
interrupted at any point (Ctrl-C, crash, power loss) resumes where it
left off. Work already applied is never redone.

Conflicts are resolved interactively by default. Use --resolve newer or
--resolve older for unattended runs that always pick by modification
time; either way every decision is appended to an immutable audit log
inside the checkpoint database.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.dbPath, "db", "merge_checkpoint.db", "checkpoint database path")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "discard any existing checkpoint state and start fresh")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "hash/apply worker count (default: number of CPUs)")
	cmd.Flags().BoolVar(&opts.sequentialApply, "sequential-apply", false, "finish classifying every path before applying any")
	cmd.Flags().StringVar(&opts.resolve, "resolve", "interactive", "conflict resolution: interactive, newer, or older")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "disable the progress bar")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "structured engine logs on stderr")

	return cmd
}

func runMerge(cmd *cobra.Command, args []string, opts mergeOptions) error {
	res, err := pickResolver(opts.resolve)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage.Err()
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	shutdown := scan.NewSignal()
	stopSignals := installSignalHandler(shutdown)
	defer stopSignals()

	cfg := coordinator.RunConfig{
		ARoot:           args[0],
		BRoot:           args[1],
		DestRoot:        args[2],
		DBPath:          opts.dbPath,
		Reset:           opts.reset,
		Workers:         opts.workers,
		SequentialApply: opts.sequentialApply,
		Resolver:        res,
		Logger:          logger,
	}

	var renderWait func()
	if showProgress(opts) {
		events := make(chan model.ProgressEvent, 8)
		cfg.Progress = events

		renderer := progressui.New(os.Stderr)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			renderer.Run(events)
		}()
		renderWait = func() {
			close(events)
			wg.Wait()
		}
	}

	coord, err := coordinator.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal.Err()
	}
	defer coord.Close()

	summary, err := coord.Run(cmd.Context(), shutdown)
	if renderWait != nil {
		renderWait()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return statusFor(err).Err()
	}

	printSummary(summary)

	switch {
	case shutdown.Requested():
		fmt.Fprintln(os.Stderr, "interrupted; state preserved. Re-run the same command to resume.")
		return exitUserAbort.Err()
	case summary.Failed > 0:
		for _, fp := range summary.FailedPaths {
			fmt.Fprintf(os.Stderr, "failed: %s: %s\n", fp.RelPath, fp.Error)
		}
		return exitSomeFailed.Err()
	default:
		return nil
	}
}

func pickResolver(mode string) (resolver.Resolver, error) {
	switch mode {
	case "interactive":
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return nil, errors.New("stdin is not a terminal; use --resolve newer or --resolve older for unattended runs")
		}
		return resolver.NewInteractive(), nil
	case "newer":
		return resolver.AlwaysPreferNewer(), nil
	case "older":
		return resolver.AlwaysPreferOlder(), nil
	default:
		return nil, fmt.Errorf("unknown --resolve mode %q (want interactive, newer, or older)", mode)
	}
}

func showProgress(opts mergeOptions) bool {
	return !opts.noProgress && isatty.IsTerminal(os.Stderr.Fd())
}

// installSignalHandler trips the shared shutdown flag on the first
// SIGINT/SIGTERM; a second signal within 2 seconds terminates the
// process immediately.
func installSignalHandler(shutdown *scan.Signal) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		_, ok := <-sigCh
		if !ok {
			return
		}
		shutdown.Trip()
		fmt.Fprintln(os.Stderr, "\nshutting down; press Ctrl-C again within 2s to terminate immediately")

		last := time.Now()
		for range sigCh {
			if time.Since(last) < 2*time.Second {
				os.Exit(int(exitUserAbort))
			}
			last = time.Now()
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(sigCh)
	}
}

func statusFor(err error) exitStatus {
	if errors.Is(err, errs.ErrResolverAborted) {
		return exitUserAbort
	}
	// Everything else that escapes the engine is fatal: store
	// unavailable, schema mismatch, root mismatch, unreachable sources,
	// unwritable destination.
	return exitFatal
}

func printSummary(s *model.Summary) {
	fmt.Printf("%s run %s: %d applied, %d conflicts resolved, %d failed\n",
		s.Mode, s.Run.ID, s.Applied, s.Conflicts, s.Failed)
}
