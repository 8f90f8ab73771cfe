// Package coordinator owns the merge Run's lifecycle: it
// opens the Store, decides resume vs. fresh, wires the Scanner,
// Fingerprinter, Classifier, Conflict Broker, Resolver, and Applier
// together with Go channels and polling loops, stops gracefully when the
// shutdown Signal passed to Run is tripped, and emits progress events.
// It does not install a signal handler itself; its caller trips the
// Signal.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mergetree/mergetree/internal/apply"
	"github.com/mergetree/mergetree/internal/broker"
	"github.com/mergetree/mergetree/internal/classify"
	"github.com/mergetree/mergetree/internal/errs"
	"github.com/mergetree/mergetree/internal/fingerprint"
	"github.com/mergetree/mergetree/internal/model"
	"github.com/mergetree/mergetree/internal/resolver"
	"github.com/mergetree/mergetree/internal/scan"
	"github.com/mergetree/mergetree/internal/store"
)

// pollInterval is how often the classify/apply dispatch loops re-check
// the Store for newly available work.
const pollInterval = 20 * time.Millisecond

// progressInterval is the rate limit for progress events (10 Hz).
const progressInterval = 100 * time.Millisecond

// RunConfig parameterizes a single merge invocation.
type RunConfig struct {
	ARoot, BRoot, DestRoot string
	DBPath                 string
	Reset                  bool

	// Workers sizes the Fingerprinter and Applier pools; <= 0 defaults to
	// runtime.NumCPU() in each pool's constructor.
	Workers int

	// SequentialApply switches to classify-then-apply mode: the Applier
	// only starts once classification of all currently-known paths has
	// finished. Default (false) runs Apply concurrently with
	// classification.
	SequentialApply bool

	Resolver resolver.Resolver

	// Progress receives progress events if non-nil. Sends are
	// best-effort: a slow consumer drops events, never stalls the run.
	Progress chan<- model.ProgressEvent

	// Logger receives structured lifecycle and per-row failure logs;
	// nil falls back to slog.Default().
	Logger *slog.Logger
}

// Coordinator runs one merge invocation end-to-end.
type Coordinator struct {
	cfg RunConfig
	st  *store.Store
	log *slog.Logger
}

// New opens the Store at cfg.DBPath and returns a Coordinator ready to
// Run.
func New(cfg RunConfig) (*Coordinator, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{cfg: cfg, st: st, log: logger}, nil
}

// Close releases the Store.
func (c *Coordinator) Close() error { return c.st.Close() }

// Run executes the merge: scan, hash, classify, resolve conflicts, and
// apply, until every path reaches a terminal status or shutdown is
// requested. It returns the end-of-run Summary.
func (c *Coordinator) Run(ctx context.Context, shutdown *scan.Signal) (*model.Summary, error) {
	aRoot, err := canonicalRoot(c.cfg.ARoot)
	if err != nil {
		return nil, fmt.Errorf("%w: source A: %v", errs.ErrSourceIO, err)
	}
	bRoot, err := canonicalRoot(c.cfg.BRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: source B: %v", errs.ErrSourceIO, err)
	}
	destRoot, err := filepath.Abs(c.cfg.DestRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: destination: %v", errs.ErrDestinationIO, err)
	}

	run, mode, err := c.st.BeginRun(ctx, aRoot, bRoot, destRoot, c.cfg.Reset)
	if err != nil {
		return nil, err
	}
	c.log.Info("run started", "run_id", run.ID, "mode", string(mode), "phase", string(run.Phase),
		"source_a", aRoot, "source_b", bRoot, "dest", destRoot)

	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create destination root: %v", errs.ErrDestinationIO, err)
	}
	if err := apply.CleanStaleTemps(destRoot, run.ID); err != nil {
		return nil, fmt.Errorf("%w: clean stale temps: %v", errs.ErrDestinationIO, err)
	}

	if mode == model.ModeResumed {
		if err := c.verifyAppliedOnResume(ctx, destRoot); err != nil {
			return nil, err
		}
	}

	if run.Phase == model.PhaseScanning {
		if err := c.runScan(ctx, aRoot, bRoot, shutdown); err != nil {
			return nil, err
		}
		if shutdown.Requested() {
			// The phase stays scanning so a resumed run walks both trees again.
			return c.summarize(ctx, *run, mode)
		}
		if err := c.st.MarkPhase(ctx, model.PhaseHashing); err != nil {
			return nil, err
		}
		c.log.Info("scan complete", "run_id", run.ID)
	}

	res := c.cfg.Resolver
	if res == nil {
		res = resolver.NewInteractive()
	}

	brk := broker.New()
	if err := c.seedBroker(ctx, brk); err != nil {
		return nil, err
	}

	fpPool := fingerprint.NewPool(c.st, c.cfg.Workers)
	fpPool.Start(ctx)

	applyPool := apply.NewPool(c.st, aRoot, bRoot, destRoot, run.ID, c.cfg.Workers)
	applyPool.Start()

	stopProgress := c.startProgress(ctx)
	defer stopProgress()

	// hashDone closes once every hash this run needs has been committed
	// (the hash-job set only shrinks); classifyLoop waits on it before
	// declaring itself permanently idle, since a still-hashing row can
	// become classifiable at any moment. classifyLoop closes the Broker
	// on exit — it is the Broker's only producer — which lets resolveLoop
	// drain whatever is left and terminate without resolution ever gating
	// classification.
	hashDone := make(chan struct{})

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(hashDone)
		return c.hashLoop(egCtx, fpPool, aRoot, bRoot, shutdown)
	})
	eg.Go(func() error {
		defer brk.Close()
		return c.classifyLoop(egCtx, brk, hashDone, shutdown)
	})
	eg.Go(func() error { return c.resolveLoop(egCtx, brk, res, aRoot, bRoot, shutdown) })

	if !c.cfg.SequentialApply {
		eg.Go(func() error { return c.applyLoop(egCtx, applyPool, shutdown) })
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	fpPool.Close()
	if ferr := fpPool.Wait(); ferr != nil {
		return nil, ferr
	}

	if !shutdown.Requested() {
		if err := c.st.MarkPhase(ctx, model.PhaseApplying); err != nil {
			return nil, err
		}
	}

	if c.cfg.SequentialApply && !shutdown.Requested() {
		if err := c.applyLoop(ctx, applyPool, shutdown); err != nil {
			return nil, err
		}
	}

	applyPool.Close()
	stopProgress()

	if shutdown.Requested() {
		_ = c.st.MarkPhase(ctx, model.PhaseAborted)
		c.log.Info("run aborted by operator", "run_id", run.ID)
	} else {
		_ = c.st.MarkPhase(ctx, model.PhaseDone)
		c.log.Info("run complete", "run_id", run.ID)
	}

	return c.summarize(ctx, *run, mode)
}

func canonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// verifyAppliedOnResume re-hashes the destination content of every row
// already marked applied as a file copy whose source side has a recorded
// hash; a row whose content diverged from that hash is demoted back to
// ready and re-applied. Copies with no recorded hash (single-side files,
// size-mismatch conflicts) are not checked.
func (c *Coordinator) verifyAppliedOnResume(ctx context.Context, destRoot string) error {
	rows, err := c.st.AppliedCopies(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		want := row.HashA
		if row.Action.Source == model.SideB {
			want = row.HashB
		}
		if want == nil {
			continue // single-side copies have no recorded hash to check
		}
		destPath := filepath.Join(destRoot, filepath.FromSlash(row.RelPath))
		got, hashErr := fingerprint.HashFile(destPath)
		if hashErr == nil && got == *want {
			continue
		}
		c.log.Warn("applied row diverged, re-applying",
			"rel_path", row.RelPath, "err", errs.ErrHashMismatchOnResume)
		if err := c.st.SetStatus(ctx, row.RelPath, model.StatusReady, ""); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) runScan(ctx context.Context, aRoot, bRoot string, shutdown *scan.Signal) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return scan.Scan(egCtx, c.st, aRoot, model.SideA, shutdown) })
	eg.Go(func() error { return scan.Scan(egCtx, c.st, bRoot, model.SideB, shutdown) })
	return eg.Wait()
}

// seedBroker re-populates the Broker from any rows already
// awaiting_decision on resume, in their original FIFO arrival order.
func (c *Coordinator) seedBroker(ctx context.Context, brk *broker.Broker) error {
	rows, err := c.st.AwaitingDecisionOrdered(ctx)
	if err != nil {
		return err
	}
	brk.Seed(rows)
	return nil
}

// hashLoop feeds the Fingerprinter pool from Store rows that still need
// a hash on at least one side. ClaimHashJobs keeps returning a row until
// its hash actually commits, so three consecutive empty polls mean every
// hash this run needs is durably written.
func (c *Coordinator) hashLoop(ctx context.Context, pool *fingerprint.Pool, aRoot, bRoot string, shutdown *scan.Signal) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	// submitted tracks (rel_path, side) pairs already handed to the pool,
	// so a slow hash on a large file doesn't get resubmitted every poll
	// while its row still shows a null hash in the Store.
	submitted := make(map[string]bool)
	key := func(relPath string, side model.Side) string { return relPath + "|" + side.String() }

	idleRounds := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if shutdown.Requested() {
			return nil
		}

		rows, err := c.st.ClaimHashJobs(ctx, 256)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			idleRounds++
			if idleRounds > 2 {
				return nil
			}
			continue
		}
		idleRounds = 0

		for _, row := range rows {
			if row.NeedsHash(model.SideA) && !submitted[key(row.RelPath, model.SideA)] {
				submitted[key(row.RelPath, model.SideA)] = true
				if err := pool.Submit(ctx, fingerprint.Job{RelPath: row.RelPath, Side: model.SideA, AbsPath: filepath.Join(aRoot, filepath.FromSlash(row.RelPath))}); err != nil {
					return err
				}
			}
			if row.NeedsHash(model.SideB) && !submitted[key(row.RelPath, model.SideB)] {
				submitted[key(row.RelPath, model.SideB)] = true
				if err := pool.Submit(ctx, fingerprint.Job{RelPath: row.RelPath, Side: model.SideB, AbsPath: filepath.Join(bRoot, filepath.FromSlash(row.RelPath))}); err != nil {
					return err
				}
			}
		}
	}
}

// classifyLoop claims unclassified-but-ready-to-classify rows, runs the
// pure Classifier, and persists the result: non-conflict rows advance
// directly to ready; conflict rows are pushed onto the Broker. It exits
// once hashing has finished and no classifiable rows remain.
func (c *Coordinator) classifyLoop(ctx context.Context, brk *broker.Broker, hashDone <-chan struct{}, shutdown *scan.Signal) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	hashingDone := false
	idleRounds := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if shutdown.Requested() {
			return nil
		}
		if !hashingDone {
			select {
			case <-hashDone:
				hashingDone = true
			default:
			}
		}

		rows, err := c.st.ClaimClassifiable(ctx, 256)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			if hashingDone {
				idleRounds++
				if idleRounds > 2 {
					return nil
				}
			}
			continue
		}
		idleRounds = 0

		for _, row := range rows {
			action := classify.Classify(row)
			if err := c.st.SetAction(ctx, row.RelPath, action); err != nil {
				return err
			}
			if action.Type == model.ActionConflict {
				row.Action = &action
				row.Status = model.StatusAwaitingDecision
				brk.Push(row)
			}
		}
	}
}

// resolveLoop drains the Broker, asks the Resolver for a Choice, and
// records the decision. It exits when the Broker
// closes (classification finished) and the queue is drained.
func (c *Coordinator) resolveLoop(ctx context.Context, brk *broker.Broker, res resolver.Resolver, aRoot, bRoot string, shutdown *scan.Signal) error {
	for {
		if shutdown.Requested() || ctx.Err() != nil {
			return nil
		}
		row, ok := brk.Next(ctx)
		if !ok {
			return nil
		}

		candidate := candidateFrom(row, aRoot, bRoot)
		choice, err := res.Resolve(ctx, candidate)
		if err != nil {
			if err == errs.ErrResolverAborted {
				shutdown.Trip()
				return nil
			}
			return err
		}

		winner := model.WinnerFor(choice, candidate.MtimeA, candidate.MtimeB)
		resolved := classify.ResolveConflict(row, winner)

		decision := model.ConflictDecision{
			RelPath:   row.RelPath,
			Choice:    choice,
			Winner:    winner,
			DecidedAt: time.Now(),
		}
		aSnap, bSnap := snapshotJSON(row)
		if err := c.st.RecordDecision(ctx, decision, resolved, aSnap, bSnap); err != nil {
			return err
		}
		c.log.Info("conflict resolved", "rel_path", row.RelPath,
			"choice", string(choice), "winner", winner.String())
	}
}

// applyLoop repeatedly dispatches ready rows to the Applier pool until
// every row has reached a terminal status (or shutdown is requested).
func (c *Coordinator) applyLoop(ctx context.Context, pool *apply.Pool, shutdown *scan.Signal) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	idleRounds := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if shutdown.Requested() {
			return nil
		}

		n, err := pool.Dispatch(ctx, shutdown)
		if err != nil {
			return err
		}
		if n == 0 {
			idleRounds++
			outstanding, err := c.st.CountOutstanding(ctx)
			if err != nil {
				return err
			}
			if outstanding == 0 && idleRounds > 2 {
				return nil
			}
			continue
		}
		idleRounds = 0
	}
}

// startProgress launches the rate-limited progress emitter and returns
// a stop function that is safe to call more than once; it blocks until
// the emitter goroutine has exited.
func (c *Coordinator) startProgress(ctx context.Context) func() {
	if c.cfg.Progress == nil {
		return func() {}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.emitProgress(ctx, stop)
	}()
	return sync.OnceFunc(func() {
		close(stop)
		<-done
	})
}

func (c *Coordinator) emitProgress(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			total, classified, awaiting, applied, failed, err := c.st.Counts(ctx)
			if err != nil {
				continue
			}
			ev := model.ProgressEvent{
				TotalPaths:       total,
				Classified:       classified,
				AwaitingDecision: awaiting,
				Applied:          applied,
				Failed:           failed,
			}
			select {
			case c.cfg.Progress <- ev:
			default:
			}
		}
	}
}

func (c *Coordinator) summarize(ctx context.Context, run model.Run, mode model.RunMode) (*model.Summary, error) {
	_, _, _, applied, failed, err := c.st.Counts(ctx)
	if err != nil {
		return nil, err
	}

	failedRows, err := c.st.QueryFailed(ctx)
	if err != nil {
		return nil, err
	}
	var failedPaths []model.FailedPath
	for _, r := range failedRows {
		failedPaths = append(failedPaths, model.FailedPath{RelPath: r.RelPath, Error: r.Error})
	}

	conflictCount, err := c.st.CountConflictLog(ctx)
	if err != nil {
		return nil, err
	}

	return &model.Summary{
		Run:         run,
		Mode:        mode,
		Applied:     applied,
		Failed:      failed,
		FailedPaths: failedPaths,
		Conflicts:   conflictCount,
	}, nil
}

func candidateFrom(row *model.PathRecord, aRoot, bRoot string) model.Candidate {
	c := model.Candidate{
		RelPath:  row.RelPath,
		KindA:    row.KindA,
		KindB:    row.KindB,
		SizeA:    row.SizeA,
		SizeB:    row.SizeB,
		MtimeA:   time.Unix(0, row.MtimeA),
		MtimeB:   time.Unix(0, row.MtimeB),
		AbsPathA: filepath.Join(aRoot, filepath.FromSlash(row.RelPath)),
		AbsPathB: filepath.Join(bRoot, filepath.FromSlash(row.RelPath)),
	}
	if row.HashA != nil {
		c.HashA = *row.HashA
	}
	if row.HashB != nil {
		c.HashB = *row.HashB
	}
	return c
}

func snapshotJSON(row *model.PathRecord) (string, string) {
	a := fmt.Sprintf(`{"kind":%q,"size":%d,"mtime":%d,"hash":%s,"symlink_target":%q}`,
		row.KindA, row.SizeA, row.MtimeA, hashJSON(row.HashA), row.SymlinkTargetA)
	b := fmt.Sprintf(`{"kind":%q,"size":%d,"mtime":%d,"hash":%s,"symlink_target":%q}`,
		row.KindB, row.SizeB, row.MtimeB, hashJSON(row.HashB), row.SymlinkTargetB)
	return a, b
}

func hashJSON(h *uint64) string {
	if h == nil {
		return "null"
	}
	return fmt.Sprintf("%d", *h)
}
