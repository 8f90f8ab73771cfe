package apply

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mergetree/mergetree/internal/model"
	"github.com/mergetree/mergetree/internal/scan"
	"github.com/mergetree/mergetree/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func setupRow(t *testing.T, st *store.Store, relPath string, action model.Action) {
	t.Helper()
	ctx := context.Background()
	kind := model.KindFile
	if action.Type == model.ActionCreateSymlink {
		kind = model.KindSymlink
	}
	if err := st.UpsertScanBatch(ctx, []store.ScanUpsert{
		{RelPath: relPath, Side: model.SideA, Kind: kind, Mtime: time.Now(), SymlinkTarget: action.SymlinkTarget},
	}); err != nil {
		t.Fatalf("seed row: %v", err)
	}
	if err := st.SetAction(ctx, relPath, action); err != nil {
		t.Fatalf("SetAction: %v", err)
	}
}

func TestApplyMkdirCreatesNestedDir(t *testing.T) {
	st := newTestStore(t)
	dest := t.TempDir()
	ctx := context.Background()

	setupRow(t, st, "a/b", model.Action{Type: model.ActionMkdir})

	pool := NewPool(st, t.TempDir(), t.TempDir(), dest, "run1", 2)
	pool.Start()

	n, err := pool.Dispatch(ctx, scan.NewSignal())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("dispatched %d, want 1", n)
	}
	pool.Close()

	info, err := os.Stat(filepath.Join(dest, "a", "b"))
	if err != nil {
		t.Fatalf("expected directory created: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected a directory")
	}

	row, err := st.GetPath(ctx, "a/b")
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != model.StatusApplied {
		t.Fatalf("status = %s, want applied", row.Status)
	}
}

func TestApplyCopyFromLeavesNoTemp(t *testing.T) {
	st := newTestStore(t)
	srcRoot := t.TempDir()
	dest := t.TempDir()
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(srcRoot, "file.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	setupRow(t, st, "file.txt", model.Action{Type: model.ActionCopyFrom, Source: model.SideA})

	pool := NewPool(st, srcRoot, t.TempDir(), dest, "run1", 2)
	pool.Start()
	if _, err := pool.Dispatch(ctx, scan.NewSignal()); err != nil {
		t.Fatal(err)
	}
	pool.Close()

	got, err := os.ReadFile(filepath.Join(dest, "file.txt"))
	if err != nil {
		t.Fatalf("expected file copied: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want hello", got)
	}

	if _, err := os.Stat(filepath.Join(dest, "file.txt.part.run1")); !os.IsNotExist(err) {
		t.Fatalf("expected temp file cleaned up, stat err = %v", err)
	}
}

func TestApplySymlinkSkipsIdenticalTarget(t *testing.T) {
	st := newTestStore(t)
	dest := t.TempDir()
	ctx := context.Background()

	linkPath := filepath.Join(dest, "link")
	if err := os.Symlink("target", linkPath); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	setupRow(t, st, "link", model.Action{Type: model.ActionCreateSymlink, Source: model.SideA, SymlinkTarget: "target"})

	pool := NewPool(st, t.TempDir(), t.TempDir(), dest, "run1", 1)
	pool.Start()
	if _, err := pool.Dispatch(ctx, scan.NewSignal()); err != nil {
		t.Fatal(err)
	}
	pool.Close()

	row, err := st.GetPath(ctx, "link")
	if err != nil {
		t.Fatal(err)
	}
	if row.Status != model.StatusApplied {
		t.Fatalf("status = %s, want applied", row.Status)
	}
}

func TestDispatchNeverDoubleClaims(t *testing.T) {
	st := newTestStore(t)
	dest := t.TempDir()
	ctx := context.Background()

	setupRow(t, st, "a", model.Action{Type: model.ActionMkdir})

	pool := NewPool(st, t.TempDir(), t.TempDir(), dest, "run1", 1)
	// Simulate the row still being in flight (no worker started to drain it).
	pool.mu.Lock()
	pool.inFlight["a"] = true
	pool.mu.Unlock()

	n, err := pool.Dispatch(ctx, scan.NewSignal())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("dispatched %d rows that were already in flight, want 0", n)
	}
}

func TestCleanStaleTempsRemovesOtherRuns(t *testing.T) {
	dest := t.TempDir()
	stale := filepath.Join(dest, "file.txt.part.oldrun")
	current := filepath.Join(dest, "other.txt.part.newrun")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(current, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CleanStaleTemps(dest, "newrun"); err != nil {
		t.Fatalf("CleanStaleTemps: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected stale temp removed")
	}
	if _, err := os.Stat(current); err != nil {
		t.Fatal("expected current run's temp left alone")
	}
}
