package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mergetree/mergetree/internal/model"
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

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScanRecordsEveryEntryExceptRoot(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	ctx := context.Background()

	writeTree(t, root, map[string]string{
		"top.txt":     "x",
		"sub/a.txt":   "aa",
		"sub/b/c.txt": "ccc",
	})

	if err := Scan(ctx, st, root, model.SideA, NewSignal()); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	for rel, wantKind := range map[string]model.Kind{
		"top.txt":     model.KindFile,
		"sub":         model.KindDir,
		"sub/a.txt":   model.KindFile,
		"sub/b":       model.KindDir,
		"sub/b/c.txt": model.KindFile,
	} {
		p, err := st.GetPath(ctx, rel)
		if err != nil {
			t.Fatal(err)
		}
		if p == nil {
			t.Fatalf("path %s not recorded", rel)
		}
		if !p.InA || p.KindA != wantKind {
			t.Fatalf("%s: in_a=%v kind=%s, want kind %s", rel, p.InA, p.KindA, wantKind)
		}
	}

	if p, _ := st.GetPath(ctx, "."); p != nil {
		t.Fatal("root itself must be excluded")
	}
}

func TestScanRecordsFileSizes(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	ctx := context.Background()

	writeTree(t, root, map[string]string{"f.txt": "12345"})

	if err := Scan(ctx, st, root, model.SideB, NewSignal()); err != nil {
		t.Fatal(err)
	}

	p, _ := st.GetPath(ctx, "f.txt")
	if p == nil || !p.InB {
		t.Fatal("f.txt not recorded on side B")
	}
	if p.SizeB != 5 {
		t.Fatalf("size_b = %d, want 5", p.SizeB)
	}
}

func TestScanCapturesSymlinkTargetVerbatim(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	ctx := context.Background()

	if err := os.Symlink("../elsewhere", filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if err := Scan(ctx, st, root, model.SideA, NewSignal()); err != nil {
		t.Fatal(err)
	}

	p, _ := st.GetPath(ctx, "link")
	if p == nil {
		t.Fatal("symlink not recorded")
	}
	if p.KindA != model.KindSymlink {
		t.Fatalf("kind = %s, want symlink", p.KindA)
	}
	if p.SymlinkTargetA != "../elsewhere" {
		t.Fatalf("target = %q, want ../elsewhere", p.SymlinkTargetA)
	}
}

func TestScanBothSidesMergeIntoOneRow(t *testing.T) {
	st := newTestStore(t)
	aRoot := t.TempDir()
	bRoot := t.TempDir()
	ctx := context.Background()

	writeTree(t, aRoot, map[string]string{"shared.txt": "aaa"})
	writeTree(t, bRoot, map[string]string{"shared.txt": "bbbbb"})

	if err := Scan(ctx, st, aRoot, model.SideA, NewSignal()); err != nil {
		t.Fatal(err)
	}
	if err := Scan(ctx, st, bRoot, model.SideB, NewSignal()); err != nil {
		t.Fatal(err)
	}

	p, _ := st.GetPath(ctx, "shared.txt")
	if p == nil || !p.InA || !p.InB {
		t.Fatal("expected one row with both sides set")
	}
	if p.SizeA != 3 || p.SizeB != 5 {
		t.Fatalf("sizes = %d/%d, want 3/5", p.SizeA, p.SizeB)
	}
}

func TestScanStopsOnShutdown(t *testing.T) {
	st := newTestStore(t)
	root := t.TempDir()
	ctx := context.Background()

	writeTree(t, root, map[string]string{"a.txt": "x", "b.txt": "y"})

	sig := NewSignal()
	sig.Trip()
	if err := Scan(ctx, st, root, model.SideA, sig); err != nil {
		t.Fatalf("Scan after shutdown: %v", err)
	}

	if p, _ := st.GetPath(ctx, "a.txt"); p != nil {
		t.Fatal("tripped signal should stop the walk before recording entries")
	}
}
