package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHashFileEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}

	want, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile (second call): %v", err)
	}
	if got != want {
		t.Fatalf("empty file hash not stable: %d != %d", got, want)
	}
}

func TestHashFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	h1, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hashing the same file twice gave %d and %d", h1, h2)
	}
}

func TestHashFileDiffersOnContent(t *testing.T) {
	dir := t.TempDir()
	pa := filepath.Join(dir, "a.txt")
	pb := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(pa, []byte("content-a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pb, []byte("content-b"), 0o644); err != nil {
		t.Fatal(err)
	}

	ha, err := HashFile(pa)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := HashFile(pb)
	if err != nil {
		t.Fatal(err)
	}
	if ha == hb {
		t.Fatalf("expected different hashes for different content")
	}
}

func TestHashFileMissing(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
