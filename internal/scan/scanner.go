// Package scan walks the two source trees and turns what it finds into
// Store rows. Each tree is walked independently and concurrently; within
// a single walk, directories are always yielded before their contents.
// The Applier does not depend on that ordering: it creates any missing
// parent directories before writing a file or symlink.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mergetree/mergetree/internal/errs"
	"github.com/mergetree/mergetree/internal/model"
	"github.com/mergetree/mergetree/internal/store"
)

// batchSize bounds how many entries accumulate before a Store commit.
const batchSize = 400

// Scan walks root (one of the two source trees, identified by side) and
// writes every entry below it — excluding the root itself — into the
// Store, batching commits per batchSize. It returns once the walk is
// complete and its final (possibly partial) batch has been committed.
func Scan(ctx context.Context, st *store.Store, root string, side model.Side, shutdown *Signal) error {
	var batch []store.ScanUpsert

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := st.UpsertScanBatch(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walk %s: %v", errs.ErrSourceIO, path, err)
		}
		if shutdown.Requested() {
			return filepath.SkipAll
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("%w: rel %s: %v", errs.ErrSourceIO, path, err)
		}
		if rel == "." {
			return nil // exclude the root itself
		}
		rel = filepath.ToSlash(rel)

		entry, err := describe(path, d)
		if err != nil {
			return err
		}
		entry.RelPath = rel
		entry.Side = side

		batch = append(batch, entry)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	return flush()
}

// describe builds the ScanUpsert for a single directory entry: its kind,
// size (for files), mtime, and, for symlinks, the link target string
// captured verbatim. Symlinks are never followed.
func describe(path string, d fs.DirEntry) (store.ScanUpsert, error) {
	info, err := d.Info()
	if err != nil {
		return store.ScanUpsert{}, fmt.Errorf("%w: stat %s: %v", errs.ErrSourceIO, path, err)
	}

	entry := store.ScanUpsert{Mtime: info.ModTime()}

	switch {
	case d.IsDir():
		entry.Kind = model.KindDir

	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return store.ScanUpsert{}, fmt.Errorf("%w: readlink %s: %v", errs.ErrSourceIO, path, err)
		}
		entry.Kind = model.KindSymlink
		entry.SymlinkTarget = target

	default:
		entry.Kind = model.KindFile
		entry.Size = info.Size()
	}

	return entry, nil
}

// Signal is a minimal shutdown flag every pipeline worker checks
// between units of work.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns a Signal that is not yet tripped.
func NewSignal() *Signal { return &Signal{ch: make(chan struct{})} }

// Trip marks the signal requested. Safe to call more than once.
func (s *Signal) Trip() {
	select {
	case <-s.ch:
	default:
		close(s.ch)
	}
}

// Requested reports whether Trip has been called.
func (s *Signal) Requested() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done exposes the underlying channel for select statements.
func (s *Signal) Done() <-chan struct{} { return s.ch }
