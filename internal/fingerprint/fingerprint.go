// Package fingerprint runs the parallel content-hashing stage of the
// merge pipeline: a fixed-size worker pool streams each
// candidate file through a 64-bit non-cryptographic digest and writes
// the result back to the Store. Files are never held fully in memory.
package fingerprint

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/mergetree/mergetree/internal/errs"
	"github.com/mergetree/mergetree/internal/model"
	"github.com/mergetree/mergetree/internal/store"
)

// chunkSize is the read buffer used while streaming a file into the
// hasher.
const chunkSize = 256 * 1024

// Job is one side of a path that still needs hashing.
type Job struct {
	RelPath string
	Side    model.Side
	AbsPath string
}

// Pool hashes Jobs off a bounded input queue using a fixed number of
// workers (default runtime.NumCPU()). The queue depth is 4x the worker
// count; Submit blocks when it is full, which is the intended flow
// control for the feeding side.
type Pool struct {
	st      *store.Store
	jobs    chan Job
	size    int
	wg      sync.WaitGroup
	errOnce sync.Once
	fatal   error
}

// NewPool creates a Pool with the given worker count. A count <= 0
// defaults to runtime.NumCPU().
func NewPool(st *store.Store, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{
		st:   st,
		jobs: make(chan Job, workers*4),
		size: workers,
	}
}

// Start launches the worker goroutines. Call Close, then Wait, to drain
// and wait.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit enqueues a Job, blocking if the queue is full. Returns ctx.Err()
// if the context is cancelled while waiting.
func (p *Pool) Submit(ctx context.Context, j Job) error {
	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close signals no more jobs will be submitted; workers drain the queue
// and exit. Call Wait afterward.
func (p *Pool) Close() { close(p.jobs) }

// Wait blocks until every worker has exited, returning the first fatal
// (Store) error encountered, if any.
func (p *Pool) Wait() error {
	p.wg.Wait()
	return p.fatal
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for j := range p.jobs {
		if ctx.Err() != nil {
			continue // drain remaining jobs without doing new I/O
		}
		p.handle(ctx, j)
	}
}

func (p *Pool) handle(ctx context.Context, j Job) {
	h, err := HashFile(j.AbsPath)
	if err != nil {
		wrapped := fmt.Errorf("%w: hash %s: %v", errs.ErrSourceIO, j.AbsPath, err)
		if setErr := p.st.SetStatus(ctx, j.RelPath, model.StatusFailed, wrapped.Error()); setErr != nil {
			p.recordFatal(setErr)
		}
		return
	}
	if setErr := p.st.SetHash(ctx, j.RelPath, j.Side, h); setErr != nil {
		p.recordFatal(setErr)
	}
}

func (p *Pool) recordFatal(err error) {
	p.errOnce.Do(func() { p.fatal = err })
}

// HashFile streams path through an xxhash digest in chunkSize reads,
// never holding the file fully in memory. An empty file hashes to
// xxhash's digest of the empty byte string.
func HashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
