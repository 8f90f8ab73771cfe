package broker

import (
	"context"
	"testing"
	"time"

	"github.com/mergetree/mergetree/internal/model"
)

func TestFIFOOrder(t *testing.T) {
	b := New()
	b.Push(&model.PathRecord{RelPath: "a"})
	b.Push(&model.PathRecord{RelPath: "b"})
	b.Push(&model.PathRecord{RelPath: "c"})

	for _, want := range []string{"a", "b", "c"} {
		p, ok := b.Next(context.Background())
		if !ok {
			t.Fatalf("expected a row")
		}
		if p.RelPath != want {
			t.Fatalf("got %s, want %s", p.RelPath, want)
		}
	}
}

func TestNextBlocksUntilPush(t *testing.T) {
	b := New()
	result := make(chan *model.PathRecord, 1)
	go func() {
		p, _ := b.Next(context.Background())
		result <- p
	}()

	select {
	case <-result:
		t.Fatal("Next returned before any row was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	b.Push(&model.PathRecord{RelPath: "late"})
	select {
	case p := <-result:
		if p.RelPath != "late" {
			t.Fatalf("got %s", p.RelPath)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not unblock after Push")
	}
}

func TestNextRespectsContextCancellation(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := b.Next(ctx)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected Next to report no row after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after context cancellation")
	}
}

func TestClose(t *testing.T) {
	b := New()
	done := make(chan bool, 1)
	go func() {
		_, ok := b.Next(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("expected Next to report no row after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}

func TestSeedPreservesOrder(t *testing.T) {
	b := New()
	b.Seed([]*model.PathRecord{{RelPath: "x"}, {RelPath: "y"}})
	b.Push(&model.PathRecord{RelPath: "z"})

	for _, want := range []string{"x", "y", "z"} {
		p, ok := b.Next(context.Background())
		if !ok || p.RelPath != want {
			t.Fatalf("got %v ok=%v, want %s", p, ok, want)
		}
	}
}

func TestLen(t *testing.T) {
	b := New()
	if b.Len() != 0 {
		t.Fatalf("expected empty queue")
	}
	b.Push(&model.PathRecord{RelPath: "a"})
	b.Push(&model.PathRecord{RelPath: "b"})
	if b.Len() != 2 {
		t.Fatalf("got %d, want 2", b.Len())
	}
}
