// Package resolver defines the pluggable Resolver interface consumed by
// the Coordinator's conflict-resolution loop (which drains the Conflict
// Broker), plus the non-interactive implementations used in
// tests and batch/CI runs. The interactive, bubbletea-backed
// implementation lives in interactive.go.
package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/mergetree/mergetree/internal/model"
)

// Resolver turns a presented conflict into an operator decision.
type Resolver interface {
	Resolve(ctx context.Context, c model.Candidate) (model.Choice, error)
}

// Scripted answers each rel_path with a fixed, pre-recorded choice.
// It exists for tests and for scripted/reproducible runs. A path with
// no entry in Choices falls back to Default.
type Scripted struct {
	mu      sync.Mutex
	Choices map[string]model.Choice
	Default model.Choice
}

// NewScripted returns a Scripted resolver with the given per-path
// choices; Default is used for any path not present in choices.
func NewScripted(choices map[string]model.Choice, def model.Choice) *Scripted {
	return &Scripted{Choices: choices, Default: def}
}

// Resolve implements Resolver.
func (s *Scripted) Resolve(_ context.Context, c model.Candidate) (model.Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.Choices[c.RelPath]; ok {
		return ch, nil
	}
	if s.Default == "" {
		return "", fmt.Errorf("resolver: scripted resolver has no choice for %q", c.RelPath)
	}
	return s.Default, nil
}

// Fixed always returns the same Choice for every conflict: the
// non-interactive batch modes for unattended use of the CLI.
type Fixed struct {
	Choice model.Choice
}

// AlwaysPreferNewer resolves every conflict by preferring the side with
// the newer mtime.
func AlwaysPreferNewer() *Fixed { return &Fixed{Choice: model.ChoicePreferNewer} }

// AlwaysPreferOlder resolves every conflict by preferring the side with
// the older mtime.
func AlwaysPreferOlder() *Fixed { return &Fixed{Choice: model.ChoicePreferOlder} }

// Resolve implements Resolver.
func (f *Fixed) Resolve(_ context.Context, _ model.Candidate) (model.Choice, error) {
	return f.Choice, nil
}
