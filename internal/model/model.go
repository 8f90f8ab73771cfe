// Package model holds the data types shared by every stage of the merge
// pipeline: Scanner, Fingerprinter, Classifier, Conflict Broker, Resolver,
// Applier, and Coordinator. Nothing in this package performs I/O.
package model

import "time"

// Side identifies one of the two source trees being merged.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// Kind is the filesystem entry type recorded for one side of a path.
type Kind string

const (
	KindFile    Kind = "file"
	KindDir     Kind = "dir"
	KindSymlink Kind = "symlink"
	KindAbsent  Kind = "absent"
)

// Phase is the Run's lifecycle stage.
type Phase string

const (
	PhaseScanning Phase = "scanning"
	PhaseHashing  Phase = "hashing"
	PhaseApplying Phase = "applying"
	PhaseDone     Phase = "done"
	PhaseAborted  Phase = "aborted"
)

// Status is a PathRecord's position in the per-row state machine:
// pending -> [awaiting_decision ->] ready -> applied|failed.
type Status string

const (
	StatusPending           Status = "pending"
	StatusReady             Status = "ready"
	StatusAwaitingDecision  Status = "awaiting_decision"
	StatusApplied           Status = "applied"
	StatusFailed            Status = "failed"
)

// ActionType discriminates the tagged Action variant computed by the
// Classifier.
type ActionType string

const (
	ActionCopyFrom      ActionType = "copy_from"
	ActionMkdir         ActionType = "mkdir"
	ActionCreateSymlink ActionType = "create_symlink"
	ActionConflict      ActionType = "conflict"
)

// Action is what the Applier must do for a single path. Source and
// SymlinkTarget are only meaningful for the ActionType that uses them.
type Action struct {
	Type          ActionType
	Source        Side   // copy_from, create_symlink
	SymlinkTarget string // create_symlink
}

// Choice is the operator's answer to a presented conflict.
type Choice string

const (
	ChoicePreferNewer      Choice = "prefer_newer"
	ChoicePreferOlder      Choice = "prefer_older"
	ChoiceInspectThenNewer Choice = "inspect_then_newer"
	ChoiceInspectThenOlder Choice = "inspect_then_older"
)

// Newer reports whether the choice's effective winner-selection rule is
// "pick the newer side" (true) or "pick the older side" (false).
// inspect_then_* choices are treated identically to the corresponding
// prefer_* choice for winner selection; the distinction is preserved
// only in the audit log.
func (c Choice) Newer() bool {
	return c == ChoicePreferNewer || c == ChoiceInspectThenNewer
}

// ConflictDecision records how a single conflicting path was resolved.
type ConflictDecision struct {
	RelPath   string
	Choice    Choice
	Winner    Side
	DecidedAt time.Time
}

// PathRecord is the per-path row of the Store.
type PathRecord struct {
	RelPath string

	InA, InB     bool
	KindA, KindB Kind
	SizeA, SizeB int64
	MtimeA, MtimeB int64 // unix nanoseconds
	HashA, HashB *uint64
	SymlinkTargetA, SymlinkTargetB string

	Action *Action
	Status Status

	DecisionChoice *Choice
	Winner         *Side
	Error          string
}

// NeedsHash reports whether the given side of the row still requires
// hashing before it can be classified: both sides must be files of
// equal size. A size mismatch short-circuits to conflict without
// hashing.
func (p *PathRecord) NeedsHash(side Side) bool {
	if p.KindA != KindFile || p.KindB != KindFile {
		return false
	}
	if p.SizeA != p.SizeB {
		return false
	}
	if side == SideA {
		return p.HashA == nil
	}
	return p.HashB == nil
}

// RunMode distinguishes a freshly created Run from one resumed from a
// prior, interrupted invocation.
type RunMode string

const (
	ModeFresh   RunMode = "fresh"
	ModeResumed RunMode = "resumed"
)

// Run is a single merge execution.
type Run struct {
	ID        string
	ARoot     string
	BRoot     string
	DestRoot  string
	Phase     Phase
	CreatedAt time.Time
}

// Candidate is the information the Resolver sees about one conflicting
// path. AbsPathA/B let an interactive resolver open the files for
// inspection.
type Candidate struct {
	RelPath  string
	KindA, KindB Kind
	SizeA, SizeB int64
	MtimeA, MtimeB time.Time
	HashA, HashB uint64
	AbsPathA, AbsPathB string
}

// WinnerFor applies the winner-selection rule: prefer_newer
// picks the strictly larger mtime, prefer_older the strictly smaller;
// ties break to A.
func WinnerFor(choice Choice, mtimeA, mtimeB time.Time) Side {
	if mtimeA.Equal(mtimeB) {
		return SideA
	}
	if choice.Newer() {
		if mtimeB.After(mtimeA) {
			return SideB
		}
		return SideA
	}
	// prefer_older
	if mtimeB.Before(mtimeA) {
		return SideB
	}
	return SideA
}

// ProgressEvent is the Coordinator's progress tuple.
type ProgressEvent struct {
	TotalPaths        int
	Classified        int
	AwaitingDecision  int
	Applied           int
	Failed            int
}

// Summary is the end-of-run report surfaced to the CLI.
type Summary struct {
	Run       Run
	Mode      RunMode
	Applied   int
	Failed    int
	FailedPaths []FailedPath
	Conflicts int
}

// FailedPath names one row that ended in StatusFailed, with its error.
type FailedPath struct {
	RelPath string
	Error   string
}
