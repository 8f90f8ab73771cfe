// Package classify implements the pure Classifier: a decision table
// from a pair of per-source records to an Action. It performs no I/O
// and holds no state.
package classify

import "github.com/mergetree/mergetree/internal/model"

// Classify maps a PathRecord to the Action the Applier must take. The
// caller is responsible for ensuring any required hashes (per
// PathRecord.NeedsHash) are already populated; Classify never hashes.
func Classify(p *model.PathRecord) model.Action {
	switch {
	case p.InA && !p.InB:
		return actionForSingleSide(p, model.SideA)

	case p.InB && !p.InA:
		return actionForSingleSide(p, model.SideB)

	case p.InA && p.InB:
		return actionForBothSides(p)
	}

	// The Scanner only inserts rows it saw on at least one side, so this
	// is unreachable for well-formed input.
	return model.Action{Type: model.ActionConflict}
}

func actionForSingleSide(p *model.PathRecord, side model.Side) model.Action {
	kind := p.KindA
	target := p.SymlinkTargetA
	if side == model.SideB {
		kind = p.KindB
		target = p.SymlinkTargetB
	}

	switch kind {
	case model.KindDir:
		return model.Action{Type: model.ActionMkdir}
	case model.KindSymlink:
		return model.Action{Type: model.ActionCreateSymlink, Source: side, SymlinkTarget: target}
	default: // file
		return model.Action{Type: model.ActionCopyFrom, Source: side}
	}
}

// ResolveConflict computes the concrete Action the Applier must execute
// once a conflict has been resolved to a winner: the winning side's
// kind determines whether the result is a copy, a directory, or a
// symlink.
func ResolveConflict(p *model.PathRecord, winner model.Side) model.Action {
	return actionForSingleSide(p, winner)
}

func actionForBothSides(p *model.PathRecord) model.Action {
	switch {
	case p.KindA == model.KindDir && p.KindB == model.KindDir:
		return model.Action{Type: model.ActionMkdir}

	case p.KindA == model.KindSymlink && p.KindB == model.KindSymlink:
		if p.SymlinkTargetA == p.SymlinkTargetB {
			// Identical symlink targets are not a conflict.
			return model.Action{Type: model.ActionCreateSymlink, Source: model.SideA, SymlinkTarget: p.SymlinkTargetA}
		}
		// Policy C: targets differ — conflict, resolved by mtime like any
		// other conflict; the winner's target is what gets created.
		return model.Action{Type: model.ActionConflict}

	case p.KindA == model.KindFile && p.KindB == model.KindFile:
		if p.SizeA != p.SizeB {
			return model.Action{Type: model.ActionConflict}
		}
		// Sizes equal: the caller must have populated both hashes before
		// calling Classify (see PathRecord.NeedsHash).
		if p.HashA != nil && p.HashB != nil && *p.HashA == *p.HashB {
			return model.Action{Type: model.ActionCopyFrom, Source: model.SideA}
		}
		return model.Action{Type: model.ActionConflict}

	default:
		// Policy C: kind mismatch (e.g. file vs dir) — conflict without
		// hashing; the Resolver picks a side by mtime and that side's
		// kind determines the Action ultimately applied.
		return model.Action{Type: model.ActionConflict}
	}
}
