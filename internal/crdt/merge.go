package crdt

import "github.com/wesleyyan-sb/kvsync/kverr"

// MergeOp coalesces two not-yet-appended pending Ops addressing the same
// path, emitted by the same actor, into one. This lets a replica batch
// several local writes to one key before the next Sync without growing
// the log by one entry per write (spec.md §4.4). The later dot (by
// (version, actor) order) always wins the leaf value; UpdateMap pairs on
// a shared key recurse so that writes to sibling sub-keys both survive.
func MergeOp(a, b *Op) (*Op, error) {
	if a == nil {
		return b.Clone(), nil
	}
	if b == nil {
		return a.Clone(), nil
	}

	newer, older := a, b
	if b.Dot.Greater(a.Dot) {
		newer, older = b, a
	}

	switch {
	case a.Kind == OpUpdateMap && b.Kind == OpUpdateMap && string(a.Key) == string(b.Key):
		inner, err := MergeOp(a.Inner, b.Inner)
		if err != nil {
			return nil, err
		}
		return &Op{Kind: OpUpdateMap, Dot: newer.Dot, Key: append([]byte(nil), a.Key...), Inner: inner}, nil

	case a.Kind == OpRemoveMap && b.Kind == OpRemoveMap && string(a.Key) == string(b.Key):
		return newer.Clone(), nil

	case (a.Kind == OpUpdateMap || a.Kind == OpRemoveMap) &&
		(b.Kind == OpUpdateMap || b.Kind == OpRemoveMap) &&
		string(a.Key) == string(b.Key):
		// One side updates, the other removes the same key: later dot wins
		// outright rather than recursing, since a remove has no Inner to
		// merge into.
		return newer.Clone(), nil

	case a.Kind == OpUpdateReg && b.Kind == OpUpdateReg:
		return newer.Clone(), nil

	default:
		return nil, kverr.IncompatibleMerge
	}
}

// MergePending folds op into the single outstanding pending Op for an
// actor, coalescing when they address the same path and otherwise
// refusing (a replica should flush pending before switching target
// paths, or track one pending Op per path — kvsync tracks one per key
// touched since the last Sync, so callers merge per-key, not globally).
func MergePending(existing, incoming *Op) (*Op, error) {
	return MergeOp(existing, incoming)
}

// Rebase widens a not-yet-appended RemoveMap's Observed clock to include
// any dots the local replica has learned about since the pending op was
// created, so that when it is finally appended, its observed_clock
// reflects everything this replica has seen rather than a stale
// snapshot (spec.md §4.6). UpdateMap/UpdateReg ops need no rebase: their
// correctness does not depend on a recorded observed_clock.
func Rebase(pending *Op, learned VClock) *Op {
	if pending == nil {
		return nil
	}
	cp := pending.Clone()
	rebaseNode(cp, learned)
	return cp
}

func rebaseNode(op *Op, learned VClock) {
	switch op.Kind {
	case OpRemoveMap:
		op.Observed = op.Observed.Merge(learned)
	case OpUpdateMap:
		rebaseNode(op.Inner, learned)
	}
}
