package crdt

import "github.com/wesleyyan-sb/kvsync/kverr"

// Register is a last-writer-wins CRDT leaf: a primitive value tagged with
// the Dot of the write that produced it (spec.md §4.4).
type Register struct {
	value Primitive
	dot   Dot
}

// NewRegister returns an empty register (zero dot, zero-value primitive).
func NewRegister() *Register { return &Register{} }

// Kind implements Value.
func (r *Register) Kind() Kind { return KindReg }

// Clone implements Value.
func (r *Register) Clone() Value {
	return &Register{value: r.value.Clone(), dot: r.dot}
}

// Get returns the register's current value and the Dot that wrote it.
func (r *Register) Get() (Primitive, Dot) { return r.value, r.dot }

// Set produces an UpdateReg Op for writing v with the given dot. It does
// not mutate r; the caller applies the returned Op via Apply (spec.md
// §4.4: "set(v, actor, local_clock) → Op UpdateReg{...}").
func (r *Register) Set(v Primitive, dot Dot) *Op {
	return &Op{Kind: OpUpdateReg, Dot: dot, RegValue: &v}
}

// Apply merges an UpdateReg Op into r. Ops of any other kind are an
// IncompatibleMerge: a Register can never become a Map at the same
// logical position (spec.md §4.4).
func (r *Register) Apply(op *Op) error {
	if op.Kind != OpUpdateReg {
		return kverr.IncompatibleMerge
	}
	r.mergeDotValue(op.Dot, *op.RegValue)
	return nil
}

// mergeDotValue implements the register merge law of spec.md §4.4: pick
// the larger dot by (version, actor) order; a dot collision with
// differing values would be a writer-side logic error (the same actor
// reused a version number), so it is treated as an idempotent no-op
// rather than corrupting state.
func (r *Register) mergeDotValue(d Dot, v Primitive) {
	switch r.dot.Compare(d) {
	case -1:
		r.dot = d
		r.value = v.Clone()
	case 0:
		// Idempotent: re-applying the same dot changes nothing, even if
		// (erroneously) it carried a different value.
	default:
		// Stale: d is causally behind what we already have.
	}
}

// MergeState merges another register's full state into r in place,
// following the same (version, actor) order as mergeDotValue. Used when
// reconciling two independently-evolved trees (e.g. VCS-level conflict
// resolution) rather than applying a single Op.
func (r *Register) MergeState(other *Register) {
	r.mergeDotValue(other.dot, other.value)
}
