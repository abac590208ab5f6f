package replica

import "github.com/wesleyyan-sb/kvsync/internal/crdt"

// batchWrite is one write queued onto a Batch before Commit, the shape
// of the teacher's batchRecord in internal/database/batch.go.
type batchWrite struct {
	path   [][]byte
	remove bool
	value  crdt.Primitive
}

// Batch queues several Put/Remove calls so a caller making many edits at
// once can commit them together, the way the teacher's Batch coalesces
// writes into a single file write + index update (internal/database/batch.go).
// Here "together" means each write still goes through the normal
// CRDT apply + pending-merge path, one Put/Remove call per queued write,
// in queue order; the CRDT layer itself already gives
// coalescing in internal/crdt.MergeOp, so Batch is a convenience, not a
// new merge strategy.
type Batch struct {
	r      *Replicator
	writes []batchWrite
}

// NewBatch returns an empty batch bound to r.
func (r *Replicator) NewBatch() *Batch { return &Batch{r: r} }

// Put queues a write of value at path.
func (b *Batch) Put(path [][]byte, value crdt.Primitive) {
	b.writes = append(b.writes, batchWrite{path: path, value: value})
}

// Remove queues a removal of path.
func (b *Batch) Remove(path [][]byte) {
	b.writes = append(b.writes, batchWrite{path: path, remove: true})
}

// Commit applies every queued write in order, stopping at the first
// error. Writes applied before the error stand; Batch carries no
// all-or-nothing guarantee beyond what a loop of individual calls would
// give, since the underlying CRDT apply is already all-or-nothing per
// write (spec.md §7: "materialized state is never mutated on error
// (all-or-nothing per operation)").
func (b *Batch) Commit() error {
	for _, w := range b.writes {
		var err error
		if w.remove {
			err = b.r.Remove(w.path)
		} else {
			err = b.r.Put(w.path, w.value)
		}
		if err != nil {
			return err
		}
	}
	b.writes = nil
	return nil
}
