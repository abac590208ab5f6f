// Package replica implements the log-backed replicator of spec.md §4.6:
// a local materialized CRDT state, a pending batch of not-yet-appended
// writes, and a sync loop that pulls/pushes an ordered list of remotes
// with the causal rebase and conflict-retry discipline that makes
// convergence possible without a central coordinator.
package replica

import (
	"context"
	"errors"

	"github.com/wesleyyan-sb/kvsync/internal/crdt"
	"github.com/wesleyyan-sb/kvsync/internal/logging"
	"github.com/wesleyyan-sb/kvsync/internal/vlog"
	"github.com/wesleyyan-sb/kvsync/kverr"
)

// maxSyncRounds bounds the outer retry loop of Sync: spec.md §4.6
// describes the loop as "restart_outer_loop" on conflict without naming
// a bound, but an unbounded retry would turn a persistently diverging
// remote into a hang rather than a reported LogConflict.
const maxSyncRounds = 8

// pendingEntry is one coalesced not-yet-appended Op, keyed by the
// top-level map key it addresses (spec.md §4.4: "ops at disjoint keys
// stay as a composite").
type pendingEntry struct {
	key string
	op  *crdt.Op
}

// Replicator is the per-device replication core of spec.md §4.6.
type Replicator struct {
	actor     crdt.Actor
	selfClock crdt.VClock
	root      *crdt.MapValue
	pending   []pendingEntry
	remotes   []*Remote
	codec     Codec
	logger    logging.Logger
}

// New returns a Replicator for actor, starting from an empty
// materialized state. codec is used to encrypt/decrypt log entries; a
// nil logger defaults to logging.Nop{}.
func New(actor crdt.Actor, codec Codec, logger logging.Logger) *Replicator {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Replicator{
		actor:     actor,
		selfClock: crdt.NewVClock(),
		root:      crdt.NewMapValue(),
		codec:     codec,
		logger:    logger,
	}
}

// Actor returns the replicator's own identifier.
func (r *Replicator) Actor() crdt.Actor { return r.actor }

// SelfClock returns the replicator's current vector clock.
func (r *Replicator) SelfClock() crdt.VClock { return r.selfClock }

// Root returns the current materialized state, for memoization into a
// local cache by the caller. It must not be mutated by the caller.
func (r *Replicator) Root() *crdt.MapValue { return r.root }

// AddRemote registers a named remote log. Remotes are consulted in
// lexicographic name order during Sync (spec.md §4.6).
func (r *Replicator) AddRemote(name string, log vlog.Log) {
	r.remotes = append(r.remotes, &Remote{Name: name, Log: log})
}

// HasPending reports whether any local write has not yet been appended
// to the log.
func (r *Replicator) HasPending() bool { return len(r.pending) > 0 }

// nextDot mints the next Dot for this replicator's own actor.
func (r *Replicator) nextDot() crdt.Dot {
	return crdt.Dot{Actor: r.actor, Version: r.selfClock.Get(r.actor) + 1}
}

// Get reads the Primitive at path from materialized state. It never
// touches the log (spec.md §4.6: "Read path ... A read never touches the
// log").
func (r *Replicator) Get(path [][]byte) (crdt.Primitive, bool, error) {
	return getPath(r.root, path)
}

// Put writes value at path: a fresh Dot is minted, applied locally, and
// merged into the pending batch (spec.md §4.6 write path).
func (r *Replicator) Put(path [][]byte, value crdt.Primitive) error {
	dot := r.nextDot()
	op, err := buildPutOp(path, value, dot)
	if err != nil {
		return err
	}
	return r.applyLocal(op, dot)
}

// Remove deletes path, carrying the observed_clock seen locally so a
// concurrent remote update is never silently dropped (spec.md §3
// invariant 2).
func (r *Replicator) Remove(path [][]byte) error {
	dot := r.nextDot()
	op, err := buildRemoveOp(r.root, path, dot)
	if err != nil {
		return err
	}
	return r.applyLocal(op, dot)
}

// warmDot is the Dot stamped on every Warm seed. It carries Version 0 so
// any genuine write (local or remote, always Version >= 1) outranks it in
// the Register (version, actor) tie-break regardless of actor. Its Actor
// is deliberately non-zero: a brand new Register also starts at the zero
// Dot, and Register.Apply treats equal dots as an idempotent no-op, so a
// Warm carrying the literal zero Dot would be silently discarded on the
// first seed of a never-before-seen key instead of setting it.
var warmDot = crdt.Dot{Actor: crdt.Actor{0xff}}

// Warm seeds materialized state at path with value, for rehydrating a
// display value from a local cache snapshot before the first Sync of a
// session. Unlike Put, it never touches selfClock or pending: it is not a
// write this replica is making, only a locally memoized fact it already
// knew, so it must not be re-appended to the log.
func (r *Replicator) Warm(path [][]byte, value crdt.Primitive) error {
	op, err := buildPutOp(path, value, warmDot)
	if err != nil {
		return err
	}
	return r.root.Apply(op)
}

func (r *Replicator) applyLocal(op *crdt.Op, dot crdt.Dot) error {
	if err := r.root.Apply(op); err != nil {
		return err
	}
	r.selfClock = r.selfClock.Observe(dot)
	r.mergeIntoPending(op)
	return nil
}

func (r *Replicator) mergeIntoPending(op *crdt.Op) {
	key := string(op.TopKey())
	for i, e := range r.pending {
		if e.key == key {
			merged, err := crdt.MergeOp(e.op, op)
			if err != nil {
				// Incompatible with the still-pending write at this key
				// (e.g. a local type change mid-batch): keep the newer op,
				// the one already applied to materialized_state, rather
				// than lose the write.
				r.logger.Warnf("pending merge at key %q failed (%v), keeping latest", key, err)
				r.pending[i].op = op
				return
			}
			r.pending[i].op = merged
			return
		}
	}
	r.pending = append(r.pending, pendingEntry{key: key, op: op})
}

// Sync runs the replication algorithm of spec.md §4.6: pull and apply
// every remote's new entries in deterministic order, rebase pending
// against what was learned, then append and push pending if non-empty,
// retrying the whole round on a push conflict up to maxSyncRounds times.
func (r *Replicator) Sync(ctx context.Context) error {
	for round := 0; round < maxSyncRounds; round++ {
		conflict, err := r.syncRound(ctx)
		if err != nil {
			return err
		}
		if !conflict {
			return nil
		}
		r.logger.Infof("sync round %d hit a push conflict, retrying", round)
	}
	return kverr.LogConflict
}

// syncRound performs one pass over every remote followed by one attempt
// to publish pending. It returns conflict=true if a push was rejected
// and the whole round should be retried from the top.
func (r *Replicator) syncRound(ctx context.Context) (conflict bool, err error) {
	for _, rem := range sortedRemotes(r.remotes) {
		if _, err := rem.Log.Pull(ctx); err != nil {
			return false, kverr.Wrap(err)
		}
		if err := r.drainRemote(ctx, rem); err != nil {
			return false, err
		}
	}

	if len(r.pending) == 0 || len(r.remotes) == 0 {
		// With no remote there is nowhere to append: pending stays queued
		// for a later Sync rather than being dropped unpublished.
		return false, nil
	}

	ops := make([]*crdt.Op, len(r.pending))
	for i, e := range r.pending {
		ops[i] = e.op
	}
	plaintext, err := crdt.MarshalOps(ops)
	if err != nil {
		return false, kverr.Wrap(err)
	}
	block, err := r.codec.Encode(plaintext)
	if err != nil {
		return false, err
	}

	for _, rem := range sortedRemotes(r.remotes) {
		if _, err := rem.Log.Append(ctx, block); err != nil {
			return false, kverr.Wrap(err)
		}
		if err := rem.Log.Push(ctx); err != nil {
			if errors.Is(err, vlog.ErrConflict) {
				return true, nil
			}
			return false, kverr.Wrap(err)
		}
	}
	r.pending = nil
	return false, nil
}

// drainRemote applies every entry rem has not yet shown us, advancing
// rem.cursor as it goes.
func (r *Replicator) drainRemote(ctx context.Context, rem *Remote) error {
	for {
		entry, next, ok, err := rem.Log.Next(ctx, rem.cursor)
		if err != nil {
			return kverr.Wrap(err)
		}
		if !ok {
			return nil
		}
		rem.cursor = next

		plaintext, err := r.codec.Decode(entry)
		if err != nil {
			return err
		}
		ops, err := crdt.UnmarshalOps(plaintext)
		if err != nil {
			return err
		}
		for _, op := range ops {
			if err := r.applyRemoteOp(op); err != nil {
				return err
			}
		}
	}
}

func (r *Replicator) applyRemoteOp(op *crdt.Op) error {
	if op.Dot.Actor == r.actor {
		if r.selfClock.DominatesDot(op.Dot) {
			return nil // our own echo coming back from a remote
		}
		return &kverr.ActorError{Actor: r.actor.String(), Err: kverr.ActorCollision}
	}

	if err := r.root.Apply(op); err != nil {
		return err
	}
	r.selfClock = r.selfClock.Observe(op.Dot)

	learned := crdt.NewVClock().Observe(op.Dot)
	key := string(op.TopKey())
	for i, e := range r.pending {
		if e.key == key {
			r.pending[i].op = crdt.Rebase(e.op, learned)
		}
	}
	return nil
}
