package crdt

import "sort"

// VClock maps actor → greatest version observed from that actor. Absent
// actors are implicitly 0. VClock is immutable by convention: every
// mutator returns a new value rather than editing in place, which keeps
// the CRDT merge laws (commutative, associative, idempotent) easy to
// reason about at the call site.
type VClock map[Actor]uint64

// NewVClock returns an empty vector clock.
func NewVClock() VClock { return make(VClock) }

// Get returns the version observed for actor, or 0 if never observed.
func (v VClock) Get(a Actor) uint64 { return v[a] }

// Clone returns a deep copy.
func (v VClock) Clone() VClock {
	c := make(VClock, len(v))
	for a, ver := range v {
		c[a] = ver
	}
	return c
}

// Observe returns a new VClock with dot folded in: the actor's version is
// raised to max(current, dot.Version). Folding in the same dot twice is a
// no-op (idempotent), satisfying spec.md §8 property 2 at the clock level.
func (v VClock) Observe(d Dot) VClock {
	c := v.Clone()
	if d.Version > c[d.Actor] {
		c[d.Actor] = d.Version
	}
	return c
}

// Merge returns the component-wise maximum of v and other.
func (v VClock) Merge(other VClock) VClock {
	c := v.Clone()
	for a, ver := range other {
		if ver > c[a] {
			c[a] = ver
		}
	}
	return c
}

// LessEq reports whether v ≤ other: for every actor, v[a] ≤ other[a].
func (v VClock) LessEq(other VClock) bool {
	for a, ver := range v {
		if ver > other.Get(a) {
			return false
		}
	}
	return true
}

// Equal reports whether v and other observe the same version for every
// actor appearing in either.
func (v VClock) Equal(other VClock) bool {
	return v.LessEq(other) && other.LessEq(v)
}

// Concurrent reports whether neither v nor other causally precedes the
// other (spec.md §3).
func (v VClock) Concurrent(other VClock) bool {
	return !v.LessEq(other) && !other.LessEq(v)
}

// DominatesDot reports whether v has already observed dot (v[dot.Actor] ≥
// dot.Version).
func (v VClock) DominatesDot(d Dot) bool { return v.Get(d.Actor) >= d.Version }

// ActorVersion is one (actor, version) pair, the wire shape of a VClock
// entry per spec.md §6.
type ActorVersion struct {
	Actor   Actor
	Version uint64
}

// Pairs returns v's entries as a slice sorted by actor bytes, giving a
// canonical, order-stable serialization (spec.md §6: "vclock is a sorted
// list of {actor, version} pairs").
func (v VClock) Pairs() []ActorVersion {
	out := make([]ActorVersion, 0, len(v))
	for a, ver := range v {
		out = append(out, ActorVersion{Actor: a, Version: ver})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor.Less(out[j].Actor) })
	return out
}

// FromPairs rebuilds a VClock from its canonical wire form.
func FromPairs(pairs []ActorVersion) VClock {
	v := make(VClock, len(pairs))
	for _, p := range pairs {
		v[p.Actor] = p.Version
	}
	return v
}
