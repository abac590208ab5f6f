package crdt

import "github.com/wesleyyan-sb/kvsync/kverr"

// mapEntry pairs a nested Value with the causal clock of every dot that
// has ever touched it, used to decide whether a concurrent remove should
// take effect (spec.md §4.4).
type mapEntry struct {
	value Value
	clock VClock
}

// MapValue is the CRDT map branch of spec.md §3/§4.4: a mapping from
// byte-string key to (Value, VClock), plus a self clock tracking every
// dot ever observed at or under this map.
type MapValue struct {
	entries map[string]*mapEntry
	self    VClock
}

// NewMapValue returns an empty map value.
func NewMapValue() *MapValue {
	return &MapValue{entries: make(map[string]*mapEntry), self: NewVClock()}
}

// Kind implements Value.
func (m *MapValue) Kind() Kind { return KindMap }

// Clone implements Value.
func (m *MapValue) Clone() Value {
	cp := NewMapValue()
	cp.self = m.self.Clone()
	for k, e := range m.entries {
		cp.entries[k] = &mapEntry{value: e.value.Clone(), clock: e.clock.Clone()}
	}
	return cp
}

// Get returns the value stored at key, if present.
func (m *MapValue) Get(key []byte) (Value, bool) {
	e, ok := m.entries[string(key)]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Keys returns the map's current live keys, in no particular order.
func (m *MapValue) Keys() [][]byte {
	out := make([][]byte, 0, len(m.entries))
	for k := range m.entries {
		out = append(out, []byte(k))
	}
	return out
}

// Len reports the number of live entries.
func (m *MapValue) Len() int { return len(m.entries) }

// SelfClock returns the map's causal context (every dot observed at or
// under it, live or tombstoned).
func (m *MapValue) SelfClock() VClock { return m.self }

// ClockOf returns the causal clock recorded for key, used to build a
// RemoveMap's observed_clock (spec.md §4.4: "observed_clock=clock_of(entries[key])").
func (m *MapValue) ClockOf(key []byte) VClock {
	e, ok := m.entries[string(key)]
	if !ok {
		return NewVClock()
	}
	return e.clock
}

// Update produces an UpdateMap Op wrapping innerOp under key at dot.
func (m *MapValue) Update(dot Dot, key []byte, innerOp *Op) *Op {
	return NewUpdateMap(dot, key, innerOp)
}

// Remove produces a RemoveMap Op for key at dot, carrying the clock
// currently observed for that entry.
func (m *MapValue) Remove(dot Dot, key []byte) *Op {
	return NewRemoveMap(dot, key, m.ClockOf(key))
}

// Apply merges an UpdateMap or RemoveMap Op into m. An OpUpdateReg at
// this level is an IncompatibleMerge: a Map can never become a Register
// at the same logical position.
func (m *MapValue) Apply(op *Op) error {
	switch op.Kind {
	case OpUpdateMap:
		return m.applyUpdate(op)
	case OpRemoveMap:
		return m.applyRemove(op)
	default:
		return kverr.IncompatibleMerge
	}
}

func (m *MapValue) applyUpdate(op *Op) error {
	k := string(op.Key)
	e, ok := m.entries[k]
	if !ok {
		e = &mapEntry{value: emptyValueFor(op.Inner), clock: NewVClock()}
		m.entries[k] = e
	}
	if err := applyValueDispatch(e.value, op.Inner); err != nil {
		return &kverr.MergeError{Path: k, Err: err}
	}
	e.clock = e.clock.Observe(op.Dot)
	m.self = m.self.Observe(op.Dot)
	return nil
}

func (m *MapValue) applyRemove(op *Op) error {
	k := string(op.Key)
	if e, ok := m.entries[k]; ok && e.clock.LessEq(op.Observed) {
		delete(m.entries, k)
	}
	// else: a concurrent update dominates the remove's observed clock;
	// the entry is retained (spec.md §3 invariant 2).
	m.self = m.self.Observe(op.Dot)
	return nil
}

// emptyValueFor infers which empty Value a freshly-created map entry
// should start as, based on the kind of Op about to be applied to it.
func emptyValueFor(inner *Op) Value {
	if inner.Kind == OpUpdateReg {
		return NewRegister()
	}
	return NewMapValue()
}

// applyValueDispatch dispatches Apply for either concrete Value implementation,
// used by MapValue.applyUpdate so the dispatch lives in one place.
func applyValueDispatch(v Value, op *Op) error {
	switch vv := v.(type) {
	case *Register:
		return vv.Apply(op)
	case *MapValue:
		return vv.Apply(op)
	default:
		return kverr.IncompatibleMerge
	}
}

// MergeState merges two independently-evolved map states, per spec.md
// §4.4: entries on both sides recursively merge; an entry present on
// only one side is kept iff the other side's self clock has not already
// observed every dot that produced it (otherwise the other side
// deliberately removed it after learning of it, and that remove wins).
func (m *MapValue) MergeState(other *MapValue) (*MapValue, error) {
	out := NewMapValue()
	out.self = m.self.Merge(other.self)

	seen := make(map[string]bool, len(m.entries)+len(other.entries))
	for k := range m.entries {
		seen[k] = true
	}
	for k := range other.entries {
		seen[k] = true
	}

	for k := range seen {
		eA, okA := m.entries[k]
		eB, okB := other.entries[k]
		switch {
		case okA && okB:
			merged, err := MergeValues(eA.value, eB.value)
			if err != nil {
				return nil, &kverr.MergeError{Path: k, Err: err}
			}
			out.entries[k] = &mapEntry{value: merged, clock: eA.clock.Merge(eB.clock)}
		case okA && !okB:
			if !eA.clock.LessEq(other.self) {
				out.entries[k] = &mapEntry{value: eA.value.Clone(), clock: eA.clock.Clone()}
			}
		case okB && !okA:
			if !eB.clock.LessEq(m.self) {
				out.entries[k] = &mapEntry{value: eB.value.Clone(), clock: eB.clock.Clone()}
			}
		}
	}
	return out, nil
}

// MergeValues merges two Values of matching Kind, recursing for Maps and
// picking the winning dot for Registers. Mismatched kinds surface
// IncompatibleMerge, never a silent coercion (spec.md §4.4).
func MergeValues(a, b Value) (Value, error) {
	if a.Kind() != b.Kind() {
		return nil, kverr.IncompatibleMerge
	}
	switch av := a.(type) {
	case *Register:
		bv := b.(*Register)
		merged := av.Clone().(*Register)
		merged.MergeState(bv)
		return merged, nil
	case *MapValue:
		bv := b.(*MapValue)
		return av.MergeState(bv)
	default:
		return nil, kverr.IncompatibleMerge
	}
}
