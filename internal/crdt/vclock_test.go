package crdt

import "testing"

func TestVClockObserveMonotone(t *testing.T) {
	a := mustActor(t)
	v := NewVClock()
	v = v.Observe(Dot{Actor: a, Version: 3})
	if v.Get(a) != 3 {
		t.Fatalf("expected 3, got %d", v.Get(a))
	}
	v = v.Observe(Dot{Actor: a, Version: 1})
	if v.Get(a) != 3 {
		t.Fatalf("observing a lower version regressed clock: %d", v.Get(a))
	}
}

func TestVClockMergeIsMax(t *testing.T) {
	a, b := mustActor(t), mustActor(t)
	v1 := NewVClock().Observe(Dot{Actor: a, Version: 5})
	v2 := NewVClock().Observe(Dot{Actor: b, Version: 7})
	merged := v1.Merge(v2)
	if merged.Get(a) != 5 || merged.Get(b) != 7 {
		t.Fatalf("merge not component-wise max: %+v", merged)
	}
}

func TestVClockLessEqAndConcurrent(t *testing.T) {
	a, b := mustActor(t), mustActor(t)
	v1 := NewVClock().Observe(Dot{Actor: a, Version: 1})
	v2 := v1.Observe(Dot{Actor: b, Version: 1})
	if !v1.LessEq(v2) {
		t.Fatalf("expected v1 <= v2")
	}
	if v2.LessEq(v1) {
		t.Fatalf("v2 should not be <= v1")
	}

	v3 := NewVClock().Observe(Dot{Actor: a, Version: 2})
	v4 := NewVClock().Observe(Dot{Actor: b, Version: 2})
	if !v3.Concurrent(v4) {
		t.Fatalf("disjoint-actor clocks should be concurrent")
	}
}

func TestVClockPairsRoundTrip(t *testing.T) {
	a, b := mustActor(t), mustActor(t)
	v := NewVClock().Observe(Dot{Actor: a, Version: 2}).Observe(Dot{Actor: b, Version: 9})
	pairs := v.Pairs()
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	rebuilt := FromPairs(pairs)
	if !rebuilt.Equal(v) {
		t.Fatalf("round trip mismatch: %+v vs %+v", rebuilt, v)
	}
}

func TestVClockPairsSortedByActor(t *testing.T) {
	lo, hi := Actor{}, Actor{}
	hi[0] = 0xff
	v := NewVClock().Observe(Dot{Actor: hi, Version: 1}).Observe(Dot{Actor: lo, Version: 1})
	pairs := v.Pairs()
	if pairs[0].Actor != lo || pairs[1].Actor != hi {
		t.Fatalf("pairs not sorted by actor bytes: %+v", pairs)
	}
}
