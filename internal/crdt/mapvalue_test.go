package crdt

import "testing"

func putReg(t *testing.T, m *MapValue, actor Actor, version uint64, key string, v Primitive) {
	t.Helper()
	dot := Dot{Actor: actor, Version: version}
	reg := NewRegister()
	leaf := reg.Set(v, dot)
	op := m.Update(dot, []byte(key), leaf)
	if err := m.Apply(op); err != nil {
		t.Fatalf("apply update %s: %v", key, err)
	}
}

func TestMapValueUpdateAndGet(t *testing.T) {
	a := mustActor(t)
	m := NewMapValue()
	putReg(t, m, a, 1, "name", PrimitiveBytes([]byte("alice")))

	v, ok := m.Get([]byte("name"))
	if !ok {
		t.Fatalf("expected key present")
	}
	reg := v.(*Register)
	got, _ := reg.Get()
	if !got.Equal(PrimitiveBytes([]byte("alice"))) {
		t.Fatalf("unexpected value %+v", got)
	}
}

func TestMapValueRemoveTakesEffectWhenCausallySeen(t *testing.T) {
	a := mustActor(t)
	m := NewMapValue()
	putReg(t, m, a, 1, "k", PrimitiveI64(1))

	rmOp := m.Remove(Dot{Actor: a, Version: 2}, []byte("k"))
	if err := m.Apply(rmOp); err != nil {
		t.Fatalf("apply remove: %v", err)
	}
	if _, ok := m.Get([]byte("k")); ok {
		t.Fatalf("expected key removed")
	}
}

func TestMapValueConcurrentUpdateBeatsRemove(t *testing.T) {
	a, b := mustActor(t), mustActor(t)
	// Two independent replicas both start from the same base state.
	base := NewMapValue()
	putReg(t, base, a, 1, "k", PrimitiveI64(1))

	siteA := base.Clone().(*MapValue)
	siteB := base.Clone().(*MapValue)

	// Site A removes k, observing only the version-1 write.
	rmOp := siteA.Remove(Dot{Actor: a, Version: 2}, []byte("k"))
	if err := siteA.Apply(rmOp); err != nil {
		t.Fatalf("apply remove: %v", err)
	}

	// Site B concurrently updates k without having seen the remove.
	putReg(t, siteB, b, 1, "k", PrimitiveI64(2))

	merged, err := siteA.MergeState(siteB)
	if err != nil {
		t.Fatalf("MergeState: %v", err)
	}
	if _, ok := merged.Get([]byte("k")); !ok {
		t.Fatalf("concurrent update should survive a remove that didn't observe it")
	}
}

func TestMapValueMergeStateCommutative(t *testing.T) {
	a, b := mustActor(t), mustActor(t)
	m1 := NewMapValue()
	putReg(t, m1, a, 1, "x", PrimitiveI64(10))
	m2 := NewMapValue()
	putReg(t, m2, b, 1, "y", PrimitiveI64(20))

	merged1, err := m1.MergeState(m2)
	if err != nil {
		t.Fatalf("merge1: %v", err)
	}
	merged2, err := m2.MergeState(m1)
	if err != nil {
		t.Fatalf("merge2: %v", err)
	}
	if merged1.Len() != merged2.Len() || merged1.Len() != 2 {
		t.Fatalf("expected commutative merge with both keys, got %d vs %d", merged1.Len(), merged2.Len())
	}
}

func TestMapValueNestedUpdateViaWrapPath(t *testing.T) {
	a := mustActor(t)
	root := NewMapValue()
	dot := Dot{Actor: a, Version: 1}
	leaf := NewRegister().Set(PrimitiveBool(true), dot)
	op := WrapPath(dot, [][]byte{[]byte("users"), []byte("alice")}, leaf)
	if err := root.Apply(op); err != nil {
		t.Fatalf("apply nested op: %v", err)
	}
	usersVal, ok := root.Get([]byte("users"))
	if !ok {
		t.Fatalf("expected users map created")
	}
	users := usersVal.(*MapValue)
	aliceVal, ok := users.Get([]byte("alice"))
	if !ok {
		t.Fatalf("expected alice register created")
	}
	v, _ := aliceVal.(*Register).Get()
	if !v.Equal(PrimitiveBool(true)) {
		t.Fatalf("unexpected leaf value %+v", v)
	}
}
