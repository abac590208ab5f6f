package crdt

import (
	"errors"
	"testing"

	"github.com/wesleyyan-sb/kvsync/kverr"
)

func mustActor(t *testing.T) Actor {
	t.Helper()
	a, err := NewActor()
	if err != nil {
		t.Fatalf("NewActor: %v", err)
	}
	return a
}

func TestRegisterSetApplyRoundTrip(t *testing.T) {
	a := mustActor(t)
	r := NewRegister()
	dot := Dot{Actor: a, Version: 1}
	op := r.Set(PrimitiveI64(42), dot)
	if err := r.Apply(op); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	v, gotDot := r.Get()
	if !v.Equal(PrimitiveI64(42)) || gotDot != dot {
		t.Fatalf("got %+v %+v", v, gotDot)
	}
}

func TestRegisterHigherVersionWins(t *testing.T) {
	a := mustActor(t)
	r := NewRegister()
	_ = r.Apply(r.Set(PrimitiveI64(1), Dot{Actor: a, Version: 1}))
	_ = r.Apply(r.Set(PrimitiveI64(2), Dot{Actor: a, Version: 2}))
	v, _ := r.Get()
	if !v.Equal(PrimitiveI64(2)) {
		t.Fatalf("expected 2, got %+v", v)
	}
	// Applying the stale version-1 write again must not regress the value.
	_ = r.Apply(r.Set(PrimitiveI64(99), Dot{Actor: a, Version: 1}))
	v, _ = r.Get()
	if !v.Equal(PrimitiveI64(2)) {
		t.Fatalf("stale write regressed register: %+v", v)
	}
}

func TestRegisterTieBreakByActor(t *testing.T) {
	lo := Actor{}
	hi := Actor{}
	hi[0] = 1

	r1 := NewRegister()
	r2 := NewRegister()
	opLo := &Op{Kind: OpUpdateReg, Dot: Dot{Actor: lo, Version: 5}, RegValue: ptrPrim(PrimitiveBytes([]byte("L")))}
	opHi := &Op{Kind: OpUpdateReg, Dot: Dot{Actor: hi, Version: 5}, RegValue: ptrPrim(PrimitiveBytes([]byte("H")))}

	_ = r1.Apply(opLo)
	_ = r1.Apply(opHi)
	_ = r2.Apply(opHi)
	_ = r2.Apply(opLo)

	v1, _ := r1.Get()
	v2, _ := r2.Get()
	if !v1.Equal(v2) {
		t.Fatalf("apply order changed outcome: %+v vs %+v", v1, v2)
	}
	want := PrimitiveBytes([]byte("H"))
	if !v1.Equal(want) {
		t.Fatalf("expected higher actor to win, got %+v", v1)
	}
}

func TestRegisterApplyWrongKind(t *testing.T) {
	r := NewRegister()
	err := r.Apply(&Op{Kind: OpUpdateMap})
	if !errors.Is(err, kverr.IncompatibleMerge) {
		t.Fatalf("expected IncompatibleMerge, got %v", err)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	a := mustActor(t)
	dot := Dot{Actor: a, Version: 3}
	r := NewRegister()
	op := r.Set(PrimitiveBool(true), dot)
	_ = r.Apply(op)
	_ = r.Apply(op)
	_ = r.Apply(op)
	v, gotDot := r.Get()
	if !v.Equal(PrimitiveBool(true)) || gotDot != dot {
		t.Fatalf("re-applying same op changed state: %+v %+v", v, gotDot)
	}
}

func ptrPrim(p Primitive) *Primitive { return &p }
