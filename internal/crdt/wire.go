package crdt

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/wesleyyan-sb/kvsync/kverr"
)

// canonicalMode encodes every Op identically regardless of map iteration
// order or platform, so the same Op yields the same plaintext bytes on
// every replica (spec.md §6).
var canonicalMode = func() cbor.EncMode {
	mode, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// wireDot is the on-the-wire shape of a Dot (spec.md §6).
type wireDot struct {
	Actor   []byte `cbor:"1,keyasint"`
	Version uint64 `cbor:"2,keyasint"`
}

// wirePrimitive is the tagged-union wire shape of a Primitive.
type wirePrimitive struct {
	Kind  int     `cbor:"1,keyasint"`
	Bool  bool    `cbor:"2,keyasint,omitempty"`
	I64   int64   `cbor:"3,keyasint,omitempty"`
	F64   float64 `cbor:"4,keyasint,omitempty"`
	Bytes []byte  `cbor:"5,keyasint,omitempty"`
}

// wireOp is the on-the-wire shape of an Op tree (spec.md §6: "op is a
// CBOR map keyed by small integers so the encoding stays canonical and
// compact").
type wireOp struct {
	Kind     int            `cbor:"1,keyasint"`
	Dot      wireDot        `cbor:"2,keyasint"`
	RegValue *wirePrimitive `cbor:"3,keyasint,omitempty"`
	Key      []byte         `cbor:"4,keyasint,omitempty"`
	Inner    *wireOp        `cbor:"5,keyasint,omitempty"`
	Observed []wireActorVer `cbor:"6,keyasint,omitempty"`
}

type wireActorVer struct {
	Actor   []byte `cbor:"1,keyasint"`
	Version uint64 `cbor:"2,keyasint"`
}

func toWireDot(d Dot) wireDot {
	return wireDot{Actor: append([]byte(nil), d.Actor[:]...), Version: d.Version}
}

func fromWireDot(w wireDot) (Dot, error) {
	a, err := actorFromBytes(w.Actor)
	if err != nil {
		return Dot{}, err
	}
	return Dot{Actor: a, Version: w.Version}, nil
}

func actorFromBytes(b []byte) (Actor, error) {
	var a Actor
	if len(b) != ActorSize {
		return a, kverr.Malformed
	}
	copy(a[:], b)
	return a, nil
}

func toWirePrimitive(p Primitive) *wirePrimitive {
	return &wirePrimitive{Kind: int(p.Kind), Bool: p.Bool, I64: p.I64, F64: p.F64, Bytes: p.Bytes}
}

func fromWirePrimitive(w *wirePrimitive) (Primitive, error) {
	if w == nil {
		return Primitive{}, kverr.Malformed
	}
	switch PrimKind(w.Kind) {
	case PrimBool:
		return PrimitiveBool(w.Bool), nil
	case PrimI64:
		return PrimitiveI64(w.I64), nil
	case PrimF64:
		return PrimitiveF64(w.F64), nil
	case PrimBytes:
		return PrimitiveBytes(w.Bytes), nil
	default:
		return Primitive{}, kverr.Malformed
	}
}

func toWireOp(op *Op) *wireOp {
	if op == nil {
		return nil
	}
	w := &wireOp{Kind: int(op.Kind), Dot: toWireDot(op.Dot)}
	if op.RegValue != nil {
		w.RegValue = toWirePrimitive(*op.RegValue)
	}
	if op.Key != nil {
		w.Key = append([]byte(nil), op.Key...)
	}
	w.Inner = toWireOp(op.Inner)
	if op.Observed != nil {
		for _, pair := range op.Observed.Pairs() {
			w.Observed = append(w.Observed, wireActorVer{Actor: append([]byte(nil), pair.Actor[:]...), Version: pair.Version})
		}
	}
	return w
}

func fromWireOp(w *wireOp) (*Op, error) {
	if w == nil {
		return nil, nil
	}
	dot, err := fromWireDot(w.Dot)
	if err != nil {
		return nil, err
	}
	op := &Op{Kind: OpKind(w.Kind), Dot: dot, Key: w.Key}

	switch op.Kind {
	case OpUpdateReg:
		v, err := fromWirePrimitive(w.RegValue)
		if err != nil {
			return nil, err
		}
		op.RegValue = &v
	case OpUpdateMap:
		inner, err := fromWireOp(w.Inner)
		if err != nil {
			return nil, err
		}
		op.Inner = inner
	case OpRemoveMap:
		pairs := make([]ActorVersion, 0, len(w.Observed))
		for _, p := range w.Observed {
			a, err := actorFromBytes(p.Actor)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, ActorVersion{Actor: a, Version: p.Version})
		}
		op.Observed = FromPairs(pairs)
	default:
		return nil, kverr.Malformed
	}
	return op, nil
}

// MarshalOp encodes op as canonical CBOR, the format appended to the log
// (spec.md §6).
func MarshalOp(op *Op) ([]byte, error) {
	return canonicalMode.Marshal(toWireOp(op))
}

// UnmarshalOp decodes a canonical CBOR-encoded Op, rejecting anything
// that doesn't round-trip through the closed Kind/PrimKind vocabulary.
func UnmarshalOp(data []byte) (*Op, error) {
	var w wireOp
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, &kverr.MergeError{Path: "<wire>", Err: kverr.Malformed}
	}
	return fromWireOp(&w)
}

// MarshalOps encodes a batch of disjoint-key pending Ops as one log
// entry's plaintext (spec.md §4.5: "a serialized Op (or pending-Op
// batch)"), used when a replica's pending buffer holds more than one
// top-level key at sync time.
func MarshalOps(ops []*Op) ([]byte, error) {
	wops := make([]*wireOp, len(ops))
	for i, op := range ops {
		wops[i] = toWireOp(op)
	}
	return canonicalMode.Marshal(wops)
}

// UnmarshalOps decodes a batch written by MarshalOps.
func UnmarshalOps(data []byte) ([]*Op, error) {
	var wops []*wireOp
	if err := cbor.Unmarshal(data, &wops); err != nil {
		return nil, &kverr.MergeError{Path: "<wire>", Err: kverr.Malformed}
	}
	ops := make([]*Op, len(wops))
	for i, w := range wops {
		op, err := fromWireOp(w)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}
