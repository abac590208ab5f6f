package replica

import (
	"github.com/wesleyyan-sb/kvsync/internal/crdt"
	"github.com/wesleyyan-sb/kvsync/kverr"
)

// getPath descends root through path, returning the Primitive stored at
// its final component.
func getPath(root *crdt.MapValue, path [][]byte) (crdt.Primitive, bool, error) {
	if len(path) == 0 {
		return crdt.Primitive{}, false, kverr.InvalidPath
	}
	cur := root
	for i, comp := range path {
		v, ok := cur.Get(comp)
		if !ok {
			return crdt.Primitive{}, false, nil
		}
		if i == len(path)-1 {
			reg, ok := v.(*crdt.Register)
			if !ok {
				return crdt.Primitive{}, false, kverr.BadKind
			}
			val, _ := reg.Get()
			return val, true, nil
		}
		next, ok := v.(*crdt.MapValue)
		if !ok {
			return crdt.Primitive{}, false, kverr.BadKind
		}
		cur = next
	}
	return crdt.Primitive{}, false, nil
}

// buildPutOp constructs the Op for writing value at path with dot,
// threaded through every intermediate map level (spec.md §4.4).
func buildPutOp(path [][]byte, value crdt.Primitive, dot crdt.Dot) (*crdt.Op, error) {
	if len(path) == 0 {
		return nil, kverr.InvalidPath
	}
	leaf := crdt.NewUpdateReg(dot, value)
	return crdt.WrapPath(dot, path, leaf), nil
}

// buildRemoveOp constructs the Op for removing path with dot, carrying
// the observed_clock of the entry currently found there (or an empty
// clock if the parent or entry doesn't exist locally, which makes the
// remove a safe no-op wherever it is eventually applied).
func buildRemoveOp(root *crdt.MapValue, path [][]byte, dot crdt.Dot) (*crdt.Op, error) {
	if len(path) == 0 {
		return nil, kverr.InvalidPath
	}
	parentPath := path[:len(path)-1]
	leafKey := path[len(path)-1]

	cur := root
	for _, comp := range parentPath {
		v, ok := cur.Get(comp)
		if !ok {
			return crdt.WrapPath(dot, parentPath, crdt.NewRemoveMap(dot, leafKey, crdt.NewVClock())), nil
		}
		next, ok := v.(*crdt.MapValue)
		if !ok {
			return nil, kverr.BadKind
		}
		cur = next
	}

	removeOp := cur.Remove(dot, leafKey)
	if len(parentPath) == 0 {
		return removeOp, nil
	}
	return crdt.WrapPath(dot, parentPath, removeOp), nil
}
