package replica

import (
	"sort"
	"strings"

	"github.com/wesleyyan-sb/kvsync/internal/crdt"
	"github.com/wesleyyan-sb/kvsync/kverr"
)

// collectionMap returns the MapValue materialized at the root's
// top-level collection key, or an empty live map if the collection has
// never been written.
func (r *Replicator) collectionMap(collection []byte) (*crdt.MapValue, error) {
	v, ok := r.root.Get(collection)
	if !ok {
		return crdt.NewMapValue(), nil
	}
	mv, ok := v.(*crdt.MapValue)
	if !ok {
		return nil, &kverr.PathError{Path: string(collection), Err: kverr.BadKind}
	}
	return mv, nil
}

// List returns every live key under collection whose name starts with
// prefix, sorted, the same prefix-scan shape as the teacher's
// database.go List/ScanPrefix (adapted to read materialized_state
// instead of a bitcask index).
func (r *Replicator) List(collection, prefix []byte) ([]string, error) {
	mv, err := r.collectionMap(collection)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range mv.Keys() {
		if strings.HasPrefix(string(k), string(prefix)) {
			out = append(out, string(k))
		}
	}
	sort.Strings(out)
	return out, nil
}

// valueAt reads the raw Primitive stored at key within collection,
// requiring it to be a Register leaf (not a nested map).
func (r *Replicator) valueAt(mv *crdt.MapValue, key string) (crdt.Primitive, error) {
	v, ok := mv.Get([]byte(key))
	if !ok {
		return crdt.Primitive{}, kverr.NotFound
	}
	reg, ok := v.(*crdt.Register)
	if !ok {
		return crdt.Primitive{}, &kverr.PathError{Path: key, Err: kverr.BadKind}
	}
	val, _ := reg.Get()
	return val, nil
}

// ScanPrefix returns every Register leaf under collection whose key
// starts with prefix, keyed by the bare key.
func (r *Replicator) ScanPrefix(collection, prefix []byte) (map[string]crdt.Primitive, error) {
	mv, err := r.collectionMap(collection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]crdt.Primitive)
	for _, k := range mv.Keys() {
		key := string(k)
		if !strings.HasPrefix(key, string(prefix)) {
			continue
		}
		val, err := r.valueAt(mv, key)
		if err != nil {
			continue // a nested map under this collection is not a scannable leaf
		}
		out[key] = val
	}
	return out, nil
}

// FilterPrefix returns every leaf under prefix for which keep returns
// true.
func (r *Replicator) FilterPrefix(collection, prefix []byte, keep func(key string, value crdt.Primitive) bool) (map[string]crdt.Primitive, error) {
	all, err := r.ScanPrefix(collection, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]crdt.Primitive, len(all))
	for k, v := range all {
		if keep(k, v) {
			out[k] = v
		}
	}
	return out, nil
}

// Filter returns every leaf in collection for which keep returns true.
func (r *Replicator) Filter(collection []byte, keep func(key string, value crdt.Primitive) bool) (map[string]crdt.Primitive, error) {
	return r.FilterPrefix(collection, nil, keep)
}

// Iterator walks a sorted snapshot of the live keys under one collection
// at the moment it was created, the same snapshot-then-lazy-read shape
// as the teacher's internal/database/iterator.go.
type Iterator struct {
	r          *Replicator
	collection []byte
	keys       []string
	idx        int
	valid      bool
}

// NewIterator returns an Iterator over collection's live keys.
func (r *Replicator) NewIterator(collection []byte) (*Iterator, error) {
	keys, err := r.List(collection, nil)
	if err != nil {
		return nil, err
	}
	return &Iterator{r: r, collection: collection, keys: keys, idx: -1}, nil
}

// Next advances the iterator, returning false once exhausted.
func (it *Iterator) Next() bool {
	it.idx++
	it.valid = it.idx < len(it.keys)
	return it.valid
}

// Key returns the key at the current position.
func (it *Iterator) Key() string {
	if !it.valid {
		return ""
	}
	return it.keys[it.idx]
}

// Value reads the leaf at the current position. It can return NotFound
// if the key was removed after the iterator's snapshot was taken.
func (it *Iterator) Value() (crdt.Primitive, error) {
	if !it.valid {
		return crdt.Primitive{}, kverr.NotFound
	}
	mv, err := it.r.collectionMap(it.collection)
	if err != nil {
		return crdt.Primitive{}, err
	}
	return it.r.valueAt(mv, it.keys[it.idx])
}

// Close releases the iterator's snapshot.
func (it *Iterator) Close() { it.keys = nil }
