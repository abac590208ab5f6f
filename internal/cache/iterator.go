package cache

import (
	"sort"
	"strings"
)

// Iterator walks a snapshot of the keys present under a prefix at the
// moment it was created, the same snapshot-then-lazy-read shape as the
// teacher's internal/database/iterator.go.
type Iterator struct {
	c     *Cache
	keys  []string
	idx   int
	valid bool
}

// NewIterator returns an Iterator over every composite key with the
// given prefix, sorted.
func (c *Cache) NewIterator(prefix string) *Iterator {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var keys []string
	for k := range c.index {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	return &Iterator{c: c, keys: keys, idx: -1}
}

// Next advances the iterator, returning false once exhausted.
func (it *Iterator) Next() bool {
	it.idx++
	it.valid = it.idx < len(it.keys)
	return it.valid
}

// Key returns the composite "collection:key" string at the current
// position.
func (it *Iterator) Key() string {
	if !it.valid {
		return ""
	}
	return it.keys[it.idx]
}

// Value decrypts and returns the value at the current position. It can
// return NotFound if the entry was deleted after the iterator's
// snapshot was taken.
func (it *Iterator) Value() ([]byte, error) {
	if !it.valid {
		return nil, nil
	}
	collection, key := splitKey(it.keys[it.idx])
	return it.c.Get(collection, key)
}

// Close releases the iterator's snapshot.
func (it *Iterator) Close() { it.keys = nil }
