package cache

import (
	"encoding/binary"
	"sync"

	"github.com/wesleyyan-sb/kvsync/internal/block"
	"github.com/wesleyyan-sb/kvsync/kverr"
)

// Batch buffers a sequence of Put/Delete calls and commits them with a
// single file write and a single fsync, the same optimization as the
// teacher's internal/database/batch.go (minus the TTL field, since a
// cache entry's lifetime here is "until the next Compact", never a
// wall-clock expiry).
type Batch struct {
	c      *Cache
	mu     sync.Mutex
	writes []batchWrite
}

type batchWrite struct {
	collection string
	key        string
	value      []byte
	op         op
}

// NewBatch returns an empty batch bound to c.
func (c *Cache) NewBatch() *Batch {
	return &Batch{c: c}
}

// Put queues a write; it is not visible until Commit.
func (b *Batch) Put(collection, key string, value []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, batchWrite{collection: collection, key: key, value: value, op: opPut})
}

// Delete queues a delete; it is not visible until Commit.
func (b *Batch) Delete(collection, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, batchWrite{collection: collection, key: key, op: opDelete})
}

// Commit encodes every queued write into one buffer, appends it with a
// single Write and Sync, then updates the in-memory index.
func (b *Batch) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.writes) == 0 {
		return nil
	}

	c := b.c
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf []byte
	type indexUpdate struct {
		key    string
		offset int64
		op     op
	}
	var updates []indexUpdate
	offset := c.offset

	for _, w := range b.writes {
		final := w.value
		compressed := false
		if w.op == opPut && len(w.value) > compressThreshold {
			if z, err := deflate(w.value); err == nil && len(z) < len(w.value) {
				final, compressed = z, true
			}
		}

		rec := &record{Op: w.op, Collection: w.collection, Key: w.key, Value: final, Compressed: compressed}
		pt, err := rec.encode()
		if err != nil {
			return kverr.Wrap(err)
		}
		blk, err := block.Encode(pt, c.keyFile, c.pass, c.iters)
		if err != nil {
			return err
		}

		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(blk)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, blk...)

		updates = append(updates, indexUpdate{key: compositeKey(w.collection, w.key), offset: offset, op: w.op})
		offset += int64(4 + len(blk))
	}

	if _, err := c.file.WriteAt(buf, c.offset); err != nil {
		return kverr.Wrap(err)
	}
	if err := c.file.Sync(); err != nil {
		return kverr.Wrap(err)
	}

	for _, u := range updates {
		if u.op == opPut {
			c.index[u.key] = u.offset
			c.bloom.Add(u.key)
		} else {
			delete(c.index, u.key)
		}
	}
	c.offset = offset
	b.writes = nil
	return nil
}
