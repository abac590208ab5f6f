// Package cache implements the local memoization store named in
// spec.md §1 ("the local embedded byte-store used as cache") and
// detailed in SPEC_FULL.md: an encrypted, append-only, bitcask-style
// projection of materialized state that can always be discarded and
// rebuilt by replaying the log. It is adapted from the teacher's
// internal/database engine with TTL removed (a cache entry's lifetime is
// "until the next Compact or rebuild", never wall-clock) and its crypto
// swapped for internal/block's PBKDF2 + ChaCha20-Poly1305 framing.
package cache

import (
	"bytes"
	"compress/flate"
	"crypto/rand"
	"encoding/binary"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/wesleyyan-sb/kvsync/internal/block"
	"github.com/wesleyyan-sb/kvsync/internal/xcrypto"
	"github.com/wesleyyan-sb/kvsync/kverr"
)

// compressThreshold mirrors the teacher's database.go cutoff: values at
// or below this size are stored raw, since flate overhead outweighs the
// saving on small payloads.
const compressThreshold = 128

// defaultBloomSize is generous for the handful-of-collections workload
// this cache targets (spec.md's non-goal of "high write throughput").
const defaultBloomSize = 100_000

// Cache is one open append-only encrypted cache file.
type Cache struct {
	mu      sync.RWMutex
	file    *os.File
	path    string
	offset  int64
	index   map[string]int64
	bloom   *BloomFilter
	keyFile xcrypto.KeyFile
	pass    string
	iters   uint32
}

// Open opens (creating if absent) the cache file at path.
func Open(path string, keyFile xcrypto.KeyFile, password string, iters uint32) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, kverr.Wrap(err)
	}
	c := &Cache{
		file:    f,
		path:    path,
		index:   make(map[string]int64),
		bloom:   NewBloomFilter(defaultBloomSize),
		keyFile: keyFile,
		pass:    password,
		iters:   iters,
	}
	if err := c.loadIndexes(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *Cache) loadIndexes() error {
	if offset, err := c.loadHint(); err == nil {
		c.offset = offset
	} else {
		c.offset = 0
		c.index = make(map[string]int64)
		c.bloom = NewBloomFilter(defaultBloomSize)
	}

	info, err := c.file.Stat()
	if err != nil {
		return kverr.Wrap(err)
	}
	size := info.Size()

	offset := c.offset
	for offset < size {
		rec, n, err := c.readRecordAt(offset)
		if err != nil {
			return err
		}
		key := compositeKey(rec.Collection, rec.Key)
		switch rec.Op {
		case opPut:
			c.index[key] = offset
			c.bloom.Add(key)
		case opDelete:
			delete(c.index, key)
		}
		offset += n
	}
	c.offset = offset
	return nil
}

// readRecordAt decodes the block framed at offset and returns the
// decoded record plus the number of bytes it occupied on disk.
func (c *Cache) readRecordAt(offset int64) (*record, int64, error) {
	var lenBuf [4]byte
	if _, err := c.file.ReadAt(lenBuf[:], offset); err != nil {
		return nil, 0, kverr.Wrap(err)
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, size)
	if _, err := c.file.ReadAt(buf, offset+4); err != nil {
		return nil, 0, kverr.Wrap(err)
	}
	pt, err := block.Decode(buf, c.keyFile, c.pass)
	if err != nil {
		return nil, 0, err
	}
	rec, err := decodeRecord(pt)
	if err != nil {
		return nil, 0, kverr.Malformed
	}
	return rec, int64(4 + len(buf)), nil
}

func (c *Cache) appendRecord(rec *record) (int64, error) {
	pt, err := rec.encode()
	if err != nil {
		return 0, kverr.Wrap(err)
	}
	blk, err := block.Encode(pt, c.keyFile, c.pass, c.iters)
	if err != nil {
		return 0, err
	}

	offset := c.offset
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(blk)))
	if _, err := c.file.WriteAt(lenBuf[:], offset); err != nil {
		return 0, kverr.Wrap(err)
	}
	if _, err := c.file.WriteAt(blk, offset+4); err != nil {
		return 0, kverr.Wrap(err)
	}
	if err := c.file.Sync(); err != nil {
		return 0, kverr.Wrap(err)
	}
	c.offset = offset + 4 + int64(len(blk))
	return offset, nil
}

// Put stores value under (collection, key), transparently compressing
// payloads over compressThreshold bytes the way the teacher's Put does.
func (c *Cache) Put(collection, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	final := value
	compressed := false
	if len(value) > compressThreshold {
		if z, err := deflate(value); err == nil && len(z) < len(value) {
			final, compressed = z, true
		}
	}

	rec := &record{Op: opPut, Collection: collection, Key: key, Value: final, Compressed: compressed}
	offset, err := c.appendRecord(rec)
	if err != nil {
		return err
	}
	ck := compositeKey(collection, key)
	c.index[ck] = offset
	c.bloom.Add(ck)
	return nil
}

// Get returns the value stored under (collection, key).
func (c *Cache) Get(collection, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getLocked(collection, key)
}

func (c *Cache) getLocked(collection, key string) ([]byte, error) {
	ck := compositeKey(collection, key)
	if !c.bloom.Contains(ck) {
		return nil, kverr.NotFound
	}
	offset, ok := c.index[ck]
	if !ok {
		return nil, kverr.NotFound
	}
	rec, _, err := c.readRecordAt(offset)
	if err != nil {
		return nil, err
	}
	if rec.Op != opPut {
		return nil, kverr.NotFound
	}
	if !rec.Compressed {
		return rec.Value, nil
	}
	return inflate(rec.Value)
}

// Delete removes (collection, key).
func (c *Cache) Delete(collection, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ck := compositeKey(collection, key)
	if _, ok := c.index[ck]; !ok {
		return kverr.NotFound
	}
	if _, err := c.appendRecord(&record{Op: opDelete, Collection: collection, Key: key}); err != nil {
		return err
	}
	delete(c.index, ck)
	return nil
}

// Keys returns every composite "collection:key" string currently live in
// the index, sorted. Unlike List, it is not scoped to one collection: it
// exists for rehydrating an entire store's worth of collections on Open,
// where the caller does not yet know which collections were ever written.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.index))
	for ck := range c.index {
		out = append(out, ck)
	}
	sort.Strings(out)
	return out
}

// List returns every composite "collection:key" string whose key part
// starts with prefix, sorted.
func (c *Cache) List(collection, prefix string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	want := compositeKey(collection, prefix)
	var out []string
	for ck := range c.index {
		if strings.HasPrefix(ck, want) {
			out = append(out, ck)
		}
	}
	sort.Strings(out)
	return out
}

// ScanPrefix returns every value in collection whose key starts with
// prefix, keyed by the bare key (not the composite form).
func (c *Cache) ScanPrefix(collection, prefix string) (map[string][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]byte)
	want := compositeKey(collection, prefix)
	for ck := range c.index {
		if !strings.HasPrefix(ck, want) {
			continue
		}
		_, key := splitKey(ck)
		v, err := c.getLocked(collection, key)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// FilterPrefix returns every value under prefix for which keep returns
// true.
func (c *Cache) FilterPrefix(collection, prefix string, keep func(key string, value []byte) bool) (map[string][]byte, error) {
	all, err := c.ScanPrefix(collection, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(all))
	for k, v := range all {
		if keep(k, v) {
			out[k] = v
		}
	}
	return out, nil
}

// Filter returns every value in collection for which keep returns true.
func (c *Cache) Filter(collection string, keep func(key string, value []byte) bool) (map[string][]byte, error) {
	return c.FilterPrefix(collection, "", keep)
}

// Close flushes the hint file and closes the underlying handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.saveHint(); err != nil {
		return err
	}
	return kverr.Wrap(c.file.Close())
}

// Compact rewrites the cache file keeping only live entries, discarding
// tombstones and superseded versions, then secure-erases the old file.
// This is safe here specifically because the cache is a disposable
// projection the log can always regenerate (DESIGN.md: secureDelete is
// not used on the log or tree-index paths, only here).
func (c *Cache) Compact() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tmpPath := c.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return kverr.Wrap(err)
	}

	newIndex := make(map[string]int64, len(c.index))
	newBloom := NewBloomFilter(defaultBloomSize)
	var offset int64

	keys := make([]string, 0, len(c.index))
	for ck := range c.index {
		keys = append(keys, ck)
	}
	sort.Strings(keys)

	for _, ck := range keys {
		oldOffset := c.index[ck]
		rec, _, err := c.readRecordAt(oldOffset)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		pt, err := rec.encode()
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return kverr.Wrap(err)
		}
		blk, err := block.Encode(pt, c.keyFile, c.pass, c.iters)
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return err
		}
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(blk)))
		if _, err := tmp.Write(lenBuf[:]); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return kverr.Wrap(err)
		}
		if _, err := tmp.Write(blk); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return kverr.Wrap(err)
		}
		newIndex[ck] = offset
		newBloom.Add(ck)
		offset += 4 + int64(len(blk))
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return kverr.Wrap(err)
	}
	tmp.Close()
	c.file.Close()

	if err := secureDelete(c.path); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return kverr.Wrap(err)
	}

	f, err := os.OpenFile(c.path, os.O_RDWR, 0o600)
	if err != nil {
		return kverr.Wrap(err)
	}
	c.file = f
	c.index = newIndex
	c.bloom = newBloom
	c.offset = offset
	os.Remove(c.path + ".hint")
	return nil
}

func deflate(data []byte) ([]byte, error) {
	var b bytes.Buffer
	w, err := flate.NewWriter(&b, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, kverr.Wrap(err)
	}
	return out, nil
}

// secureDelete overwrites path with random bytes before unlinking it, a
// best-effort precaution against the stale encrypted blocks a compacted
// cache's old file would otherwise leave on disk.
func secureDelete(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return kverr.Wrap(os.Remove(path))
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return kverr.Wrap(os.Remove(path))
	}
	size := info.Size()
	buf := make([]byte, 64*1024)
	if _, err := rand.Read(buf); err != nil {
		f.Close()
		return kverr.Wrap(os.Remove(path))
	}
	for i := int64(0); i < size; i += int64(len(buf)) {
		if _, err := f.Write(buf); err != nil {
			break
		}
	}
	f.Sync()
	f.Close()
	return kverr.Wrap(os.Remove(path))
}
