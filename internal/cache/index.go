package cache

import (
	"encoding/binary"
	"encoding/gob"
	"hash/fnv"
	"io"
	"os"
	"strings"

	"github.com/wesleyyan-sb/kvsync/kverr"
)

// BloomFilter is a fixed-size probabilistic set used to skip a disk read
// for keys that are certainly absent, the same shape as the teacher's
// internal/database/index.go BloomFilter.
type BloomFilter struct {
	Bitset []bool
	Size   uint
}

// NewBloomFilter returns an empty filter with size buckets.
func NewBloomFilter(size uint) *BloomFilter {
	return &BloomFilter{Bitset: make([]bool, size), Size: size}
}

// Add marks key as possibly present.
func (bf *BloomFilter) Add(key string) {
	bf.Bitset[bf.hash(key)%bf.Size] = true
}

// Contains reports whether key might be present. A false return is
// certain; a true return is not (false positives are a bloom filter's
// nature, and deletes never clear a bit — matching the teacher's
// documented tradeoff in index.go).
func (bf *BloomFilter) Contains(key string) bool {
	return bf.Bitset[bf.hash(key)%bf.Size]
}

func (bf *BloomFilter) hash(s string) uint {
	h := fnv.New32a()
	h.Write([]byte(s))
	return uint(h.Sum32())
}

// compositeKey joins a collection and key into the single string the
// in-memory index is keyed by.
func compositeKey(collection, key string) string { return collection + ":" + key }

// splitKey is the inverse of compositeKey.
func splitKey(full string) (collection, key string) {
	parts := strings.SplitN(full, ":", 2)
	if len(parts) == 1 {
		return "", parts[0]
	}
	return parts[0], parts[1]
}

const hintMagic = "KVSYNCCACHEHINT1"

// saveHint persists the in-memory index and bloom filter so the next
// Open can skip rescanning the whole file, the same optimization as the
// teacher's saveHint/loadHint in internal/database/index.go.
func (c *Cache) saveHint() error {
	f, err := os.Create(c.path + ".hint")
	if err != nil {
		return kverr.Wrap(err)
	}
	defer f.Close()

	if _, err := f.WriteString(hintMagic); err != nil {
		return kverr.Wrap(err)
	}
	if err := binary.Write(f, binary.BigEndian, c.offset); err != nil {
		return kverr.Wrap(err)
	}
	enc := gob.NewEncoder(f)
	if err := enc.Encode(c.index); err != nil {
		return kverr.Wrap(err)
	}
	return kverr.Wrap(enc.Encode(c.bloom))
}

func (c *Cache) loadHint() (int64, error) {
	f, err := os.Open(c.path + ".hint")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	magic := make([]byte, len(hintMagic))
	if _, err := io.ReadFull(f, magic); err != nil || string(magic) != hintMagic {
		return 0, kverr.Malformed
	}
	var offset int64
	if err := binary.Read(f, binary.BigEndian, &offset); err != nil {
		return 0, kverr.Wrap(err)
	}
	dec := gob.NewDecoder(f)
	if err := dec.Decode(&c.index); err != nil {
		return 0, kverr.Wrap(err)
	}
	if err := dec.Decode(&c.bloom); err != nil {
		return 0, kverr.Wrap(err)
	}
	return offset, nil
}
