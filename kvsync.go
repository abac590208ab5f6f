// Package kvsync is the root facade of spec.md's offline-first,
// encrypted-at-rest key/value store: it wires the CRDT replicator
// (internal/replica), the local cache (internal/cache), and the optional
// tree index (internal/tree) into the single DB handle an application
// opens, the same thin-wrapper shape as the teacher's root package
// nokhal.go, whose DB struct wraps a single *database.DB.
package kvsync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/wesleyyan-sb/kvsync/internal/cache"
	"github.com/wesleyyan-sb/kvsync/internal/crdt"
	"github.com/wesleyyan-sb/kvsync/internal/replica"
	"github.com/wesleyyan-sb/kvsync/internal/tree"
	"github.com/wesleyyan-sb/kvsync/internal/vlog"
	"github.com/wesleyyan-sb/kvsync/internal/xcrypto"
	"github.com/wesleyyan-sb/kvsync/kverr"
)

const (
	actorFileName = "actor"
	cacheFileName = "cache.kv"
	treeDirName   = "tree"
)

// DB is an open kvsync store rooted at one local directory.
type DB struct {
	dir      string
	password string
	keyFile  xcrypto.KeyFile
	iters    uint32
	rep      *replica.Replicator
	cache    *cache.Cache
	tree     *tree.Store // nil unless opened with WithVariant(VariantTree)
}

// Init creates a new store at dir (which must not already contain one)
// and opens it. It is Open with an extra guard against reusing a
// directory that already holds a store, mirroring the distinction
// spec.md §6 draws between first-time setup and reopening.
func Init(dir, password string, opts ...Option) (*DB, error) {
	if _, err := os.Stat(filepath.Join(dir, actorFileName)); err == nil {
		return nil, &kverr.PathError{Path: dir, Err: kverr.BadKind}
	}
	return Open(dir, password, opts...)
}

// Open opens the store at dir, creating it on first use.
func Open(dir, password string, opts ...Option) (*DB, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(cfg)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, kverr.Wrap(err)
	}

	keyFile, err := loadOrCreateKeyFile(cfg.keyFilePath)
	if err != nil {
		return nil, err
	}

	actor, err := loadOrCreateActor(filepath.Join(dir, actorFileName))
	if err != nil {
		return nil, err
	}

	codec := replica.BlockCodec{KeyFile: keyFile, Password: password, Iters: cfg.iters}
	rep := replica.New(actor, codec, cfg.logger)
	for _, rem := range cfg.remotes {
		rep.AddRemote(rem.Name, rem.Log)
	}

	c, err := cache.Open(filepath.Join(dir, cacheFileName), keyFile, password, cfg.iters)
	if err != nil {
		return nil, err
	}

	db := &DB{
		dir:      dir,
		password: password,
		keyFile:  keyFile,
		iters:    cfg.iters,
		rep:      rep,
		cache:    c,
	}

	if cfg.variant == VariantTree {
		ts, err := tree.Open(filepath.Join(dir, treeDirName), keyFile, password, cfg.iters)
		if err != nil {
			c.Close()
			return nil, err
		}
		db.tree = ts
	}

	if err := db.warmFromCache(); err != nil {
		c.Close()
		return nil, err
	}
	return db, nil
}

func loadOrCreateKeyFile(path string) (xcrypto.KeyFile, error) {
	if path == "" {
		return xcrypto.KeyFile{}, nil
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != xcrypto.KeySize {
			return xcrypto.KeyFile{}, kverr.Malformed
		}
		var kf xcrypto.KeyFile
		copy(kf[:], data)
		return kf, nil
	}
	if !os.IsNotExist(err) {
		return xcrypto.KeyFile{}, kverr.Wrap(err)
	}

	kf, err := xcrypto.GenerateKeyFile()
	if err != nil {
		return xcrypto.KeyFile{}, kverr.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return xcrypto.KeyFile{}, kverr.Wrap(err)
	}
	if err := os.WriteFile(path, kf[:], 0o600); err != nil {
		return xcrypto.KeyFile{}, kverr.Wrap(err)
	}
	return kf, nil
}

func loadOrCreateActor(path string) (crdt.Actor, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return crdt.ParseActor(string(data))
	}
	if !os.IsNotExist(err) {
		return crdt.Actor{}, kverr.Wrap(err)
	}

	actor, err := crdt.NewActor()
	if err != nil {
		return crdt.Actor{}, kverr.Wrap(err)
	}
	if err := os.WriteFile(path, []byte(actor.String()), 0o600); err != nil {
		return crdt.Actor{}, kverr.Wrap(err)
	}
	return actor, nil
}

// warmFromCache repopulates materialized state from the local memoized
// snapshot so a reopen does not need a round of Sync before reads start
// returning the last-known state (spec.md §6: the cache "memoises
// materialized_state... rebuildable from the log").
func (db *DB) warmFromCache() error {
	for _, ck := range db.cache.Keys() {
		collection, key := splitCompositeKey(ck)
		raw, err := db.cache.Get(collection, key)
		if err != nil {
			continue
		}
		if err := db.rep.Warm([][]byte{[]byte(collection), []byte(key)}, crdt.PrimitiveBytes(raw)); err != nil {
			continue
		}
	}
	return nil
}

func splitCompositeKey(full string) (collection, key string) {
	for i := 0; i < len(full); i++ {
		if full[i] == ':' {
			return full[:i], full[i+1:]
		}
	}
	return "", full
}

// Put stores value under (collection, key).
func (db *DB) Put(collection, key string, value []byte) error {
	return db.rep.Put([][]byte{[]byte(collection), []byte(key)}, crdt.PrimitiveBytes(value))
}

// Get retrieves the value stored under (collection, key).
func (db *DB) Get(collection, key string) ([]byte, error) {
	val, ok, err := db.rep.Get([][]byte{[]byte(collection), []byte(key)})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kverr.NotFound
	}
	if val.Kind != crdt.PrimBytes {
		return nil, &kverr.PathError{Path: collection + ":" + key, Err: kverr.BadKind}
	}
	return val.Bytes, nil
}

// Remove deletes (collection, key).
func (db *DB) Remove(collection, key string) error {
	return db.rep.Remove([][]byte{[]byte(collection), []byte(key)})
}

// PutJSON encodes v as JSON and stores it under (collection, key).
func (db *DB) PutJSON(collection, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Put(collection, key, data)
}

// GetJSON retrieves the value under (collection, key) and decodes it
// into dest.
func (db *DB) GetJSON(collection, key string, dest any) error {
	data, err := db.Get(collection, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// List returns the keys present in collection whose name starts with
// prefix, sorted.
func (db *DB) List(collection, prefix string) ([]string, error) {
	return db.rep.List([]byte(collection), []byte(prefix))
}

// ScanPrefix returns every value in collection whose key starts with
// prefix, keyed by the bare key.
func (db *DB) ScanPrefix(collection, prefix string) (map[string][]byte, error) {
	vals, err := db.rep.ScanPrefix([]byte(collection), []byte(prefix))
	if err != nil {
		return nil, err
	}
	return primitivesToBytes(vals), nil
}

// FilterPrefix returns every value under prefix in collection for which
// keep returns true.
func (db *DB) FilterPrefix(collection, prefix string, keep func(key string, value []byte) bool) (map[string][]byte, error) {
	vals, err := db.rep.FilterPrefix([]byte(collection), []byte(prefix), func(k string, v crdt.Primitive) bool {
		return v.Kind == crdt.PrimBytes && keep(k, v.Bytes)
	})
	if err != nil {
		return nil, err
	}
	return primitivesToBytes(vals), nil
}

// Filter returns every value in collection for which keep returns true.
func (db *DB) Filter(collection string, keep func(key string, value []byte) bool) (map[string][]byte, error) {
	return db.FilterPrefix(collection, "", keep)
}

func primitivesToBytes(vals map[string]crdt.Primitive) map[string][]byte {
	out := make(map[string][]byte, len(vals))
	for k, v := range vals {
		if v.Kind != crdt.PrimBytes {
			continue
		}
		out[k] = v.Bytes
	}
	return out
}

// AddRemote registers another log to replicate against on the next
// Sync, beyond whatever WithRemotes supplied at Open.
func (db *DB) AddRemote(name string, log vlog.Log) {
	db.rep.AddRemote(name, log)
}

// Sync runs the replication algorithm against every configured remote,
// then refreshes the local cache memoization so a later reopen starts
// warm (spec.md §4.6, §6).
func (db *DB) Sync(ctx context.Context) error {
	if err := db.rep.Sync(ctx); err != nil {
		return err
	}
	return db.refreshCache()
}

// refreshCache rewrites the cache's memoized snapshot of every
// collection:key leaf from the current materialized state. When remotes
// are configured, losing the cache costs a rebuild from the log; with no
// remote configured nothing is appended to any log, so the cache is then
// the only on-disk copy of the data.
func (db *DB) refreshCache() error {
	for _, collection := range db.rep.Root().Keys() {
		keys, err := db.rep.List(collection, nil)
		if err != nil {
			continue
		}
		for _, key := range keys {
			val, ok, err := db.rep.Get([][]byte{collection, []byte(key)})
			if err != nil || !ok || val.Kind != crdt.PrimBytes {
				continue
			}
			if err := db.cache.Put(string(collection), key, val.Bytes); err != nil {
				return err
			}
		}
	}
	return nil
}

// Compact reclaims space in the local cache store. It never touches the
// replication log (spec.md §9 Open Question 1: log history is never
// rewritten or dropped, so only the disposable cache is compacted).
func (db *DB) Compact() error {
	return db.cache.Compact()
}

// Close flushes and releases every resource the DB holds.
func (db *DB) Close() error {
	err := db.cache.Close()
	db.keyFile.Zero()
	return err
}
