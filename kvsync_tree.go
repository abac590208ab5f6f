package kvsync

import "github.com/wesleyyan-sb/kvsync/kverr"

// PutPath writes pt directly to the obfuscated tree index at path,
// bypassing the CRDT/log path entirely (spec.md §4.7). It is only valid
// on a DB opened with WithVariant(VariantTree).
func (db *DB) PutPath(path string, pt []byte) error {
	if db.tree == nil {
		return kverr.BadKind
	}
	return db.tree.Put(path, pt)
}

// GetPath reads the blob stored at path in the tree index.
func (db *DB) GetPath(path string) ([]byte, error) {
	if db.tree == nil {
		return nil, kverr.BadKind
	}
	return db.tree.Get(path)
}

// RemovePath removes path's entry from the tree index.
func (db *DB) RemovePath(path string) error {
	if db.tree == nil {
		return kverr.BadKind
	}
	return db.tree.Rm(path)
}
