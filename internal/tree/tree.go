// Package tree implements the optional obfuscated on-disk tree-index
// variant of spec.md §4.7: a content-addressed directory of encrypted
// Tree and Blob blocks with strict parent-child invariants, as an
// alternative to the linear log's opaque byte-store for deployments that
// want a browsable, obfuscated on-disk layout.
package tree

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/wesleyyan-sb/kvsync/internal/block"
	"github.com/wesleyyan-sb/kvsync/internal/crdt"
	"github.com/wesleyyan-sb/kvsync/internal/keypath"
	"github.com/wesleyyan-sb/kvsync/internal/xcrypto"
	"github.com/wesleyyan-sb/kvsync/kverr"
)

// Kind distinguishes a tree entry pointing at a nested Tree from one
// pointing at a leaf Blob (spec.md §4.7).
type Kind int

const (
	KindTree Kind = iota
	KindBlob
)

// Entry is one (name, kind) pair inside a TreeBlock.
type Entry struct {
	Name string `cbor:"1,keyasint"`
	Kind Kind   `cbor:"2,keyasint"`
}

// TreeBlock is the on-disk record for a directory node: the list of
// children it immediately contains (spec.md §4.7: "{ entries:
// [(name, kind)] }").
type TreeBlock struct {
	Entries []Entry `cbor:"1,keyasint"`
}

func (tb *TreeBlock) find(name string) (Entry, bool) {
	for _, e := range tb.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

func (tb *TreeBlock) upsert(e Entry) {
	for i, existing := range tb.Entries {
		if existing.Name == e.Name {
			tb.Entries[i] = e
			return
		}
	}
	tb.Entries = append(tb.Entries, e)
}

func (tb *TreeBlock) remove(name string) {
	out := tb.Entries[:0]
	for _, e := range tb.Entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	tb.Entries = out
}

// Store is an open tree-index rooted at a filesystem directory.
type Store struct {
	root     string
	keyFile  xcrypto.KeyFile
	password string
	iters    uint32
	salt     []byte
}

const saltFileName = "salt"
const rootPath = "/"

// Open loads an existing tree-index at root, or initializes one with a
// freshly drawn obfuscation salt if root has never been used.
func Open(root string, keyFile xcrypto.KeyFile, password string, iters uint32) (*Store, error) {
	s := &Store{root: root, keyFile: keyFile, password: password, iters: iters}

	if err := os.MkdirAll(filepath.Join(root, "cryptic"), 0o700); err != nil {
		return nil, kverr.Wrap(err)
	}

	saltPath := filepath.Join(root, saltFileName)
	data, err := os.ReadFile(saltPath)
	switch {
	case os.IsNotExist(err):
		salt, genErr := xcrypto.GenerateSalt()
		if genErr != nil {
			return nil, kverr.Wrap(genErr)
		}
		encSalt, encErr := block.Encode(salt, keyFile, password, iters)
		if encErr != nil {
			return nil, encErr
		}
		if writeErr := os.WriteFile(saltPath, encSalt, 0o600); writeErr != nil {
			return nil, kverr.Wrap(writeErr)
		}
		s.salt = salt
	case err != nil:
		return nil, kverr.Wrap(err)
	default:
		salt, decErr := block.Decode(data, keyFile, password)
		if decErr != nil {
			return nil, decErr
		}
		s.salt = salt
	}

	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) blockPath(p string) string {
	dir, name := keypath.ObfuscatedLocation(s.salt, p)
	return filepath.Join(s.root, "cryptic", dir, name)
}

func (s *Store) ensureRoot() error {
	_, err := s.loadTree(rootPath)
	if err == nil {
		return nil
	}
	if !errors.Is(err, kverr.NotFound) {
		return err
	}
	return s.saveTree(rootPath, &TreeBlock{})
}

func (s *Store) loadTree(p string) (*TreeBlock, error) {
	raw, err := s.readBlock(p)
	if err != nil {
		return nil, err
	}
	var tb TreeBlock
	if err := cbor.Unmarshal(raw, &tb); err != nil {
		return nil, kverr.Malformed
	}
	return &tb, nil
}

func (s *Store) saveTree(p string, tb *TreeBlock) error {
	pt, err := cbor.Marshal(tb)
	if err != nil {
		return kverr.Wrap(err)
	}
	return s.writeBlock(p, pt)
}

func (s *Store) readBlock(p string) ([]byte, error) {
	path := s.blockPath(p)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, kverr.NotFound
	}
	if err != nil {
		return nil, kverr.Wrap(err)
	}
	return block.Decode(data, s.keyFile, s.password)
}

func (s *Store) writeBlock(p string, pt []byte) error {
	path := s.blockPath(p)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return kverr.Wrap(err)
	}
	enc, err := block.Encode(pt, s.keyFile, s.password, s.iters)
	if err != nil {
		return err
	}
	return kverr.Wrap(os.WriteFile(path, enc, 0o600))
}

// parentOf splits path into its parent Path and its final literal
// component name.
func parentOf(path string) (parent, name string, err error) {
	comps := keypath.Components(path)
	if len(comps) == 0 {
		return "", "", &kverr.PathError{Path: path, Err: kverr.InvalidPath}
	}
	parent = rootPath
	for _, c := range comps[:len(comps)-1] {
		parent = keypath.Join(parent, c)
	}
	return parent, comps[len(comps)-1], nil
}

// OpenTree ensures every prefix of path exists as a Tree entry,
// materializing empty intermediate trees as needed (spec.md §4.7).
func (s *Store) OpenTree(path string) error {
	if err := keypath.ValidatePath(path); err != nil {
		return err
	}
	if path == rootPath {
		return s.ensureRoot()
	}

	cur := rootPath
	for _, c := range keypath.Components(path) {
		child := keypath.Join(cur, c)
		parentBlock, err := s.loadTree(cur)
		if err != nil {
			return err
		}
		if entry, ok := parentBlock.find(c); ok {
			if entry.Kind != KindTree {
				return &kverr.PathError{Path: child, Err: kverr.BadKind}
			}
		} else {
			if err := s.saveTree(child, &TreeBlock{}); err != nil {
				return err
			}
			parentBlock.upsert(Entry{Name: c, Kind: KindTree})
			if err := s.saveTree(cur, parentBlock); err != nil {
				return err
			}
		}
		cur = child
	}
	return nil
}

// Put ensures path's parent tree exists and writes pt as an encrypted
// Blob, recording a Blob entry in the parent (spec.md §4.7). It rejects
// writing over a name already occupied by a Tree.
func (s *Store) Put(path string, pt []byte) error {
	if err := keypath.ValidatePath(path); err != nil {
		return err
	}
	parent, name, err := parentOf(path)
	if err != nil {
		return err
	}
	if err := s.OpenTree(parent); err != nil {
		return err
	}
	parentBlock, err := s.loadTree(parent)
	if err != nil {
		return err
	}
	if entry, ok := parentBlock.find(name); ok && entry.Kind == KindTree {
		return &kverr.PathError{Path: path, Err: kverr.BadKind}
	}

	if err := s.writeBlock(path, pt); err != nil {
		return err
	}
	parentBlock.upsert(Entry{Name: name, Kind: KindBlob})
	return s.saveTree(parent, parentBlock)
}

// Get reads the Blob stored at path directly, without traversing from
// the root, per spec.md §4.7 ("no need to traverse"). It still consults
// the parent's listing to distinguish a genuinely absent entry
// (NotFound) from one that names a Tree (BadKind).
func (s *Store) Get(path string) ([]byte, error) {
	if err := keypath.ValidatePath(path); err != nil {
		return nil, err
	}
	if path == rootPath {
		return nil, &kverr.PathError{Path: path, Err: kverr.BadKind}
	}
	parent, name, err := parentOf(path)
	if err != nil {
		return nil, err
	}
	parentBlock, err := s.loadTree(parent)
	if err != nil {
		return nil, err
	}
	entry, ok := parentBlock.find(name)
	if !ok {
		return nil, kverr.NotFound
	}
	if entry.Kind != KindBlob {
		return nil, &kverr.PathError{Path: path, Err: kverr.BadKind}
	}
	return s.readBlock(path)
}

// Rm removes path's entry from its parent and deletes the on-disk blob.
// It does not cascade-delete subtrees (spec.md §4.7: "out of scope").
func (s *Store) Rm(path string) error {
	if err := keypath.ValidatePath(path); err != nil {
		return err
	}
	parent, name, err := parentOf(path)
	if err != nil {
		return err
	}
	parentBlock, err := s.loadTree(parent)
	if err != nil {
		return err
	}
	if _, ok := parentBlock.find(name); !ok {
		return kverr.NotFound
	}
	parentBlock.remove(name)
	if err := s.saveTree(parent, parentBlock); err != nil {
		return err
	}
	if err := os.Remove(s.blockPath(path)); err != nil && !os.IsNotExist(err) {
		return kverr.Wrap(err)
	}
	return nil
}

// MergeBlobs implements the modified/modified fallback of spec.md §4.7
// for the case where the tree index is used to persist CRDT Op content:
// both sides are decoded as Ops and recursively merged. Any other use of
// Store (opaque, non-Op blob content) cannot use this path and should
// resolve conflicts at a higher layer; a failure to decode either side
// here is an UnresolvableConflict, never a silent pick of one side.
func MergeBlobs(left, right []byte) ([]byte, error) {
	leftOp, err := crdt.UnmarshalOp(left)
	if err != nil {
		return nil, kverr.UnresolvableConflict
	}
	rightOp, err := crdt.UnmarshalOp(right)
	if err != nil {
		return nil, kverr.UnresolvableConflict
	}
	merged, err := crdt.MergeOp(leftOp, rightOp)
	if err != nil {
		return nil, kverr.UnresolvableConflict
	}
	return crdt.MarshalOp(merged)
}
