package tree

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/wesleyyan-sb/kvsync/internal/crdt"
	"github.com/wesleyyan-sb/kvsync/internal/xcrypto"
	"github.com/wesleyyan-sb/kvsync/kverr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "store"), xcrypto.KeyFile{}, "hunter2", xcrypto.MinIters)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestTreePutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put("/mona/pass/hn", []byte("pw1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get("/mona/pass/hn")
	if err != nil || string(got) != "pw1" {
		t.Fatalf("get: %q %v", got, err)
	}
}

func TestTreeGetMissingIsNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get("/nope"); !errors.Is(err, kverr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestTreeGetOnTreePathIsBadKind(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put("/a/b", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Get("/a"); !errors.Is(err, kverr.BadKind) {
		t.Fatalf("expected BadKind reading a tree path as a blob, got %v", err)
	}
}

func TestTreePutRejectsBlobOverTree(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put("/a/b", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("/a", []byte("y")); !errors.Is(err, kverr.BadKind) {
		t.Fatalf("expected BadKind writing a blob over a tree name, got %v", err)
	}
}

func TestTreeRmRemovesEntryNotSubtree(t *testing.T) {
	s := openTestStore(t)
	if err := s.Put("/a/b", []byte("x")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Rm("/a/b"); err != nil {
		t.Fatalf("rm: %v", err)
	}
	if _, err := s.Get("/a/b"); !errors.Is(err, kverr.NotFound) {
		t.Fatalf("expected NotFound after rm, got %v", err)
	}
}

func TestTreeReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store")
	s1, err := Open(path, xcrypto.KeyFile{}, "hunter2", xcrypto.MinIters)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s1.Put("/k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}

	s2, err := Open(path, xcrypto.KeyFile{}, "hunter2", xcrypto.MinIters)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := s2.Get("/k")
	if err != nil || string(got) != "v" {
		t.Fatalf("get after reopen: %q %v", got, err)
	}
}

func TestMergeBlobsRecursivelyMergesOps(t *testing.T) {
	a := crdt.Actor{}
	b := crdt.Actor{}
	b[0] = 1 // b > a lexicographically, so b's concurrent write must win
	left := crdt.NewUpdateMap(crdt.Dot{Actor: a, Version: 1}, []byte("x"),
		crdt.NewUpdateReg(crdt.Dot{Actor: a, Version: 1}, crdt.PrimitiveI64(1)))
	right := crdt.NewUpdateMap(crdt.Dot{Actor: b, Version: 1}, []byte("x"),
		crdt.NewUpdateReg(crdt.Dot{Actor: b, Version: 1}, crdt.PrimitiveI64(2)))

	lb, err := crdt.MarshalOp(left)
	if err != nil {
		t.Fatalf("marshal left: %v", err)
	}
	rb, err := crdt.MarshalOp(right)
	if err != nil {
		t.Fatalf("marshal right: %v", err)
	}

	mergedBytes, err := MergeBlobs(lb, rb)
	if err != nil {
		t.Fatalf("MergeBlobs: %v", err)
	}
	merged, err := crdt.UnmarshalOp(mergedBytes)
	if err != nil {
		t.Fatalf("unmarshal merged: %v", err)
	}
	if merged.Inner.RegValue.I64 != 2 {
		t.Fatalf("expected higher-actor write to win, got %+v", merged.Inner.RegValue)
	}
}

func TestMergeBlobsUnresolvableOnGarbage(t *testing.T) {
	if _, err := MergeBlobs([]byte("not cbor"), []byte("also not")); !errors.Is(err, kverr.UnresolvableConflict) {
		t.Fatalf("expected UnresolvableConflict, got %v", err)
	}
}
