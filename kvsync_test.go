package kvsync

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/wesleyyan-sb/kvsync/internal/vlog"
)

func TestPutGetRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "hunter2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.Put("users", "alice", []byte("hello")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get("users", "alice")
	if err != nil || !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("get: %q %v", got, err)
	}

	if err := db.Remove("users", "alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := db.Get("users", "alice"); err == nil {
		t.Fatalf("expected error after remove")
	}
}

func TestJSONHelpers(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "hunter2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	type user struct {
		Name string
		Age  int
	}
	if err := db.PutJSON("users", "bob", user{Name: "Bob", Age: 30}); err != nil {
		t.Fatalf("putjson: %v", err)
	}
	var u user
	if err := db.GetJSON("users", "bob", &u); err != nil {
		t.Fatalf("getjson: %v", err)
	}
	if u.Name != "Bob" || u.Age != 30 {
		t.Fatalf("unexpected decode: %+v", u)
	}
}

func TestListScanFilter(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "hunter2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	db.Put("fruit", "apple", []byte("red"))
	db.Put("fruit", "avocado", []byte("green"))
	db.Put("fruit", "banana", []byte("yellow"))

	keys, err := db.List("fruit", "a")
	if err != nil || len(keys) != 2 {
		t.Fatalf("list: %v %v", keys, err)
	}

	scanned, err := db.ScanPrefix("fruit", "a")
	if err != nil || len(scanned) != 2 {
		t.Fatalf("scanprefix: %v %v", scanned, err)
	}

	filtered, err := db.Filter("fruit", func(key string, value []byte) bool {
		return bytes.Contains(value, []byte("ee"))
	})
	if err != nil || len(filtered) != 1 {
		t.Fatalf("filter: %v %v", filtered, err)
	}
}

// TestReopenSurvivesViaCache covers S1: a single-site writer reopens the
// store and reads its own prior writes back, served from the local cache
// memoization without needing a Sync first.
func TestReopenSurvivesViaCache(t *testing.T) {
	dir := t.TempDir()

	db1, err := Open(dir, "hunter2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db1.Put("notes", "k", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db1.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := Open(dir, "hunter2")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	got, err := db2.Get("notes", "k")
	if err != nil || !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("get after reopen: %q %v", got, err)
	}
}

// TestMultiDeviceConvergence: two devices write distinct keys and sync
// against one shared remote; after A syncs again following B's write, A
// reads both its own write and B's.
func TestMultiDeviceConvergence(t *testing.T) {
	shared := vlog.NewSharedRemote()

	dirA := filepath.Join(t.TempDir(), "a")
	dirB := filepath.Join(t.TempDir(), "b")

	dbA, err := Open(dirA, "hunter2", WithRemotes(vlog.Named{Name: "origin", Log: vlog.NewMemLogOn(shared)}))
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer dbA.Close()
	dbB, err := Open(dirB, "hunter2", WithRemotes(vlog.Named{Name: "origin", Log: vlog.NewMemLogOn(shared)}))
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer dbB.Close()

	ctx := context.Background()
	if err := dbA.Put("notes", "x", []byte("from-a")); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := dbA.Sync(ctx); err != nil {
		t.Fatalf("sync a: %v", err)
	}
	if err := dbB.Put("notes", "y", []byte("from-b")); err != nil {
		t.Fatalf("put b: %v", err)
	}
	if err := dbB.Sync(ctx); err != nil {
		t.Fatalf("sync b: %v", err)
	}
	if err := dbA.Sync(ctx); err != nil {
		t.Fatalf("second sync a: %v", err)
	}

	gotX, err := dbA.Get("notes", "x")
	if err != nil || string(gotX) != "from-a" {
		t.Fatalf("a's own write on a: %q %v", gotX, err)
	}
	gotY, err := dbA.Get("notes", "y")
	if err != nil || string(gotY) != "from-b" {
		t.Fatalf("b's write visible on a: %q %v", gotY, err)
	}
}

func TestTreeVariantPutGet(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "hunter2", WithVariant(VariantTree))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.PutPath("/a/b", []byte("x")); err != nil {
		t.Fatalf("putpath: %v", err)
	}
	got, err := db.GetPath("/a/b")
	if err != nil || string(got) != "x" {
		t.Fatalf("getpath: %q %v", got, err)
	}
	if err := db.RemovePath("/a/b"); err != nil {
		t.Fatalf("removepath: %v", err)
	}
	if _, err := db.GetPath("/a/b"); err == nil {
		t.Fatalf("expected error after removepath")
	}
}

func TestPutPathRejectedWithoutTreeVariant(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "hunter2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.PutPath("/a", []byte("x")); err == nil {
		t.Fatalf("expected error using tree path ops without VariantTree")
	}
}

func TestCompactDoesNotLoseData(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "hunter2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.Put("notes", "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := db.Compact(); err != nil {
		t.Fatalf("compact: %v", err)
	}
	got, err := db.Get("notes", "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("get after compact: %q %v", got, err)
	}
}

func TestKeyFilePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "kf")

	db1, err := Open(filepath.Join(dir, "store"), "hunter2", WithKeyFilePath(keyPath))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db1.Put("notes", "k", []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := db1.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := Open(filepath.Join(dir, "store"), "hunter2", WithKeyFilePath(keyPath))
	if err != nil {
		t.Fatalf("reopen with same key-file: %v", err)
	}
	defer db2.Close()
	got, err := db2.Get("notes", "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("get after reopen: %q %v", got, err)
	}
}
