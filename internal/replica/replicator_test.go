package replica

import (
	"context"
	"testing"

	"github.com/wesleyyan-sb/kvsync/internal/crdt"
	"github.com/wesleyyan-sb/kvsync/internal/vlog"
	"github.com/wesleyyan-sb/kvsync/internal/xcrypto"
)

func testCodec() Codec {
	return BlockCodec{KeyFile: xcrypto.KeyFile{}, Password: "hunter2", Iters: xcrypto.MinIters}
}

func mustActor(t *testing.T) crdt.Actor {
	t.Helper()
	a, err := crdt.NewActor()
	if err != nil {
		t.Fatalf("NewActor: %v", err)
	}
	return a
}

func newPair(t *testing.T) (*Replicator, *Replicator, *vlog.SharedRemote) {
	t.Helper()
	remote := vlog.NewSharedRemote()
	a := New(mustActor(t), testCodec(), nil)
	b := New(mustActor(t), testCodec(), nil)
	a.AddRemote("origin", vlog.NewMemLogOn(remote))
	b.AddRemote("origin", vlog.NewMemLogOn(remote))
	return a, b, remote
}

func bpath(comps ...string) [][]byte {
	out := make([][]byte, len(comps))
	for i, c := range comps {
		out[i] = []byte(c)
	}
	return out
}

func TestReplicatorLocalPutGet(t *testing.T) {
	r := New(mustActor(t), testCodec(), nil)
	if err := r.Put(bpath("mona", "pass", "hn"), crdt.PrimitiveBytes([]byte("pw1"))); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := r.Get(bpath("mona", "pass", "hn"))
	if err != nil || !ok || !v.Equal(crdt.PrimitiveBytes([]byte("pw1"))) {
		t.Fatalf("get: v=%+v ok=%v err=%v", v, ok, err)
	}
}

func TestReplicatorSyncDistinctKeys(t *testing.T) {
	ctx := context.Background()
	a, b, _ := newPair(t)

	if err := a.Put(bpath("a"), crdt.PrimitiveBytes([]byte("1"))); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := b.Put(bpath("b"), crdt.PrimitiveBytes([]byte("2"))); err != nil {
		t.Fatalf("put b: %v", err)
	}

	if err := a.Sync(ctx); err != nil {
		t.Fatalf("sync a: %v", err)
	}
	if err := b.Sync(ctx); err != nil {
		t.Fatalf("sync b: %v", err)
	}
	if err := a.Sync(ctx); err != nil {
		t.Fatalf("sync a again: %v", err)
	}

	va, _, _ := a.Get(bpath("a"))
	vb, _, _ := a.Get(bpath("b"))
	if !va.Equal(crdt.PrimitiveBytes([]byte("1"))) || !vb.Equal(crdt.PrimitiveBytes([]byte("2"))) {
		t.Fatalf("site a missing converged keys: a=%+v b=%+v", va, vb)
	}

	va2, _, _ := b.Get(bpath("a"))
	vb2, _, _ := b.Get(bpath("b"))
	if !va2.Equal(crdt.PrimitiveBytes([]byte("1"))) || !vb2.Equal(crdt.PrimitiveBytes([]byte("2"))) {
		t.Fatalf("site b missing converged keys: a=%+v b=%+v", va2, vb2)
	}
}

func TestReplicatorSyncConcurrentRegisterTieBreak(t *testing.T) {
	ctx := context.Background()
	a, b, _ := newPair(t)

	if err := a.Put(bpath("x"), crdt.PrimitiveBytes([]byte("A1"))); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := b.Put(bpath("x"), crdt.PrimitiveBytes([]byte("B1"))); err != nil {
		t.Fatalf("put b: %v", err)
	}

	if err := a.Sync(ctx); err != nil {
		t.Fatalf("sync a: %v", err)
	}
	if err := b.Sync(ctx); err != nil {
		t.Fatalf("sync b: %v", err)
	}
	if err := a.Sync(ctx); err != nil {
		t.Fatalf("sync a again: %v", err)
	}

	va, _, _ := a.Get(bpath("x"))
	vb, _, _ := b.Get(bpath("x"))
	if !va.Equal(vb) {
		t.Fatalf("sites diverged: a=%+v b=%+v", va, vb)
	}
}

func TestReplicatorUpdateRemoveRace(t *testing.T) {
	ctx := context.Background()
	a, b, _ := newPair(t)

	if err := a.Put(bpath("u", "k"), crdt.PrimitiveBytes([]byte("v"))); err != nil {
		t.Fatalf("put: %v", err)
	}
	// A's own remove observes only its own version-1 write.
	if err := a.Remove(bpath("u", "k")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := b.Put(bpath("u", "k"), crdt.PrimitiveBytes([]byte("v2"))); err != nil {
		t.Fatalf("put b: %v", err)
	}

	if err := a.Sync(ctx); err != nil {
		t.Fatalf("sync a: %v", err)
	}
	if err := b.Sync(ctx); err != nil {
		t.Fatalf("sync b: %v", err)
	}
	if err := a.Sync(ctx); err != nil {
		t.Fatalf("sync a again: %v", err)
	}

	va, okA, _ := a.Get(bpath("u", "k"))
	vb, okB, _ := b.Get(bpath("u", "k"))
	if !okA || !okB {
		t.Fatalf("expected concurrent update to survive remove: okA=%v okB=%v", okA, okB)
	}
	if !va.Equal(crdt.PrimitiveBytes([]byte("v2"))) || !vb.Equal(crdt.PrimitiveBytes([]byte("v2"))) {
		t.Fatalf("expected both sites to converge on v2, got a=%+v b=%+v", va, vb)
	}
}

func TestReplicatorRejectsOwnActorCollision(t *testing.T) {
	ctx := context.Background()
	remote := vlog.NewSharedRemote()
	actor := mustActor(t)
	a := New(actor, testCodec(), nil)
	a.AddRemote("origin", vlog.NewMemLogOn(remote))

	// A second device wrongly reusing the same actor id writes dot
	// {actor, 1} directly to the shared remote, ahead of anything `a`
	// has produced itself.
	impostor := New(actor, testCodec(), nil)
	impostor.AddRemote("origin", vlog.NewMemLogOn(remote))
	if err := impostor.Put(bpath("k"), crdt.PrimitiveI64(1)); err != nil {
		t.Fatalf("impostor put: %v", err)
	}
	if err := impostor.Sync(ctx); err != nil {
		t.Fatalf("impostor sync: %v", err)
	}

	if err := a.Sync(ctx); err == nil {
		t.Fatalf("expected ActorCollision, got nil")
	}
}

func TestWarmDoesNotPolluteSyncAndIsOverridableByRealWrites(t *testing.T) {
	ctx := context.Background()
	r := New(mustActor(t), testCodec(), nil)

	if err := r.Warm(bpath("notes", "k"), crdt.PrimitiveBytes([]byte("cached"))); err != nil {
		t.Fatalf("warm: %v", err)
	}
	v, ok, err := r.Get(bpath("notes", "k"))
	if err != nil || !ok || !v.Equal(crdt.PrimitiveBytes([]byte("cached"))) {
		t.Fatalf("get after warm: v=%+v ok=%v err=%v", v, ok, err)
	}
	if r.HasPending() {
		t.Fatalf("warm must never create a pending write")
	}

	remote := vlog.NewSharedRemote()
	r.AddRemote("origin", vlog.NewMemLogOn(remote))
	if err := r.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(remote.Snapshot()) != 0 {
		t.Fatalf("warm value must never be appended to the log, got %d entries", len(remote.Snapshot()))
	}

	if err := r.Put(bpath("notes", "k"), crdt.PrimitiveBytes([]byte("fresh"))); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err = r.Get(bpath("notes", "k"))
	if err != nil || !ok || !v.Equal(crdt.PrimitiveBytes([]byte("fresh"))) {
		t.Fatalf("a real write must override a warmed value: v=%+v ok=%v err=%v", v, ok, err)
	}
}
