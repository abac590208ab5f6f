package vlog

import (
	"context"
	"strconv"
	"sync"
)

// intCursor is the Cursor implementation shared by MemLog and FileLog:
// both backends store entries in one append-only, densely-indexed
// sequence, so a plain index is a sufficient cursor.
type intCursor int

func (c intCursor) String() string { return strconv.Itoa(int(c)) }

// SharedRemote is an in-memory stand-in for a VCS remote: a single
// totally-ordered, append-only entry list that any number of MemLogs can
// Pull from and Push to. It exists so tests can exercise spec.md §8
// property 8 (convergence) and scenario S6 (remote ordering) without a
// real log transport.
type SharedRemote struct {
	mu      sync.Mutex
	entries [][]byte
}

// NewSharedRemote returns an empty shared remote.
func NewSharedRemote() *SharedRemote { return &SharedRemote{} }

func (s *SharedRemote) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.entries...)
}

// Snapshot returns a copy of every entry currently published to the
// remote, for tests asserting on what has (or has not) been pushed.
func (s *SharedRemote) Snapshot() [][]byte { return s.snapshot() }

// MemLog is a Log backed entirely by process memory: a local, densely
// indexed entry list whose prefix mirrors the last-pulled state of an
// optional SharedRemote, with any locally-appended-but-unpushed entries
// trailing it.
type MemLog struct {
	mu        sync.Mutex
	entries   [][]byte
	prefixLen int // entries[:prefixLen] came from the last successful Pull
	upstream  *SharedRemote
}

// NewMemLog returns a Log with no upstream: Pull and Push are no-ops,
// useful as a single-process local log or in unit tests that only
// exercise Head/Next/Append.
func NewMemLog() *MemLog { return &MemLog{} }

// NewMemLogOn returns a Log that pulls from and pushes to upstream,
// letting multiple MemLogs simulate independent devices sharing one
// remote.
func NewMemLogOn(upstream *SharedRemote) *MemLog { return &MemLog{upstream: upstream} }

func (m *MemLog) Head(_ context.Context) (Cursor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		return nil, false, nil
	}
	return intCursor(len(m.entries) - 1), true, nil
}

func (m *MemLog) Next(_ context.Context, cursor Cursor) ([]byte, Cursor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := intCursor(-1)
	if cursor != nil {
		var ok bool
		idx, ok = cursor.(intCursor)
		if !ok {
			return nil, nil, false, errBadCursor
		}
	}
	next := int(idx) + 1
	if next >= len(m.entries) {
		return nil, nil, false, nil
	}
	return m.entries[next], intCursor(next), true, nil
}

func (m *MemLog) Append(_ context.Context, entry []byte) (Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, append([]byte(nil), entry...))
	return intCursor(len(m.entries) - 1), nil
}

func (m *MemLog) Pull(_ context.Context) (int, error) {
	if m.upstream == nil {
		return 0, nil
	}
	remote := m.upstream.snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(remote) <= m.prefixLen {
		return 0, nil
	}
	added := len(remote) - m.prefixLen
	pending := append([][]byte(nil), m.entries[m.prefixLen:]...)
	m.entries = append(append([][]byte(nil), remote...), pending...)
	m.prefixLen = len(remote)
	return added, nil
}

func (m *MemLog) Push(_ context.Context) error {
	if m.upstream == nil {
		return nil
	}
	m.mu.Lock()
	own := append([][]byte(nil), m.entries[m.prefixLen:]...)
	prefixLen := m.prefixLen
	m.mu.Unlock()

	if len(own) == 0 {
		return nil
	}

	m.upstream.mu.Lock()
	defer m.upstream.mu.Unlock()
	if len(m.upstream.entries) != prefixLen {
		return ErrConflict
	}
	m.upstream.entries = append(m.upstream.entries, own...)

	m.mu.Lock()
	m.prefixLen = len(m.upstream.entries)
	m.mu.Unlock()
	return nil
}
