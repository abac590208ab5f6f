// Package vlog defines the append-only log contract of spec.md §4.5: an
// opaque sequence of encrypted Blocks with cursor-based iteration, plus
// two concrete backends (an in-memory log for tests and a local
// single-file log usable as a single-device stand-in before a real
// VCS transport is wired in). The core never inspects log internals
// beyond this contract; a commit-based VCS backend satisfies the same
// interface without this package knowing about it.
package vlog

import (
	"context"
	"errors"
)

// ErrConflict is returned by Push when the remote has advanced past the
// cursor this log last observed; the caller (the replicator) pulls,
// rebases, and retries.
var ErrConflict = errors.New("vlog: remote diverged, push rejected")

// errBadCursor is returned when Next is called with a cursor this
// backend did not produce.
var errBadCursor = errors.New("vlog: cursor not recognized by this log")

// Cursor identifies a position in a Log. Cursors are backend-defined and
// opaque to callers; the only operations performed on them are equality
// comparison and round-tripping through Head/Next/Append.
type Cursor interface {
	// String renders the cursor for logging; it is never parsed back.
	// Remote ordering uses remote names, not cursors.
	String() string
}

// Log is the append-only sequence contract of spec.md §4.5.
type Log interface {
	// Head returns the most recently committed entry's cursor, or
	// ok=false if the log is empty.
	Head(ctx context.Context) (cursor Cursor, ok bool, err error)

	// Next returns the entry immediately after cursor and its own
	// cursor, or ok=false if cursor was the last entry. A nil cursor
	// means "before the first entry", so Next(ctx, nil) returns the
	// oldest entry in the log; this lets a caller with no persisted
	// cursor iterate every entry from the beginning.
	Next(ctx context.Context, cursor Cursor) (entry []byte, next Cursor, ok bool, err error)

	// Append adds a new entry at the local head, returning its cursor.
	// Append is linearizable with respect to this process; it does not
	// itself contact any remote.
	Append(ctx context.Context, entry []byte) (Cursor, error)

	// Pull fast-forwards the local log from any upstream, returning the
	// number of newly visible entries. A Log with no upstream (e.g. the
	// in-memory or local-only backends) always returns 0, nil.
	Pull(ctx context.Context) (newEntries int, err error)

	// Push publishes every local entry not yet visible upstream. It
	// returns ErrConflict if the upstream advanced since the last Pull,
	// in which case nothing was published.
	Push(ctx context.Context) error
}

// Named pairs a Log with the name used for the deterministic
// remote-ordering discipline of spec.md §4.6 ("Remotes are iterated in a
// deterministic order (lexicographic on remote name) identical across
// devices").
type Named struct {
	Name string
	Log  Log
}
