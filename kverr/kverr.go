// Package kverr defines the closed set of errors the kvsync core returns.
// Every variant is distinct and observable to callers via errors.Is; callers
// that need the offending path/key/dot can errors.As into the richer wrapper
// types declared alongside each sentinel.
package kverr

import "errors"

// Sentinel errors, one per spec.md §7 taxonomy entry.
var (
	// InvalidPath is returned when a Path fails the tree-variant grammar.
	InvalidPath = errors.New("kvsync: invalid path")
	// InvalidKey is returned when a log-variant key fails validation.
	InvalidKey = errors.New("kvsync: invalid key")
	// NotFound is returned when a requested key/path has no record.
	NotFound = errors.New("kvsync: not found")
	// BadKind is returned when a path resolves to a tree where a blob was
	// requested, or vice versa.
	BadKind = errors.New("kvsync: wrong kind")
	// AuthFailed is returned on AEAD tag mismatch: wrong passphrase, wrong
	// key-file, or a tampered block.
	AuthFailed = errors.New("kvsync: authentication failed")
	// Malformed is returned when a block is too short or an inner
	// serialization is corrupt.
	Malformed = errors.New("kvsync: malformed block")
	// BadIters is returned when a block claims an iteration count below
	// the compile-time floor.
	BadIters = errors.New("kvsync: iteration count below floor")
	// LogConflict is returned when a remote diverged during push and the
	// retry budget inside Sync was exhausted.
	LogConflict = errors.New("kvsync: log conflict")
	// IncompatibleMerge is returned when two concurrent writes cannot be
	// merged because their value kinds differ.
	IncompatibleMerge = errors.New("kvsync: incompatible merge")
	// UnresolvableConflict is returned for a VCS-level conflict whose
	// either side fails to decrypt or deserialize.
	UnresolvableConflict = errors.New("kvsync: unresolvable conflict")
	// ActorCollision is returned when sync observes another device using
	// this device's actor id.
	ActorCollision = errors.New("kvsync: actor collision")
	// Io wraps an underlying filesystem/log I/O failure.
	Io = errors.New("kvsync: i/o error")

	// KdfUnavailable is returned by the block codec when the AEAD cannot
	// be constructed from the derived key. Iteration counts below the
	// floor are reported as BadIters, never as KdfUnavailable.
	KdfUnavailable = errors.New("kvsync: kdf unavailable")
)

// PathError carries the offending path alongside a sentinel.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string { return e.Err.Error() + ": " + e.Path }
func (e *PathError) Unwrap() error { return e.Err }

// KeyError carries the offending composite key alongside a sentinel.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string { return e.Err.Error() + ": " + e.Key }
func (e *KeyError) Unwrap() error { return e.Err }

// MergeError carries the path at which two values could not be merged.
type MergeError struct {
	Path string
	Err  error
}

func (e *MergeError) Error() string { return e.Err.Error() + " at " + e.Path }
func (e *MergeError) Unwrap() error { return e.Err }

// ActorError carries the colliding actor id.
type ActorError struct {
	Actor string
	Err   error
}

func (e *ActorError) Error() string { return e.Err.Error() + ": " + e.Actor }
func (e *ActorError) Unwrap() error { return e.Err }

// Wrap attaches a causing error to Io for filesystem/log failures while
// preserving errors.Is(err, Io).
func Wrap(cause error) error {
	if cause == nil {
		return nil
	}
	return &ioError{cause: cause}
}

type ioError struct{ cause error }

func (e *ioError) Error() string { return Io.Error() + ": " + e.cause.Error() }
func (e *ioError) Unwrap() []error { return []error{Io, e.cause} }
