package kvsync

import (
	"github.com/wesleyyan-sb/kvsync/internal/logging"
	"github.com/wesleyyan-sb/kvsync/internal/vlog"
	"github.com/wesleyyan-sb/kvsync/internal/xcrypto"
)

// Variant picks which of spec.md §4.7's on-disk representations backs a
// DB: the plain log variant, or the obfuscated tree index.
type Variant int

const (
	// VariantLog keeps no on-disk representation beyond the log itself
	// and the local cache store.
	VariantLog Variant = iota
	// VariantTree additionally maintains an obfuscated tree index
	// (internal/tree) alongside the log.
	VariantTree
)

// config holds the resolved settings an Option mutates. It is unexported;
// callers only ever see Option values, the same shape as the teacher's
// flag-based cmd/nokhal/main.go configuration surface turned into an
// in-process API (flag parsing itself stays a CLI concern, per spec.md §1).
type config struct {
	iters       uint32
	keyFilePath string
	remotes     []vlog.Named
	logger      logging.Logger
	variant     Variant
}

func defaultConfig() *config {
	return &config{
		iters:   xcrypto.RecommendedIters,
		logger:  logging.Nop{},
		variant: VariantLog,
	}
}

// Option configures Open/Init.
type Option func(*config)

// WithIters overrides the PBKDF2 iteration count used for every block
// this DB writes. Existing blocks keep whatever count they were written
// with; Decode reads the count back out of each block's own header.
func WithIters(iters uint32) Option {
	return func(c *config) { c.iters = iters }
}

// WithKeyFilePath points Open at a 32-byte key-file on disk, creating one
// if it does not already exist. Without this option the DB runs with an
// all-zero key-file (password-only protection).
func WithKeyFilePath(path string) Option {
	return func(c *config) { c.keyFilePath = path }
}

// WithRemotes registers the named logs Sync should replicate against, in
// addition to any added later via DB.AddRemote.
func WithRemotes(remotes ...vlog.Named) Option {
	return func(c *config) { c.remotes = append(c.remotes, remotes...) }
}

// WithLogger injects a leveled logger for the replicator to report sync
// activity through. The log backends take no logger.
func WithLogger(l logging.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithVariant selects the on-disk representation (spec.md §4.7).
func WithVariant(v Variant) Option {
	return func(c *config) { c.variant = v }
}
