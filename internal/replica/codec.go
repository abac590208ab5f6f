package replica

import (
	"github.com/wesleyyan-sb/kvsync/internal/block"
	"github.com/wesleyyan-sb/kvsync/internal/xcrypto"
)

// Codec encrypts/decrypts the plaintext Op (or Op batch) bytes that are
// appended to a Log as one Block (spec.md §4.2). It is the seam between
// the replicator and the crypto/block layers so this package never holds
// passphrase or key-file material directly.
type Codec interface {
	Encode(plaintext []byte) ([]byte, error)
	Decode(block []byte) ([]byte, error)
}

// BlockCodec adapts internal/block's Encode/Decode to the Codec
// interface, fixing the password, key-file, and iteration count for the
// lifetime of one replicator.
type BlockCodec struct {
	KeyFile  xcrypto.KeyFile
	Password string
	Iters    uint32
}

func (c BlockCodec) Encode(plaintext []byte) ([]byte, error) {
	return block.Encode(plaintext, c.KeyFile, c.Password, c.Iters)
}

func (c BlockCodec) Decode(data []byte) ([]byte, error) {
	return block.Decode(data, c.KeyFile, c.Password)
}
