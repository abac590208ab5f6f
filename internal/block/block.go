// Package block implements the on-disk/on-log Block framing of spec.md
// §4.2 and §6: iters(4 BE)‖salt(32)‖ciphertext, with associated data
// salt‖iters_be binding the framing to the ciphertext.
package block

import (
	"encoding/binary"

	"github.com/wesleyyan-sb/kvsync/internal/xcrypto"
	"github.com/wesleyyan-sb/kvsync/kverr"
)

const (
	itersFieldSize = 4
	headerSize     = itersFieldSize + xcrypto.SaltSize
)

// Encode draws a fresh salt, derives a single-use key from password and
// keyFile, and seals pt into a framed Block using iters PBKDF2 rounds.
func Encode(pt []byte, keyFile xcrypto.KeyFile, password string, iters uint32) ([]byte, error) {
	if iters < xcrypto.MinIters {
		return nil, kverr.BadIters
	}
	salt, err := xcrypto.GenerateSalt()
	if err != nil {
		return nil, kverr.Wrap(err)
	}

	ad := associatedData(salt, iters)
	key := xcrypto.DeriveKey(password, salt, iters, keyFile)
	aead, err := xcrypto.NewAEAD(key)
	if err != nil {
		return nil, kverr.KdfUnavailable
	}
	ct := aead.Seal(pt, ad)

	out := make([]byte, headerSize+len(ct))
	binary.BigEndian.PutUint32(out[0:itersFieldSize], iters)
	copy(out[itersFieldSize:headerSize], salt)
	copy(out[headerSize:], ct)
	return out, nil
}

// Decode splits a framed Block, derives the key, and authenticates +
// decrypts it, returning the original plaintext. Any mismatch between the
// framing bytes and the AD baked into the ciphertext is rejected as
// AuthFailed, never silently tolerated.
func Decode(data []byte, keyFile xcrypto.KeyFile, password string) ([]byte, error) {
	if len(data) < headerSize {
		return nil, kverr.Malformed
	}

	iters := binary.BigEndian.Uint32(data[0:itersFieldSize])
	if iters < xcrypto.MinIters {
		return nil, kverr.BadIters
	}
	salt := data[itersFieldSize:headerSize]
	ct := data[headerSize:]

	ad := associatedData(salt, iters)
	key := xcrypto.DeriveKey(password, salt, iters, keyFile)
	aead, err := xcrypto.NewAEAD(key)
	if err != nil {
		return nil, kverr.KdfUnavailable
	}

	pt, err := aead.Open(ct, ad)
	if err != nil {
		return nil, kverr.AuthFailed
	}
	return pt, nil
}

func associatedData(salt []byte, iters uint32) []byte {
	ad := make([]byte, len(salt)+itersFieldSize)
	copy(ad, salt)
	binary.BigEndian.PutUint32(ad[len(salt):], iters)
	return ad
}
