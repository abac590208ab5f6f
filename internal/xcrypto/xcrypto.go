// Package xcrypto implements the KDF and AEAD primitives of spec.md §4.1:
// PBKDF2-HMAC-SHA256 over a password and a per-device key-file, feeding a
// single-use ChaCha20-Poly1305 key for every block. Because the salt is
// fresh for every encryption, the zero nonce never repeats for a given key,
// so nonce reuse is structurally impossible rather than merely unlikely.
package xcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the size in bytes of a per-block KDF salt.
	SaltSize = 32
	// KeySize is the size in bytes of a derived AEAD key and of the
	// per-device key-file it is XORed against.
	KeySize = 32
	// MinIters is the compile-time floor for PBKDF2 iteration counts.
	// Blocks claiming fewer iterations are rejected outright.
	MinIters = 100_000
	// RecommendedIters is the iteration count new blocks should use.
	RecommendedIters = 1_000_000
)

// KeyFile is a 256-bit per-device secret that never crosses the log in
// plaintext. Transport between devices is an external collaborator's
// concern (spec.md §9 Open Question 3).
type KeyFile [KeySize]byte

// Zero overwrites the key-file material in place. Callers should defer
// Zero on any KeyFile they load from disk.
func (k *KeyFile) Zero() {
	for i := range k {
		k[i] = 0
	}
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over password and salt for iters
// rounds, then XORs the result against keyFile, per spec.md §4.1. iters
// below MinIters must already have been rejected by the caller (the
// block codec does this); DeriveKey itself does not re-check so that
// property tests can probe the floor independently.
func DeriveKey(password string, salt []byte, iters uint32, keyFile KeyFile) []byte {
	pbkdf2Key := pbkdf2.Key([]byte(password), salt, int(iters), KeySize, sha256.New)
	key := make([]byte, KeySize)
	subtle.XORBytes(key, pbkdf2Key, keyFile[:])
	for i := range pbkdf2Key {
		pbkdf2Key[i] = 0
	}
	return key
}

// NewAEAD constructs the ChaCha20-Poly1305 AEAD for a derived key.
func NewAEAD(key []byte) (cipherAEAD, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return cipherAEAD{}, err
	}
	return cipherAEAD{aead: aead}, nil
}

// cipherAEAD wraps a chacha20poly1305 AEAD and always seals/opens with the
// fixed zero nonce the spec mandates, since key uniqueness is guaranteed by
// the fresh per-block salt rather than by nonce variation.
type cipherAEAD struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
}

var zeroNonce = make([]byte, chacha20poly1305.NonceSize)

// Seal encrypts plaintext under ad (associated data), returning
// ciphertext‖tag.
func (c cipherAEAD) Seal(plaintext, ad []byte) []byte {
	return c.aead.Seal(nil, zeroNonce, plaintext, ad)
}

// Open authenticates and decrypts ciphertext, verifying ad matches.
func (c cipherAEAD) Open(ciphertext, ad []byte) ([]byte, error) {
	return c.aead.Open(nil, zeroNonce, ciphertext, ad)
}

// Overhead returns the AEAD tag size in bytes.
func (c cipherAEAD) Overhead() int { return c.aead.Overhead() }

// AEAD is the exported alias used by callers outside this package.
type AEAD = cipherAEAD

// GenerateSalt draws SaltSize bytes from an OS-grade CSPRNG.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// GenerateKeyFile draws a fresh KeySize-byte key-file from the same
// CSPRNG as GenerateSalt. Moving the result to other devices is an
// external collaborator's concern (spec.md §9 Open Question 3); this
// only covers drawing one locally.
func GenerateKeyFile() (KeyFile, error) {
	var kf KeyFile
	if _, err := io.ReadFull(rand.Reader, kf[:]); err != nil {
		return KeyFile{}, err
	}
	return kf, nil
}

// ObfuscationHash computes SHA-256(salt‖normalizedPath) for the tree
// variant's path-obfuscation scheme (spec.md §4.3).
func ObfuscationHash(salt, normalizedPath []byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write(salt)
	h.Write(normalizedPath)
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
