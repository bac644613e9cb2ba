// Package envelope encrypts round state between calls. The codec is
// deterministic: the nonce is derived from the key and the plaintext, so the
// same input always produces the same ciphertext.
package envelope

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"custody-node/internal/mpcerr"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the length of a data key in bytes.
const KeySize = chacha20poly1305.KeySize

// Encrypt seals plaintext under a 32-byte data key. The output is the
// synthetic nonce followed by the XChaCha20-Poly1305 ciphertext.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := syntheticNonce(key, plaintext)
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure, including a
// wrong key, is reported as ErrEnvelopeCorrupt.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", mpcerr.ErrEnvelopeCorrupt)
	}
	nonce, sealed := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mpcerr.ErrEnvelopeCorrupt, err)
	}
	if !hmac.Equal(nonce, syntheticNonce(key, plaintext)) {
		return nil, fmt.Errorf("%w: nonce does not match plaintext", mpcerr.ErrEnvelopeCorrupt)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, mpcerr.Validationf("data key must be %d bytes, got %d", KeySize, len(key))
	}
	return chacha20poly1305.NewX(key)
}

func syntheticNonce(key, plaintext []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(plaintext)
	return mac.Sum(nil)[:chacha20poly1305.NonceSizeX]
}

// Zero overwrites b.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
