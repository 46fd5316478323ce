package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/dmitrijs2005/ledger/internal/common"
)

const NonceSize = 12

func newGCM(k *Key) (cipher.AEAD, error) {
	raw, err := k.bytes()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with AES-256-GCM under nonce, authenticating aad.
// The nonce must be NonceSize random bytes never reused with the same key.
func Seal(k *Key, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	aead, err := newGCM(k)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open decrypts and authenticates ciphertext. Any mismatch (wrong key,
// modified ciphertext, modified aad) yields common.ErrAuthFailed and no
// plaintext.
func Open(k *Key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: bad nonce", common.ErrAuthFailed)
	}
	aead, err := newGCM(k)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, common.ErrAuthFailed
	}
	return plaintext, nil
}
