package cryptox

import (
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/ledger/internal/common"
	"golang.org/x/crypto/argon2"
)

// KDFAlgorithm identifies the key derivation function recorded in the header.
type KDFAlgorithm uint32

const KDFArgon2id KDFAlgorithm = 1

const (
	KeySize  = 32
	SaltSize = 16

	maxKDFTime      = 64
	maxKDFMemoryKiB = 4 * 1024 * 1024
	maxKDFThreads   = 64
)

// KDFParams are the Argon2id cost parameters. They are stored in plaintext in
// the container header so a store keeps opening after defaults change.
type KDFParams struct {
	Time      uint32 `json:"time" validate:"min=1,max=64"`
	MemoryKiB uint32 `json:"memory_kib" validate:"min=8,max=4194304"`
	Threads   uint8  `json:"threads" validate:"min=1,max=64"`
}

// DefaultKDFParams returns the parameters used for new stores.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}
}

// Validate rejects parameters argon2 cannot use or that would make a forged
// header exhaust memory.
func (p KDFParams) Validate() error {
	switch {
	case p.Time < 1 || p.Time > maxKDFTime:
		return fmt.Errorf("kdf time %d out of range", p.Time)
	case p.Threads < 1 || p.Threads > maxKDFThreads:
		return fmt.Errorf("kdf threads %d out of range", p.Threads)
	case p.MemoryKiB < 8*uint32(p.Threads) || p.MemoryKiB > maxKDFMemoryKiB:
		return fmt.Errorf("kdf memory %d KiB out of range", p.MemoryKiB)
	}
	return nil
}

// Key is a derived encryption key held in locked, guarded memory.
type Key struct {
	buf *memguard.LockedBuffer
}

// DeriveKey stretches passphrase with Argon2id. The intermediate slice is
// wiped when it is moved into the locked buffer. Callers must Destroy the key.
func DeriveKey(passphrase, salt []byte, p KDFParams) (*Key, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(salt) < 8 {
		return nil, fmt.Errorf("salt too short: %d bytes", len(salt))
	}
	raw := argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, KeySize)
	return &Key{buf: memguard.NewBufferFromBytes(raw)}, nil
}

// WithKey derives a key, hands it to fn and destroys it on every exit path.
func WithKey(passphrase, salt []byte, p KDFParams, fn func(k *Key) error) error {
	k, err := DeriveKey(passphrase, salt, p)
	if err != nil {
		return err
	}
	defer k.Destroy()
	return fn(k)
}

// Destroy scrubs and unlocks the key memory. It is safe to call twice.
func (k *Key) Destroy() {
	if k == nil || k.buf == nil {
		return
	}
	k.buf.Destroy()
}

func (k *Key) bytes() ([]byte, error) {
	if k == nil || k.buf == nil || !k.buf.IsAlive() {
		return nil, fmt.Errorf("%w: key destroyed", common.ErrInvalidState)
	}
	return k.buf.Bytes(), nil
}

// NewSalt returns a fresh random salt.
func NewSalt() ([]byte, error) {
	return common.GenerateRandByteArray(SaltSize)
}
