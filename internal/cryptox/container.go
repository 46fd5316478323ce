package cryptox

import (
	"bytes"
	"fmt"

	"github.com/dmitrijs2005/ledger/internal/common"
	"google.golang.org/protobuf/encoding/protowire"
)

// ContainerVersion is the on-disk envelope version written by this build.
const ContainerVersion = 1

var magic = []byte("LDGR")

const maxHeaderLen = 1024

// header field numbers
const (
	fieldVersion protowire.Number = 1
	fieldKDF     protowire.Number = 2
	fieldTime    protowire.Number = 3
	fieldMemory  protowire.Number = 4
	fieldThreads protowire.Number = 5
	fieldSalt    protowire.Number = 6
	fieldNonce   protowire.Number = 7
)

// Header is the plaintext part of a container.
type Header struct {
	Version uint32
	KDF     KDFAlgorithm
	Params  KDFParams
	Salt    []byte
	Nonce   []byte
}

// Marshal encodes the full container prefix (magic, length, header). The
// result doubles as the AEAD associated data.
func (h Header) Marshal() []byte {
	var rec []byte
	rec = protowire.AppendTag(rec, fieldVersion, protowire.VarintType)
	rec = protowire.AppendVarint(rec, uint64(h.Version))
	rec = protowire.AppendTag(rec, fieldKDF, protowire.VarintType)
	rec = protowire.AppendVarint(rec, uint64(h.KDF))
	rec = protowire.AppendTag(rec, fieldTime, protowire.VarintType)
	rec = protowire.AppendVarint(rec, uint64(h.Params.Time))
	rec = protowire.AppendTag(rec, fieldMemory, protowire.VarintType)
	rec = protowire.AppendVarint(rec, uint64(h.Params.MemoryKiB))
	rec = protowire.AppendTag(rec, fieldThreads, protowire.VarintType)
	rec = protowire.AppendVarint(rec, uint64(h.Params.Threads))
	rec = protowire.AppendTag(rec, fieldSalt, protowire.BytesType)
	rec = protowire.AppendBytes(rec, h.Salt)
	rec = protowire.AppendTag(rec, fieldNonce, protowire.BytesType)
	rec = protowire.AppendBytes(rec, h.Nonce)

	out := append([]byte{}, magic...)
	out = protowire.AppendVarint(out, uint64(len(rec)))
	return append(out, rec...)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", common.ErrAuthFailed, fmt.Sprintf(format, args...))
}

// ParseContainer splits data into header, associated data and ciphertext.
// Structural damage is reported as common.ErrAuthFailed, an unknown version
// or KDF as common.ErrUnsupportedFormat.
func ParseContainer(data []byte) (h Header, aad, ciphertext []byte, err error) {
	if !bytes.HasPrefix(data, magic) {
		return h, nil, nil, corrupt("not a ledger container")
	}
	rest := data[len(magic):]
	hlen, n := protowire.ConsumeVarint(rest)
	if n < 0 || hlen > maxHeaderLen || uint64(len(rest)-n) < hlen {
		return h, nil, nil, corrupt("truncated header")
	}
	rec := rest[n : n+int(hlen)]
	prefixLen := len(magic) + n + int(hlen)

	for len(rec) > 0 {
		num, typ, n := protowire.ConsumeTag(rec)
		if n < 0 {
			return h, nil, nil, corrupt("header: %v", protowire.ParseError(n))
		}
		rec = rec[n:]

		switch {
		case typ == protowire.VarintType && num <= fieldThreads:
			v, n := protowire.ConsumeVarint(rec)
			if n < 0 {
				return h, nil, nil, corrupt("header: %v", protowire.ParseError(n))
			}
			rec = rec[n:]
			if v > 1<<32-1 {
				return h, nil, nil, corrupt("header field %d overflows", num)
			}
			switch num {
			case fieldVersion:
				h.Version = uint32(v)
			case fieldKDF:
				h.KDF = KDFAlgorithm(v)
			case fieldTime:
				h.Params.Time = uint32(v)
			case fieldMemory:
				h.Params.MemoryKiB = uint32(v)
			case fieldThreads:
				if v > 255 {
					return h, nil, nil, corrupt("kdf threads overflow")
				}
				h.Params.Threads = uint8(v)
			}
		case typ == protowire.BytesType && (num == fieldSalt || num == fieldNonce):
			v, n := protowire.ConsumeBytes(rec)
			if n < 0 {
				return h, nil, nil, corrupt("header: %v", protowire.ParseError(n))
			}
			rec = rec[n:]
			if num == fieldSalt {
				h.Salt = append([]byte(nil), v...)
			} else {
				h.Nonce = append([]byte(nil), v...)
			}
		default:
			// unknown fields from newer writers are skipped
			n := protowire.ConsumeFieldValue(num, typ, rec)
			if n < 0 {
				return h, nil, nil, corrupt("header: %v", protowire.ParseError(n))
			}
			rec = rec[n:]
		}
	}

	if h.Version == 0 || h.Version > ContainerVersion {
		return h, nil, nil, fmt.Errorf("%w: container version %d", common.ErrUnsupportedFormat, h.Version)
	}
	if h.KDF != KDFArgon2id {
		return h, nil, nil, fmt.Errorf("%w: kdf %d", common.ErrUnsupportedFormat, h.KDF)
	}
	if err := h.Params.Validate(); err != nil {
		return h, nil, nil, corrupt("%v", err)
	}
	if len(h.Salt) < 8 || len(h.Nonce) != NonceSize {
		return h, nil, nil, corrupt("bad salt or nonce")
	}

	return h, data[:prefixLen], data[prefixLen:], nil
}

// SealContainer derives a key from passphrase and salt, encrypts plaintext
// under a fresh nonce and returns the complete container bytes.
func SealContainer(passphrase, salt []byte, params KDFParams, plaintext []byte) ([]byte, error) {
	nonce, err := common.GenerateRandByteArray(NonceSize)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	h := Header{
		Version: ContainerVersion,
		KDF:     KDFArgon2id,
		Params:  params,
		Salt:    salt,
		Nonce:   nonce,
	}
	aad := h.Marshal()

	var out []byte
	err = WithKey(passphrase, salt, params, func(k *Key) error {
		ct, err := Seal(k, nonce, plaintext, aad)
		if err != nil {
			return err
		}
		out = append(aad, ct...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OpenContainer parses data, derives the key from the header parameters and
// decrypts the body.
func OpenContainer(passphrase, data []byte) ([]byte, Header, error) {
	h, aad, ct, err := ParseContainer(data)
	if err != nil {
		return nil, h, err
	}

	var plaintext []byte
	err = WithKey(passphrase, h.Salt, h.Params, func(k *Key) error {
		plaintext, err = Open(k, h.Nonce, ct, aad)
		return err
	})
	if err != nil {
		return nil, h, err
	}
	return plaintext, h, nil
}
