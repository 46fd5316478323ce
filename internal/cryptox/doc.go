// Package cryptox implements the cryptographic envelope of a ledger store.
//
// # Overview
//
// A passphrase is stretched with Argon2id into a 256-bit key which seals the
// serialized payload with AES-256-GCM. Derived keys live in memguard locked
// buffers and are destroyed as soon as the seal/open call that needed them
// returns, on success and on every error path.
//
// # Container
//
// A store file is a single container:
//
//	"LDGR" | uvarint(len(header)) | header | ciphertext
//
// The header is a protobuf-wire record holding only what key derivation needs
// (container version, KDF id, cost parameters, salt) plus the GCM nonce. The
// whole prefix is bound to the ciphertext as associated data, so editing any
// header byte makes Open fail exactly like a wrong passphrase.
//
// Key Types
//
//   - type KDFParams : Argon2id cost parameters persisted in the header
//   - type Key       : locked derived key, see DeriveKey and WithKey
//   - type Header    : parsed container header
//
// Typical Usage
//
//	blob, _ := cryptox.SealContainer(pass, salt, cryptox.DefaultKDFParams(), plaintext)
//	plain, hdr, err := cryptox.OpenContainer(pass, blob)
//	if errors.Is(err, common.ErrAuthFailed) { ... }
package cryptox
