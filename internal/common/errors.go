// Package common defines the sentinel errors and small helpers shared by the
// ledger store, the session cache and the CLI. Callers should use errors.Is to
// match these values; concrete failures wrap them with context.
package common

import "errors"

var (
	// Authentication: wrong passphrase or a corrupt/tampered container. The two
	// are never told apart.
	ErrAuthFailed = errors.New("authentication failed: wrong passphrase or corrupt file")

	// Write-time validation of fields, tags, sizes and passphrases.
	ErrValidation = errors.New("validation failed")

	// Referential or index inconsistency reported by check.
	ErrIntegrity = errors.New("integrity check failed")

	// Repository-level errors.
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAlreadySuperseded = errors.New("entry already superseded")

	// Store file lifecycle.
	ErrStoreExists       = errors.New("store already exists")
	ErrStoreNotFound     = errors.New("store not found")
	ErrUnsupportedFormat = errors.New("unsupported store format")
	ErrInvalidState      = errors.New("invalid engine state")

	// Session cache daemon is unreachable or answered garbage.
	ErrCacheUnavailable = errors.New("session cache unavailable")
)
