// Package cli is the ledger command tree. Every command opens the store,
// does one thing through the services and closes it again; the session
// cache spares the passphrase prompt between invocations.
//
// Exit codes: 0 ok, 1 generic failure, 2 usage, 3 not found, 4 invalid
// input, 5 authentication failure, 6 integrity failure.
package cli
