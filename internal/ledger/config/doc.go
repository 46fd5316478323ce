// Package config loads runtime configuration for the ledger CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with --config / -c (see (*Config).LoadJSON).
//  3. Environment variables (see (*Config).LoadEnv).
//  4. Command-line flags, applied by the CLI.
//
// Later sources override earlier ones; Validate runs last.
//
// # JSON schema
//
// Durations are strings like "15m" or a number of seconds:
//
//	{
//	  "store_path": "/home/me/.local/share/ledger/store.ledger",
//	  "cache_ttl": "15m",
//	  "min_passphrase_length": 8,
//	  "max_auth_attempts": 3,
//	  "backup_on_close": true,
//	  "log_level": "warn",
//	  "socket_path": "",
//	  "kdf": {"time": 1, "memory_kib": 65536, "threads": 4}
//	}
//
// # Environment
//
//	LEDGER_PATH        store path override
//	LEDGER_PASSPHRASE  passphrase for non-interactive use
//	LEDGER_CACHE_TTL   session cache TTL in seconds, 0 disables caching
package config
