package client

import (
	"context"
	"time"

	"github.com/dmitrijs2005/ledger/internal/logging"
)

// Session is the best-effort cache used by unlock. It never returns errors:
// anything that goes wrong is logged at warn and treated as a cache miss.
type Session struct {
	client *Client
	log    logging.Logger
}

func NewSession(c *Client, log logging.Logger) *Session {
	if log == nil {
		log = logging.Nop()
	}
	return &Session{client: c, log: log.With("module", "cache_client")}
}

// Get never starts the daemon; if it is not running nothing is cached.
func (s *Session) Get(ctx context.Context, storePath string) ([]byte, bool) {
	key, err := KeyFor(storePath)
	if err != nil {
		s.log.Warn(ctx, "session cache key", "error", err)
		return nil, false
	}
	secret, ok, err := s.client.Get(ctx, key)
	if err != nil {
		s.log.Debug(ctx, "session cache unavailable", "error", err)
		return nil, false
	}
	return secret, ok
}

// Store starts the daemon when needed.
func (s *Session) Store(ctx context.Context, storePath string, passphrase []byte, ttl time.Duration) {
	key, err := KeyFor(storePath)
	if err != nil {
		s.log.Warn(ctx, "session cache key", "error", err)
		return
	}
	if err := s.client.EnsureRunning(ctx, ttl); err != nil {
		s.log.Warn(ctx, "session cache unavailable", "error", err)
		return
	}
	if err := s.client.Store(ctx, key, passphrase, ttl); err != nil {
		s.log.Warn(ctx, "session cache store failed", "error", err)
	}
}

func (s *Session) Forget(ctx context.Context, storePath string) {
	key, err := KeyFor(storePath)
	if err != nil {
		return
	}
	if err := s.client.Forget(ctx, key); err != nil {
		s.log.Debug(ctx, "session cache forget failed", "error", err)
	}
}
