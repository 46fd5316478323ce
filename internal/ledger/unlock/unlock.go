// Package unlock obtains the passphrase of a store. Sources are tried in
// order: the session cache, the LEDGER_PASSPHRASE value and an interactive
// prompt with a bounded number of attempts.
package unlock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/cryptox"
	"github.com/dmitrijs2005/ledger/internal/logging"
)

// Cache is the best-effort session cache. Implementations absorb their own
// failures.
type Cache interface {
	Get(ctx context.Context, storePath string) ([]byte, bool)
	Store(ctx context.Context, storePath string, passphrase []byte, ttl time.Duration)
	Forget(ctx context.Context, storePath string)
}

// Prompter reads secrets from the user.
type Prompter interface {
	Interactive() bool
	ReadPassphrase(prompt string) ([]byte, error)
}

// TryFunc attempts to open the store with passphrase. It returns an error
// wrapping common.ErrAuthFailed when the passphrase is wrong.
type TryFunc func(passphrase []byte) error

type Unlocker struct {
	Cache       Cache
	Prompter    Prompter
	Env         string
	MaxAttempts int
	TTL         time.Duration
	Log         logging.Logger
}

func (u *Unlocker) log() logging.Logger {
	if u.Log == nil {
		return logging.Nop()
	}
	return u.Log
}

func (u *Unlocker) cacheOn() bool {
	return u.Cache != nil && u.TTL > 0
}

func (u *Unlocker) remember(ctx context.Context, path string, pass []byte) {
	if u.cacheOn() {
		u.Cache.Store(ctx, path, pass, u.TTL)
	}
}

// Unlock finds a passphrase that try accepts. Errors other than an
// authentication failure stop the search immediately.
func (u *Unlocker) Unlock(ctx context.Context, path string, try TryFunc) error {
	if u.cacheOn() {
		if pass, ok := u.Cache.Get(ctx, path); ok {
			err := try(pass)
			common.WipeByteArray(pass)
			switch {
			case err == nil:
				u.log().Debug(ctx, "unlocked from session cache", "path", path)
				return nil
			case errors.Is(err, common.ErrAuthFailed):
				u.log().Warn(ctx, "cached passphrase rejected, forgetting it", "path", path)
				u.Cache.Forget(ctx, path)
			default:
				return err
			}
		}
	}

	if u.Env != "" {
		pass := []byte(u.Env)
		defer common.WipeByteArray(pass)
		if err := try(pass); err != nil {
			return err
		}
		u.remember(ctx, path, pass)
		return nil
	}

	if u.Prompter == nil || !u.Prompter.Interactive() {
		return fmt.Errorf("%w: no passphrase available (set LEDGER_PASSPHRASE or run in a terminal)", common.ErrAuthFailed)
	}

	attempts := max(u.MaxAttempts, 1)
	for i := 1; i <= attempts; i++ {
		pass, err := u.Prompter.ReadPassphrase(fmt.Sprintf("Passphrase (attempt %d/%d): ", i, attempts))
		if err != nil {
			return fmt.Errorf("read passphrase: %w", err)
		}
		err = try(pass)
		if err == nil {
			u.remember(ctx, path, pass)
			common.WipeByteArray(pass)
			return nil
		}
		common.WipeByteArray(pass)
		if !errors.Is(err, common.ErrAuthFailed) {
			return err
		}
		u.log().Info(ctx, "wrong passphrase", "attempt", i, "of", attempts)
	}
	return fmt.Errorf("%w: %d attempts", common.ErrAuthFailed, attempts)
}

// NewPassphrase obtains the passphrase for a new store: LEDGER_PASSPHRASE
// when set, otherwise a prompt with confirmation. The policy is checked
// either way.
func (u *Unlocker) NewPassphrase(minLen int) ([]byte, error) {
	if u.Env != "" {
		pass := []byte(u.Env)
		if err := cryptox.ValidatePassphrase(pass, minLen); err != nil {
			return nil, err
		}
		return pass, nil
	}
	if u.Prompter == nil || !u.Prompter.Interactive() {
		return nil, fmt.Errorf("%w: no passphrase available (set LEDGER_PASSPHRASE or run in a terminal)", common.ErrValidation)
	}

	pass, err := u.Prompter.ReadPassphrase("New passphrase: ")
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	if err := cryptox.ValidatePassphrase(pass, minLen); err != nil {
		common.WipeByteArray(pass)
		return nil, err
	}
	confirm, err := u.Prompter.ReadPassphrase("Repeat passphrase: ")
	if err != nil {
		common.WipeByteArray(pass)
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	defer common.WipeByteArray(confirm)
	if !bytes.Equal(pass, confirm) {
		common.WipeByteArray(pass)
		return nil, fmt.Errorf("%w: passphrases do not match", common.ErrValidation)
	}
	return pass, nil
}
