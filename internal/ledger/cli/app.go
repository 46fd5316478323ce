package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/ledger/internal/cache/client"
	"github.com/dmitrijs2005/ledger/internal/cache/protocol"
	"github.com/dmitrijs2005/ledger/internal/ledger/config"
	"github.com/dmitrijs2005/ledger/internal/ledger/engine"
	"github.com/dmitrijs2005/ledger/internal/ledger/resolver"
	"github.com/dmitrijs2005/ledger/internal/ledger/services"
	"github.com/dmitrijs2005/ledger/internal/ledger/unlock"
	"github.com/dmitrijs2005/ledger/internal/logging"
	"github.com/spf13/cobra"
)

// RootOptions holds the persistent flags.
type RootOptions struct {
	ConfigPath string
	StorePath  string
	CacheTTL   int
	NoCache    bool
	LogLevel   string
	JSON       bool
}

// App is the state shared by commands of one invocation, built in the
// root PersistentPreRunE.
type App struct {
	opts   *RootOptions
	cfg    *config.Config
	log    logging.Logger
	out    io.Writer
	errOut io.Writer
	term   *terminal
}

func (a *App) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.opts.ConfigPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.StorePath = a.opts.StorePath
	}
	if flags.Changed("cache-ttl") {
		if a.opts.CacheTTL < 0 {
			return usageError{errors.New("--cache-ttl must not be negative")}
		}
		cfg.CacheTTL = secondsToDuration(a.opts.CacheTTL)
	}
	if a.opts.NoCache {
		cfg.CacheTTL = 0
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := logging.New(a.errOut, cfg.LogLevel, false)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	a.out = cmd.OutOrStdout()
	a.term = newTerminal(cmd.InOrStdin(), a.errOut)
	return nil
}

func (a *App) socketPath() string {
	if a.cfg.SocketPath != "" {
		return a.cfg.SocketPath
	}
	return protocol.DefaultSocketPath()
}

func (a *App) engineOptions() []engine.Option {
	return []engine.Option{
		engine.WithKDFParams(a.cfg.KDF),
		engine.WithMinPassphraseLength(a.cfg.MinPassphraseLength),
		engine.WithBackup(a.cfg.BackupOnClose),
		engine.WithLogger(a.log),
	}
}

func (a *App) unlocker() *unlock.Unlocker {
	u := &unlock.Unlocker{
		Prompter:    a.term,
		Env:         a.cfg.Passphrase,
		MaxAttempts: a.cfg.MaxAuthAttempts,
		TTL:         a.cfg.CacheTTL,
		Log:         a.log,
	}
	if a.cfg.CacheEnabled() {
		u.Cache = client.NewSession(client.New(a.socketPath()), a.log)
	}
	return u
}

// session opens the store, runs fn and then closes it. Read-only sessions
// and failed ones are discarded without writing.
func (a *App) session(ctx context.Context, write bool, fn func(ctx context.Context, e *engine.Engine, svc *services.Services) error) error {
	e := engine.New(a.engineOptions()...)
	path := a.cfg.StorePath
	err := a.unlocker().Unlock(ctx, path, func(pass []byte) error {
		return e.Open(ctx, path, pass)
	})
	if err != nil {
		return err
	}

	svc, err := e.Services()
	if err != nil {
		_ = e.Discard()
		return err
	}
	if err := fn(ctx, e, svc); err != nil {
		if dErr := e.Discard(); dErr != nil {
			a.log.Warn(ctx, "discard failed", "error", dErr)
		}
		return err
	}
	if !write {
		return e.Discard()
	}
	if err := e.Close(ctx); err != nil {
		return fmt.Errorf("save store: %w", err)
	}
	return nil
}

// prompter is nil when fields cannot be asked for interactively.
func (a *App) prompter() resolver.Prompter {
	if a.term.Interactive() {
		return a.term
	}
	return nil
}
