package engine

import (
	"time"

	"github.com/dmitrijs2005/ledger/internal/cryptox"
	"github.com/dmitrijs2005/ledger/internal/filex"
	"github.com/dmitrijs2005/ledger/internal/logging"
)

type options struct {
	kdf        cryptox.KDFParams
	minPassLen int
	backup     bool
	log        logging.Logger
	now        func() time.Time
	writer     filex.AtomicWriter
}

func defaultOptions() options {
	return options{
		kdf:        cryptox.DefaultKDFParams(),
		minPassLen: cryptox.DefaultMinPassphraseLength,
		backup:     true,
		log:        logging.Nop(),
		now:        time.Now,
	}
}

// Option configures an Engine.
type Option func(*options)

// WithKDFParams sets the cost parameters of newly created stores. Existing
// stores keep the parameters recorded in their header.
func WithKDFParams(p cryptox.KDFParams) Option {
	return func(o *options) { o.kdf = p }
}

func WithMinPassphraseLength(n int) Option {
	return func(o *options) { o.minPassLen = n }
}

// WithBackup keeps the previous file as "<path>.bak" on every close.
func WithBackup(enabled bool) Option {
	return func(o *options) { o.backup = enabled }
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithAtomicWriter replaces the writer used on close.
func WithAtomicWriter(w filex.AtomicWriter) Option {
	return func(o *options) { o.writer = w }
}
