package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/cryptox"
	"github.com/go-playground/validator/v10"
)

const (
	appDir        = "ledger"
	storeFileName = "store.ledger"
)

// Config holds runtime settings for the ledger CLI.
type Config struct {
	StorePath           string        `validate:"required"`
	CacheTTL            time.Duration `validate:"min=0"`
	MinPassphraseLength int           `validate:"min=1,max=1024"`
	MaxAuthAttempts     int           `validate:"min=1,max=10"`
	LogLevel            string        `validate:"oneof=debug info warn error"`

	BackupOnClose bool
	SocketPath    string
	KDF           cryptox.KDFParams

	// Passphrase comes from the environment only and is never written to
	// the JSON file.
	Passphrase string `validate:"-"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.StorePath = DefaultStorePath()
	c.CacheTTL = 15 * time.Minute
	c.MinPassphraseLength = cryptox.DefaultMinPassphraseLength
	c.MaxAuthAttempts = 3
	c.BackupOnClose = true
	c.LogLevel = "warn"
	c.SocketPath = ""
	c.KDF = cryptox.DefaultKDFParams()
}

// DefaultStorePath is $XDG_DATA_HOME/ledger/store.ledger, falling back to
// ~/.local/share and then to the working directory.
func DefaultStorePath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appDir, storeFileName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", appDir, storeFileName)
	}
	return storeFileName
}

// CacheEnabled reports whether the session cache should be used.
func (c *Config) CacheEnabled() bool {
	return c.CacheTTL > 0
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks value ranges after all layers were applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: config %s failed %q (value %v)", common.ErrValidation, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: config: %v", common.ErrValidation, err)
	}
	if err := c.KDF.Validate(); err != nil {
		return fmt.Errorf("%w: config: %v", common.ErrValidation, err)
	}
	return nil
}

// Load builds a Config from defaults, the JSON file at jsonPath (if not
// empty) and the environment. Flags are applied by the caller, followed by
// Validate.
func Load(jsonPath string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if jsonPath != "" {
		if err := cfg.LoadJSON(jsonPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}
