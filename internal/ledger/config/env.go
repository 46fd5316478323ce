package config

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/kelseyhightower/envconfig"
)

// envConfig lists the variables read from the environment. Unset variables
// leave the pointer fields nil.
type envConfig struct {
	Path       string `envconfig:"LEDGER_PATH"`
	Passphrase string `envconfig:"LEDGER_PASSPHRASE"`
	CacheTTL   *int   `envconfig:"LEDGER_CACHE_TTL"`
}

// LoadEnv overlays c with LEDGER_* variables.
func (c *Config) LoadEnv() error {
	var env envConfig
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("%w: environment: %v", common.ErrValidation, err)
	}
	if env.Path != "" {
		c.StorePath = env.Path
	}
	if env.Passphrase != "" {
		c.Passphrase = env.Passphrase
	}
	if env.CacheTTL != nil {
		if *env.CacheTTL < 0 {
			return fmt.Errorf("%w: LEDGER_CACHE_TTL must not be negative", common.ErrValidation)
		}
		c.CacheTTL = time.Duration(*env.CacheTTL) * time.Second
	}
	return nil
}
