package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/cryptox"
	"github.com/dmitrijs2005/ledger/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Pointer
// fields distinguish absent keys from zero values, so a file only overrides
// what it names.
type JsonConfig struct {
	StorePath           *string            `json:"store_path"`
	CacheTTL            *timex.Duration    `json:"cache_ttl"`
	MinPassphraseLength *int               `json:"min_passphrase_length"`
	MaxAuthAttempts     *int               `json:"max_auth_attempts"`
	BackupOnClose       *bool              `json:"backup_on_close"`
	LogLevel            *string            `json:"log_level"`
	SocketPath          *string            `json:"socket_path"`
	KDF                 *cryptox.KDFParams `json:"kdf"`
}

// LoadJSON overlays c with the keys present in the file at path. Unknown
// keys are rejected.
func (c *Config) LoadJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var jc JsonConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&jc); err != nil {
		return fmt.Errorf("%w: parse config %s: %v", common.ErrValidation, path, err)
	}

	if jc.StorePath != nil {
		c.StorePath = *jc.StorePath
	}
	if jc.CacheTTL != nil {
		c.CacheTTL = time.Duration(jc.CacheTTL.Duration)
	}
	if jc.MinPassphraseLength != nil {
		c.MinPassphraseLength = *jc.MinPassphraseLength
	}
	if jc.MaxAuthAttempts != nil {
		c.MaxAuthAttempts = *jc.MaxAuthAttempts
	}
	if jc.BackupOnClose != nil {
		c.BackupOnClose = *jc.BackupOnClose
	}
	if jc.LogLevel != nil {
		c.LogLevel = *jc.LogLevel
	}
	if jc.SocketPath != nil {
		c.SocketPath = *jc.SocketPath
	}
	if jc.KDF != nil {
		c.KDF = *jc.KDF
	}
	return nil
}
