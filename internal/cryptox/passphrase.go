package cryptox

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/dmitrijs2005/ledger/internal/common"
)

// DefaultMinPassphraseLength is the policy minimum, in characters, used when
// configuration does not override it.
const DefaultMinPassphraseLength = 8

// ValidatePassphrase rejects empty and whitespace-only passphrases and those
// shorter than minLen characters.
func ValidatePassphrase(passphrase []byte, minLen int) error {
	if len(passphrase) == 0 {
		return fmt.Errorf("%w: passphrase cannot be empty", common.ErrValidation)
	}
	if len(bytes.TrimSpace(passphrase)) == 0 {
		return fmt.Errorf("%w: passphrase cannot be only whitespace", common.ErrValidation)
	}
	if !utf8.Valid(passphrase) {
		return fmt.Errorf("%w: passphrase must be valid UTF-8", common.ErrValidation)
	}
	if n := utf8.RuneCount(passphrase); n < minLen {
		return fmt.Errorf("%w: passphrase must be at least %d characters, got %d", common.ErrValidation, minLen, n)
	}
	return nil
}
