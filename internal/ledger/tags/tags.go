// Package tags normalizes entry tags at write time. Invalid tags are rejected,
// never silently rewritten beyond trimming and lowercasing.
package tags

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/ledger/internal/common"
)

const (
	MaxBytes    = 128
	MaxPerEntry = 100
)

// Normalize trims and lowercases one tag and checks its length and alphabet
// (ASCII letters, digits, '-', '_', ':').
func Normalize(tag string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(tag))
	if t == "" {
		return "", fmt.Errorf("%w: empty tag is not allowed", common.ErrValidation)
	}
	if len(t) > MaxBytes {
		return "", fmt.Errorf("%w: tag too long (max %d bytes)", common.ErrValidation, MaxBytes)
	}
	for i := 0; i < len(t); i++ {
		if !allowed(t[i]) {
			return "", fmt.Errorf("%w: tag %q contains invalid characters", common.ErrValidation, tag)
		}
	}
	return t, nil
}

func allowed(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == ':':
		return true
	}
	return false
}

// NormalizeAll normalizes every tag and collapses duplicates keeping first
// occurrence order. The result is never nil.
func NormalizeAll(in []string) ([]string, error) {
	if len(in) > MaxPerEntry {
		return nil, fmt.Errorf("%w: too many tags (max %d)", common.ErrValidation, MaxPerEntry)
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, tag := range in {
		t, err := Normalize(tag)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}
