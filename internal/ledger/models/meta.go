package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Metadata keys every store carries.
const (
	MetaFormatVersion = "format_version"
	MetaDeviceID      = "device_id"
	MetaCreatedAt     = "created_at"
	MetaLastModified  = "last_modified"
)

// RequiredMetadata lists the keys check expects to find.
var RequiredMetadata = []string{MetaFormatVersion, MetaDeviceID, MetaCreatedAt, MetaLastModified}

// FormatVersion is the payload format written by this build. Stores with a
// higher value are refused.
const FormatVersion = 1

// Write-time ceilings.
const (
	MaxEntryDataBytes   = 1024 * 1024
	MaxTemplateBytes    = 64 * 1024
	MaxCompositionMeta  = 64 * 1024
	MaxDescriptionBytes = 4 * 1024
)

// TimeLayout renders UTC timestamps with fixed millisecond width so text
// ordering matches time ordering.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Now returns the current UTC time truncated to milliseconds.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		// older writers used RFC 3339 with variable precision
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
		}
	}
	return t.UTC().Truncate(time.Millisecond), nil
}

// NewID returns a time-ordered UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// IsID reports whether s parses as a UUID.
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct-tag validation and reports failures as
// common.ErrValidation naming the first offending field.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed %q", common.ErrValidation, fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("%w: %v", common.ErrValidation, err)
}
