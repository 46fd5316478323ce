package tags

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"  Test  ", "test", false},
		{"test", "test", false},
		{"Work:Project-1_a", "work:project-1_a", false},
		{"a b", "", true},
		{"", "", true},
		{"   ", "", true},
		{"café", "", true},
		{"tag!", "", true},
		{strings.Repeat("a", MaxBytes), strings.Repeat("a", MaxBytes), false},
		{strings.Repeat("a", MaxBytes+1), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			// idempotent
			again, err := Normalize(got)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestNormalizeAll_CollapsesDuplicatesInOrder(t *testing.T) {
	got, err := NormalizeAll([]string{"B", "a", " b ", "A", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, got)

	empty, err := NormalizeAll(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestNormalizeAll_Limits(t *testing.T) {
	many := make([]string, MaxPerEntry+1)
	for i := range many {
		many[i] = fmt.Sprintf("t%d", i)
	}
	_, err := NormalizeAll(many)
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = NormalizeAll(many[:MaxPerEntry])
	require.NoError(t, err)

	_, err = NormalizeAll([]string{"ok", "not ok"})
	require.ErrorIs(t, err, common.ErrValidation)
}
