package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/dmitrijs2005/ledger/internal/ledger/models"
	"github.com/dmitrijs2005/ledger/internal/ledger/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSimpleText(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("hello world\n"))
	var out bytes.Buffer
	got, err := GetSimpleText(in, "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, "Name?", out.String())
}

func TestGetSimpleTextEOF(t *testing.T) {
	got, err := GetSimpleText(bufio.NewReader(strings.NewReader("lastline")), "", &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "lastline", got)

	_, err = GetSimpleText(bufio.NewReader(strings.NewReader("")), "", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestTerminal_ReadPassphrase(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()

	readPassword = func(int) ([]byte, error) { return []byte("s3cret"), nil }
	var out bytes.Buffer
	term := newTerminal(strings.NewReader(""), &out)
	pw, err := term.ReadPassphrase("Passphrase: ")
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), pw)
	assert.Equal(t, "Passphrase: \n", out.String())

	readPassword = func(int) ([]byte, error) { return nil, errors.New("boom") }
	_, err = term.ReadPassphrase("Passphrase: ")
	assert.Error(t, err)
}

func TestTerminal_Interactive(t *testing.T) {
	old := isTerminal
	defer func() { isTerminal = old }()
	term := newTerminal(strings.NewReader(""), &bytes.Buffer{})

	isTerminal = func(int) bool { return true }
	assert.True(t, term.Interactive())
	isTerminal = func(int) bool { return false }
	assert.False(t, term.Interactive())

	forced := true
	term.forced = &forced
	assert.True(t, term.Interactive())
}

func TestTerminal_Prompt(t *testing.T) {
	var out bytes.Buffer
	term := newTerminal(strings.NewReader("good\n12\n"), &out)

	got, err := term.Prompt(context.Background(), schema.FieldDef{Name: "mood", Kind: schema.KindEnum, Values: []string{"ok", "good"}}, "How was it")
	require.NoError(t, err)
	assert.Equal(t, "good", got)

	got, err = term.Prompt(context.Background(), schema.FieldDef{Name: "n", Kind: schema.KindInteger, Required: true}, "n")
	require.NoError(t, err)
	assert.Equal(t, "12", got)
	assert.Equal(t, "How was it (ok|good, optional): n (integer): ", out.String())
}

func TestParseFieldSpec(t *testing.T) {
	one, five := 1.0, 5.0
	tests := []struct {
		spec    string
		want    schema.FieldDef
		wantErr bool
	}{
		{spec: "title:string", want: schema.FieldDef{Name: "title", Kind: schema.KindString}},
		{spec: "body:text:required:maxlen=500", want: schema.FieldDef{Name: "body", Kind: schema.KindText, Required: true, MaxLength: 500}},
		{spec: "mood:enum:nullable:values=ok|good", want: schema.FieldDef{Name: "mood", Kind: schema.KindEnum, Nullable: true, Values: []string{"ok", "good"}}},
		{spec: "rating:integer:min=1:max=5", want: schema.FieldDef{Name: "rating", Kind: schema.KindInteger, Min: &one, Max: &five}},
		{spec: "code:string:pattern=^[a-z]+:[0-9]+$", want: schema.FieldDef{Name: "code", Kind: schema.KindString, Pattern: "^[a-z]+:[0-9]+$"}},
		{spec: "x:string:desc=a note", want: schema.FieldDef{Name: "x", Kind: schema.KindString, Description: "a note"}},
		{spec: "title", wantErr: true},
		{spec: ":string", wantErr: true},
		{spec: "n:number:min=low", wantErr: true},
		{spec: "n:string:maxlen=x", wantErr: true},
		{spec: "n:string:sparkly", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := parseFieldSpec(tt.spec)
			if tt.wantErr {
				require.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFields(t *testing.T) {
	et := &models.EntryType{Schema: schema.Schema{Fields: []schema.FieldDef{
		{Name: "body", Kind: schema.KindText},
		{Name: "done", Kind: schema.KindBoolean, Nullable: true},
	}}}
	got, err := parseFields(et, []string{"body=a=b", "done=null", "extra=raw"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"body": "a=b", "done": nil, "extra": "raw"}, got)

	_, err = parseFields(et, []string{"body"})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestParseWhen(t *testing.T) {
	got, err := parseWhen("2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), got)

	got, err = parseWhen("2024-03-05T10:00:00+02:00")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)))

	_, err = parseWhen("yesterday")
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestSummary(t *testing.T) {
	e := models.Entry{Data: []byte(`{"body":"  line one\nline two  ","mood":"ok"}`)}
	assert.Equal(t, "line one line two", summary(e, 60))
	assert.Equal(t, "line…", summary(e, 5))
}
