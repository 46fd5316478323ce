package cryptox

import (
	"bytes"
	"testing"

	"github.com/dmitrijs2005/ledger/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testParams = KDFParams{Time: 1, MemoryKiB: 64, Threads: 1}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt := []byte("fixed-salt-0001")

	k1, err := DeriveKey([]byte("secret-password"), salt, testParams)
	require.NoError(t, err)
	defer k1.Destroy()
	k2, err := DeriveKey([]byte("secret-password"), salt, testParams)
	require.NoError(t, err)
	defer k2.Destroy()

	b1, err := k1.bytes()
	require.NoError(t, err)
	b2, err := k2.bytes()
	require.NoError(t, err)

	// одинаковые входы -> одинаковый ключ
	assert.Len(t, b1, KeySize)
	assert.True(t, bytes.Equal(b1, b2))
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	k1, err := DeriveKey([]byte("secret-password"), []byte("salt-0000001"), testParams)
	require.NoError(t, err)
	defer k1.Destroy()
	k2, err := DeriveKey([]byte("secret-password"), []byte("salt-0000002"), testParams)
	require.NoError(t, err)
	defer k2.Destroy()

	b1, _ := k1.bytes()
	b2, _ := k2.bytes()
	assert.False(t, bytes.Equal(b1, b2))
}

func TestDeriveKey_RejectsBadInput(t *testing.T) {
	_, err := DeriveKey([]byte("pw"), []byte("short"), testParams)
	require.Error(t, err)

	_, err = DeriveKey([]byte("pw"), []byte("long-enough-salt"), KDFParams{Time: 0, MemoryKiB: 64, Threads: 1})
	require.Error(t, err)

	_, err = DeriveKey([]byte("pw"), []byte("long-enough-salt"), KDFParams{Time: 1, MemoryKiB: 4, Threads: 1})
	require.Error(t, err)
}

func TestKey_DestroyedKeyIsUnusable(t *testing.T) {
	k, err := DeriveKey([]byte("pw"), []byte("long-enough-salt"), testParams)
	require.NoError(t, err)
	k.Destroy()
	k.Destroy()

	_, err = Seal(k, make([]byte, NonceSize), []byte("x"), nil)
	require.ErrorIs(t, err, common.ErrInvalidState)
}

func TestWithKey_DestroysAfterUse(t *testing.T) {
	var captured *Key
	err := WithKey([]byte("pw"), []byte("long-enough-salt"), testParams, func(k *Key) error {
		captured = k
		_, err := k.bytes()
		return err
	})
	require.NoError(t, err)

	_, err = captured.bytes()
	require.ErrorIs(t, err, common.ErrInvalidState)
}

func TestSealOpen_RoundTripAndTamper(t *testing.T) {
	k, err := DeriveKey([]byte("pw"), []byte("long-enough-salt"), testParams)
	require.NoError(t, err)
	defer k.Destroy()

	nonce := bytes.Repeat([]byte{7}, NonceSize)
	aad := []byte("header")
	ct, err := Seal(k, nonce, []byte("hello"), aad)
	require.NoError(t, err)

	pt, err := Open(k, nonce, ct, aad)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), pt)

	// изменённый шифротекст
	bad := append([]byte{}, ct...)
	bad[0] ^= 0xFF
	_, err = Open(k, nonce, bad, aad)
	require.ErrorIs(t, err, common.ErrAuthFailed)

	// изменённые associated data
	_, err = Open(k, nonce, ct, []byte("HEADER"))
	require.ErrorIs(t, err, common.ErrAuthFailed)

	_, err = Seal(k, []byte("short"), []byte("x"), nil)
	require.Error(t, err)
}

func TestContainer_RoundTrip(t *testing.T) {
	salt := []byte("0123456789abcdef")
	blob, err := SealContainer([]byte("correct horse"), salt, testParams, []byte("payload bytes"))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(blob, magic))
	assert.NotContains(t, string(blob), "payload bytes")

	pt, h, err := OpenContainer([]byte("correct horse"), blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload bytes"), pt)
	assert.Equal(t, uint32(ContainerVersion), h.Version)
	assert.Equal(t, KDFArgon2id, h.KDF)
	assert.Equal(t, testParams, h.Params)
	assert.Equal(t, salt, h.Salt)
	assert.Len(t, h.Nonce, NonceSize)
}

func TestContainer_FreshNoncePerSeal(t *testing.T) {
	salt := []byte("0123456789abcdef")
	a, err := SealContainer([]byte("pw"), salt, testParams, []byte("same"))
	require.NoError(t, err)
	b, err := SealContainer([]byte("pw"), salt, testParams, []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestContainer_WrongPassphrase(t *testing.T) {
	blob, err := SealContainer([]byte("right"), []byte("0123456789abcdef"), testParams, []byte("data"))
	require.NoError(t, err)

	for _, pw := range []string{"wrong", "", "right ", "Right"} {
		pt, _, err := OpenContainer([]byte(pw), blob)
		require.ErrorIs(t, err, common.ErrAuthFailed, "passphrase %q", pw)
		assert.Nil(t, pt)
	}
}

func TestContainer_TamperedHeaderOrBody(t *testing.T) {
	blob, err := SealContainer([]byte("pw"), []byte("0123456789abcdef"), testParams, []byte("data"))
	require.NoError(t, err)
	_, aad, _, err := ParseContainer(blob)
	require.NoError(t, err)

	// every byte of the prefix after the magic and of the body is authenticated
	for _, i := range []int{len(aad) - 1, len(aad), len(blob) - 1} {
		bad := append([]byte{}, blob...)
		bad[i] ^= 0x01
		_, _, err := OpenContainer([]byte("pw"), bad)
		require.Error(t, err, "byte %d", i)
		assert.ErrorIs(t, err, common.ErrAuthFailed, "byte %d", i)
	}
}

func TestParseContainer_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte("NOPE\x00")},
		{"truncated length", []byte("LDGR")},
		{"length beyond data", append([]byte("LDGR"), 0x10, 0x08)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := ParseContainer(tt.data)
			require.ErrorIs(t, err, common.ErrAuthFailed)
		})
	}
}

func TestParseContainer_FutureVersion(t *testing.T) {
	h := Header{
		Version: ContainerVersion + 1,
		KDF:     KDFArgon2id,
		Params:  testParams,
		Salt:    []byte("0123456789abcdef"),
		Nonce:   make([]byte, NonceSize),
	}
	_, _, _, err := ParseContainer(h.Marshal())
	require.ErrorIs(t, err, common.ErrUnsupportedFormat)

	h.Version = ContainerVersion
	h.KDF = 9
	_, _, _, err = ParseContainer(h.Marshal())
	require.ErrorIs(t, err, common.ErrUnsupportedFormat)
}

func TestParseContainer_RejectsHostileParams(t *testing.T) {
	h := Header{
		Version: ContainerVersion,
		KDF:     KDFArgon2id,
		Params:  KDFParams{Time: 1, MemoryKiB: maxKDFMemoryKiB + 1, Threads: 1},
		Salt:    []byte("0123456789abcdef"),
		Nonce:   make([]byte, NonceSize),
	}
	_, _, _, err := ParseContainer(h.Marshal())
	require.ErrorIs(t, err, common.ErrAuthFailed)
}

func TestValidatePassphrase(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		minLen  int
		wantErr bool
	}{
		{"empty", "", 8, true},
		{"whitespace only", "    \t   ", 1, true},
		{"too short", "short", 8, true},
		{"exact minimum", "12345678", 8, false},
		{"counts characters not bytes", "пароль12", 8, false},
		{"longer policy", "12345678", 12, true},
		{"ok", "correct horse battery", 12, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassphrase([]byte(tt.in), tt.minLen)
			if tt.wantErr {
				require.ErrorIs(t, err, common.ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}
