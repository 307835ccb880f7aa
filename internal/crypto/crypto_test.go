package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	a, err := DeriveKey("token")
	require.NoError(t, err)
	b, err := DeriveKey("token")
	require.NoError(t, err)
	c, err := DeriveKey("other")
	require.NoError(t, err)

	assert.Equal(t, *a, *b)
	assert.NotEqual(t, *a, *c)
}

func TestKeyFor_EmptyToken(t *testing.T) {
	k, err := KeyFor("")
	require.NoError(t, err)
	assert.Nil(t, k)

	k, err = KeyFor("x")
	require.NoError(t, err)
	assert.NotNil(t, k)
}

func TestSealOpen(t *testing.T) {
	key, err := DeriveKey("token")
	require.NoError(t, err)

	ct, err := Seal([]byte("hello"), key)
	require.NoError(t, err)
	assert.NotContains(t, string(ct), "hello")

	again, err := Seal([]byte("hello"), key)
	require.NoError(t, err)
	assert.NotEqual(t, ct, again, "nonces must differ")

	pt, err := Open(ct, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))
}

func TestOpen_Failures(t *testing.T) {
	key, err := DeriveKey("token")
	require.NoError(t, err)
	wrong, err := DeriveKey("nope")
	require.NoError(t, err)

	ct, err := Seal([]byte("hello"), key)
	require.NoError(t, err)

	_, err = Open(ct, wrong)
	require.ErrorIs(t, err, ErrDecrypt)

	_, err = Open(ct[:10], key)
	require.Error(t, err)

	ct[len(ct)-1] ^= 0xff
	_, err = Open(ct, key)
	require.ErrorIs(t, err, ErrDecrypt)
}
