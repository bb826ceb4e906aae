package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testKeyIV() ([]byte, []byte) {
	return []byte("0123456789abcdef"), []byte("fedcba9876543210")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, iv := testKeyIV()
	c, err := New(key, iv)
	require.NoError(t, err)

	cipherText, err := c.Encrypt("list\n")
	require.NoError(t, err)

	plain, err := c.Decrypt(cipherText)
	require.NoError(t, err)
	require.Equal(t, "list\n", plain)
}

func TestEncryptDecryptEmptyString(t *testing.T) {
	key, iv := testKeyIV()
	c, err := New(key, iv)
	require.NoError(t, err)

	cipherText, err := c.Encrypt("")
	require.NoError(t, err)

	plain, err := c.Decrypt(cipherText)
	require.NoError(t, err)
	require.Equal(t, "", plain)
}

func TestNewRejectsBadKeyLength(t *testing.T) {
	_, iv := testKeyIV()
	_, err := New([]byte("short"), iv)
	require.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestNewRejectsBadIVLength(t *testing.T) {
	key, _ := testKeyIV()
	_, err := New(key, []byte("short"))
	require.Error(t, err)
}

func TestDecryptRejectsMalformedCiphertext(t *testing.T) {
	key, iv := testKeyIV()
	c, err := New(key, iv)
	require.NoError(t, err)

	_, err = c.Decrypt("not-valid-base64-length")
	require.Error(t, err)
}

func TestDifferentKeysProduceDifferentCiphertext(t *testing.T) {
	key, iv := testKeyIV()
	c1, err := New(key, iv)
	require.NoError(t, err)
	c2, err := New([]byte("fedcba9876543210"), iv)
	require.NoError(t, err)

	ct1, err := c1.Encrypt("hello")
	require.NoError(t, err)
	ct2, err := c2.Encrypt("hello")
	require.NoError(t, err)

	require.NotEqual(t, ct1, ct2)
}
