// Package wire implements the symmetric framing used by the command
// protocol when TLS is disabled and the peer is not loopback: AES-CBC
// under a configured key/IV, base64-framed, grounded on
// marco-2806-magpie's proxy secret cipher (key normalization, error
// wrapping) with the AEAD swapped for CBC+PKCS7 per this wire format.
package wire

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrInvalidKeySize is returned when a configured key is not a valid
// AES key length.
var ErrInvalidKeySize = errors.New("key must be 16, 24, or 32 bytes")

// Cipher holds a configured AES-CBC key/IV pair.
type Cipher struct {
	key []byte
	iv  []byte
}

// New validates key/iv lengths and returns a ready Cipher. key must be
// 16, 24, or 32 bytes (AES-128/192/256); iv must be exactly the AES
// block size (16 bytes).
func New(key, iv []byte) (*Cipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKeySize
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv must be %d bytes", aes.BlockSize)
	}
	return &Cipher{key: key, iv: iv}, nil
}

// Encrypt pads plaintext with PKCS7, encrypts it under AES-CBC, and
// returns the result base64-encoded.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))

	mode := cipher.NewCBCEncrypter(block, c.iv)
	mode.CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt base64-decodes ciphertext, decrypts it under AES-CBC, and
// strips PKCS7 padding.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", errors.New("ciphertext is not a multiple of the block size")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	out := make([]byte, len(data))
	mode := cipher.NewCBCDecrypter(block, c.iv)
	mode.CryptBlocks(out, data)

	unpadded, err := pkcs7Unpad(out)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	return data[:len(data)-padLen], nil
}
