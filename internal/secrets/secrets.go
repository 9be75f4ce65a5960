// Package secrets encrypts and decrypts agent credentials at rest using
// AES-256-CBC with PKCS#7 padding. Key and IV accept base64 or raw strings;
// an empty IV is treated as a zero IV for compatibility with legacy data.
package secrets

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

type Cipher struct {
	key []byte
	iv  []byte
}

// New builds a Cipher from configured key material. The key must decode to 32
// bytes and the IV, when set, to 16.
func New(key, iv string) (*Cipher, error) {
	if key == "" {
		return nil, errors.New("encryption key not configured")
	}
	keyBytes := decodeKeyMaterial(key)
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(keyBytes))
	}
	ivBytes := make([]byte, aes.BlockSize)
	if iv != "" {
		ivBytes = decodeKeyMaterial(iv)
		if len(ivBytes) != aes.BlockSize {
			return nil, fmt.Errorf("encryption iv must be %d bytes, got %d", aes.BlockSize, len(ivBytes))
		}
	}
	return &Cipher{key: keyBytes, iv: ivBytes}, nil
}

// decodeKeyMaterial accepts base64-encoded values and falls back to the raw
// UTF-8 bytes (legacy deployments stored a 32-char plaintext key).
func decodeKeyMaterial(s string) []byte {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b
	}
	return []byte(s)
}

// Encrypt returns the AES-256-CBC ciphertext of plain.
func (c *Cipher) Encrypt(plain string) ([]byte, error) {
	if plain == "" {
		return nil, errors.New("plaintext must not be empty")
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(out, padded)
	return out, nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", errors.New("ciphertext must not be empty")
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(out, ciphertext)
	unpadded, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errors.New("invalid padding")
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
