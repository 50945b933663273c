package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidKey        = errors.New("crypto: invalid encryption key")
	ErrEncryptionFailed  = errors.New("crypto: encryption failed")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
	ErrInvalidCipherText = errors.New("crypto: invalid cipher text")
)

// Prefix marks values produced by Encrypt so stored plaintext can be told apart.
const Prefix = "enc:v1:"

var hkdfInfo = []byte("apphub credential at rest")

// deriveKey stretches an operator supplied secret into a 32-byte key.
func deriveKey(secret string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plainText with XChaCha20-Poly1305.
func Encrypt(plainText string, secret string) (string, error) {
	if secret == "" {
		return "", ErrInvalidKey
	}
	key, err := deriveKey(secret)
	if err != nil {
		return "", ErrEncryptionFailed
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plainText)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}
	sealed := aead.Seal(nonce, nonce, []byte(plainText), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func Decrypt(cipherText string, secret string) (string, error) {
	if secret == "" {
		return "", ErrInvalidKey
	}
	if !IsEncrypted(cipherText) {
		return "", ErrInvalidCipherText
	}
	data, err := base64.StdEncoding.DecodeString(cipherText[len(Prefix):])
	if err != nil {
		return "", ErrInvalidCipherText
	}
	key, err := deriveKey(secret)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	if len(data) < aead.NonceSize() {
		return "", ErrInvalidCipherText
	}

	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

func IsEncrypted(value string) bool {
	return len(value) > len(Prefix) && value[:len(Prefix)] == Prefix
}
