package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := "operator-secret"
	plain := "0123456789abcdef0123456789abcdef"

	sealed, err := Encrypt(plain, secret)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !IsEncrypted(sealed) || strings.Contains(sealed, plain) {
		t.Fatalf("sealed value looks wrong: %s", sealed)
	}

	got, err := Decrypt(sealed, secret)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != plain {
		t.Errorf("got %q, want %q", got, plain)
	}
}

func TestEncrypt_NonceIsRandom(t *testing.T) {
	a, _ := Encrypt("same", "k")
	b, _ := Encrypt("same", "k")
	if a == b {
		t.Error("two encryptions of the same value should differ")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	sealed, _ := Encrypt("value", "right")
	if _, err := Decrypt(sealed, "wrong"); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	cases := []string{"plain", Prefix + "!!!", Prefix + "AAAA"}
	for _, c := range cases {
		if _, err := Decrypt(c, "k"); !errors.Is(err, ErrInvalidCipherText) {
			t.Errorf("Decrypt(%q) = %v, want ErrInvalidCipherText", c, err)
		}
	}
}

func TestEmptyKey(t *testing.T) {
	if _, err := Encrypt("x", ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("encrypt: %v", err)
	}
	if _, err := Decrypt(Prefix+"x", ""); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("decrypt: %v", err)
	}
}
