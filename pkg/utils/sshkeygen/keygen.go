package sshkeygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

var ErrKeyExists = errors.New("sshkeygen: private key already exists")

// GenerateEd25519KeyPair writes an OpenSSH private key and its
// authorized_keys line. An existing private key is never overwritten.
func GenerateEd25519KeyPair(privateKeyPath, publicKeyPath string) (string, error) {
	if _, err := os.Stat(privateKeyPath); err == nil {
		return "", ErrKeyExists
	}

	if err := os.MkdirAll(filepath.Dir(privateKeyPath), 0o700); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate key pair: %w", err)
	}

	privKeyPEM, err := ssh.MarshalPrivateKey(privKey, "apphub")
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(privateKeyPath, pem.EncodeToMemory(privKeyPEM), 0o600); err != nil {
		return "", fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return "", fmt.Errorf("failed to create public key: %w", err)
	}
	authorized := ssh.MarshalAuthorizedKey(sshPubKey)
	if err := os.WriteFile(publicKeyPath, authorized, 0o644); err != nil {
		return "", fmt.Errorf("failed to write public key: %w", err)
	}
	return string(authorized), nil
}
