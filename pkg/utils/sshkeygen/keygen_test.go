package sshkeygen

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestGenerateEd25519KeyPair(t *testing.T) {
	dir := t.TempDir()
	priv := filepath.Join(dir, "keys", "apphub_ed25519")
	pub := priv + ".pub"

	line, err := GenerateEd25519KeyPair(priv, pub)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(line, "ssh-ed25519 ") {
		t.Errorf("authorized line = %q", line)
	}

	pem, err := os.ReadFile(priv)
	if err != nil {
		t.Fatalf("read private key: %v", err)
	}
	if _, err := ssh.ParsePrivateKey(pem); err != nil {
		t.Errorf("private key does not parse: %v", err)
	}

	if _, err := GenerateEd25519KeyPair(priv, pub); !errors.Is(err, ErrKeyExists) {
		t.Errorf("second call = %v, want ErrKeyExists", err)
	}
}
