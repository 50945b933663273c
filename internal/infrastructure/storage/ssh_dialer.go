package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/apphub/backend/internal/config"
	"golang.org/x/crypto/ssh"
)

var (
	ErrSSHConnection     = errors.New("ssh: connection failed")
	ErrSSHAuthentication = errors.New("ssh: authentication failed")
)

// sshDialer opens SSH connections to the artifact host, retrying with a
// linear backoff.
type sshDialer struct {
	cfg config.SFTPConfig
}

func newSSHDialer(cfg config.SFTPConfig) *sshDialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &sshDialer{cfg: cfg}
}

func (d *sshDialer) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if d.cfg.KeyPath != "" {
		pem, err := os.ReadFile(d.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read key: %v", ErrSSHAuthentication, err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key", ErrSSHAuthentication)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if d.cfg.Password != "" {
		methods = append(methods, ssh.Password(d.cfg.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no credentials provided", ErrSSHAuthentication)
	}
	return methods, nil
}

func (d *sshDialer) Dial(ctx context.Context) (*ssh.Client, error) {
	auth, err := d.authMethods()
	if err != nil {
		return nil, err
	}
	clientCfg := &ssh.ClientConfig{
		User:            d.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.cfg.Timeout,
	}
	addr := net.JoinHostPort(d.cfg.Host, fmt.Sprint(d.cfg.Port))

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		dialer := net.Dialer{Timeout: d.cfg.Timeout, KeepAlive: 60 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.SetDeadline(time.Now().Add(d.cfg.Timeout))
			c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
			if err == nil {
				conn.SetDeadline(time.Time{})
				return ssh.NewClient(c, chans, reqs), nil
			}
			conn.Close()
			lastErr = err
		} else {
			lastErr = err
		}

		if attempt < d.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	kind := "connection failed"
	if lastErr != nil && (strings.Contains(lastErr.Error(), "timeout") || strings.Contains(lastErr.Error(), "deadline")) {
		kind = "connection timed out"
	}
	return nil, fmt.Errorf("%w: %s: %v (after %d attempts)", ErrSSHConnection, kind, lastErr, d.cfg.MaxRetries)
}
