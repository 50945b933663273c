package storage

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const (
	testSSHUser     = "apphub"
	testSSHPassword = "s3cret"
)

// sftpTestServer is an SSH server on loopback serving the local
// filesystem over the sftp subsystem.
type sftpTestServer struct {
	ln  net.Listener
	cfg *ssh.ServerConfig

	mu       sync.Mutex
	accepted int
	conns    []*ssh.ServerConn
}

func startSFTPServer(t *testing.T) *sftpTestServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == testSSHUser && string(pass) == testSSHPassword {
				return nil, nil
			}
			return nil, errors.New("access denied")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &sftpTestServer{ln: ln, cfg: cfg}
	t.Cleanup(func() {
		ln.Close()
		s.dropConnections()
	})
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(nc)
		}
	}()
	return s
}

func (s *sftpTestServer) serve(nc net.Conn) {
	conn, chans, reqs, err := ssh.NewServerConn(nc, s.cfg)
	if err != nil {
		nc.Close()
		return
	}
	s.mu.Lock()
	s.accepted++
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	go ssh.DiscardRequests(reqs)
	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := nch.Accept()
		if err != nil {
			continue
		}
		go func(in <-chan *ssh.Request) {
			for req := range in {
				req.Reply(req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp", nil)
			}
		}(requests)
		go func() {
			server, err := sftp.NewServer(ch)
			if err != nil {
				ch.Close()
				return
			}
			server.Serve()
			server.Close()
		}()
	}
}

// dropConnections closes every accepted connection from the server side.
func (s *sftpTestServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *sftpTestServer) acceptedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

func (s *sftpTestServer) storageConfig(root string) config.SFTPConfig {
	host, port, _ := net.SplitHostPort(s.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return config.SFTPConfig{
		Host:       host,
		Port:       p,
		User:       testSSHUser,
		Password:   testSSHPassword,
		Root:       root,
		Timeout:    5 * time.Second,
		MaxRetries: 1,
	}
}

func newTestSFTPStorage(t *testing.T) (*SFTPStorage, *sftpTestServer, string) {
	t.Helper()
	srv := startSFTPServer(t)
	root := t.TempDir()
	s := NewSFTPStorage(srv.storageConfig(root), logger.NewNop())
	t.Cleanup(func() { s.Close() })
	return s, srv, root
}

func TestSFTPStorage_DialsLazily(t *testing.T) {
	s, srv, _ := newTestSFTPStorage(t)
	ctx := context.Background()

	if got := srv.acceptedCount(); got != 0 {
		t.Fatalf("connections before first call = %d, want 0", got)
	}
	if _, exists, err := s.Stat(ctx, "outputs/images", "a.png"); err != nil || exists {
		t.Fatalf("stat missing: exists=%v err=%v", exists, err)
	}
	if err := s.MkdirAll(ctx, "outputs/videos"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if got := srv.acceptedCount(); got != 1 {
		t.Errorf("connections = %d, want one shared session", got)
	}
}

func TestSFTPStorage_WriteStatListOpen(t *testing.T) {
	s, _, root := newTestSFTPStorage(t)
	ctx := context.Background()

	if err := s.Write(ctx, "outputs/images", "a.png", strings.NewReader("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	size, exists, err := s.Stat(ctx, "outputs/images", "a.png")
	if err != nil || !exists || size != 5 {
		t.Fatalf("stat: size=%d exists=%v err=%v", size, exists, err)
	}
	if _, err := os.Stat(filepath.Join(root, "outputs", "images", ".part-a.png")); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}

	files, err := s.List(ctx, "outputs/images")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 1 || files[0].Name != "a.png" || files[0].Size != 5 {
		t.Fatalf("list = %+v", files)
	}
	if files, err := s.List(ctx, "outputs/none"); err != nil || len(files) != 0 {
		t.Errorf("list of a missing dir = %+v, %v", files, err)
	}

	rc, err := s.Open(ctx, "outputs/images", "a.png")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}
}

func TestSFTPStorage_OverwriteReplacesContent(t *testing.T) {
	s, _, root := newTestSFTPStorage(t)
	ctx := context.Background()

	if err := s.Write(ctx, "outputs/texts", "note.txt", strings.NewReader("first version")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.Write(ctx, "outputs/texts", "note.txt", strings.NewReader("second")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(root, "outputs", "texts", "note.txt"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want the second write", data)
	}
}

func TestSFTPStorage_ReconnectsAfterDroppedConnection(t *testing.T) {
	s, srv, _ := newTestSFTPStorage(t)
	ctx := context.Background()

	if err := s.MkdirAll(ctx, "outputs/images"); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	srv.dropConnections()

	// the first call after the drop may fail on the stale session
	var err error
	for i := 0; i < 2; i++ {
		if err = s.Write(ctx, "outputs/images", "b.png", strings.NewReader("again")); err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("write after reconnect: %v", err)
	}
	if got := srv.acceptedCount(); got != 2 {
		t.Errorf("connections = %d, want a second dial", got)
	}
	if _, exists, err := s.Stat(ctx, "outputs/images", "b.png"); err != nil || !exists {
		t.Errorf("stat after reconnect: exists=%v err=%v", exists, err)
	}
}

func TestSFTPStorage_RejectsBadCredentials(t *testing.T) {
	srv := startSFTPServer(t)
	cfg := srv.storageConfig(t.TempDir())
	cfg.Password = "wrong"
	s := NewSFTPStorage(cfg, logger.NewNop())
	defer s.Close()

	if _, _, err := s.Stat(context.Background(), "outputs", "x"); !errors.Is(err, ErrSSHConnection) {
		t.Errorf("err = %v, want ErrSSHConnection", err)
	}
}
