package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sync"

	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/infrastructure/logger"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPStorage keeps artifacts on a remote host. The SSH connection is
// opened lazily and re-dialed after a failure.
type SFTPStorage struct {
	dialer *sshDialer
	root   string
	log    *logger.Logger

	mu     sync.Mutex
	conn   *ssh.Client
	client *sftp.Client
}

var _ ports.ResultStorage = (*SFTPStorage)(nil)

func NewSFTPStorage(cfg config.SFTPConfig, log *logger.Logger) *SFTPStorage {
	root := cfg.Root
	if root == "" {
		root = "."
	}
	return &SFTPStorage{dialer: newSSHDialer(cfg), root: root, log: log}
}

func (s *SFTPStorage) session(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sftp client: %w", err)
	}
	s.conn, s.client = conn, client
	s.log.Infow("sftp_connected", "host", s.dialer.cfg.Host, "root", s.root)
	return client, nil
}

// reset drops the cached session so the next call re-dials.
func (s *SFTPStorage) reset(err error) {
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.Close()
		s.conn.Close()
		s.client, s.conn = nil, nil
	}
}

func (s *SFTPStorage) resolve(dir string) string {
	if path.IsAbs(dir) {
		return path.Clean(dir)
	}
	return path.Join(s.root, dir)
}

func (s *SFTPStorage) Stat(ctx context.Context, dir, name string) (int64, bool, error) {
	c, err := s.session(ctx)
	if err != nil {
		return 0, false, err
	}
	info, err := c.Stat(path.Join(s.resolve(dir), name))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		s.reset(err)
		return 0, false, err
	}
	return info.Size(), true, nil
}

func (s *SFTPStorage) Write(ctx context.Context, dir, name string, r io.Reader) error {
	c, err := s.session(ctx)
	if err != nil {
		return err
	}
	target := s.resolve(dir)
	if err := c.MkdirAll(target); err != nil {
		s.reset(err)
		return fmt.Errorf("mkdir remote: %w", err)
	}
	tmp := path.Join(target, ".part-"+name)
	dst, err := c.Create(tmp)
	if err != nil {
		s.reset(err)
		return fmt.Errorf("create remote: %w", err)
	}
	if _, err := io.Copy(dst, &ctxReader{ctx: ctx, r: r}); err != nil {
		dst.Close()
		c.Remove(tmp)
		return fmt.Errorf("copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		return err
	}
	final := path.Join(target, name)
	if err := c.PosixRename(tmp, final); err != nil {
		// servers without posix-rename@openssh.com refuse to overwrite
		c.Remove(final)
		if err := c.Rename(tmp, final); err != nil {
			c.Remove(tmp)
			return fmt.Errorf("rename remote: %w", err)
		}
	}
	return nil
}

func (s *SFTPStorage) List(ctx context.Context, dir string) ([]ports.StoredFile, error) {
	c, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	infos, err := c.ReadDir(s.resolve(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		s.reset(err)
		return nil, err
	}
	files := make([]ports.StoredFile, 0, len(infos))
	for _, info := range infos {
		if !info.Mode().IsRegular() {
			continue
		}
		files = append(files, ports.StoredFile{Name: info.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return files, nil
}

func (s *SFTPStorage) Open(ctx context.Context, dir, name string) (io.ReadCloser, error) {
	c, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	f, err := c.Open(path.Join(s.resolve(dir), name))
	if err != nil {
		s.reset(err)
		return nil, err
	}
	return f, nil
}

func (s *SFTPStorage) MkdirAll(ctx context.Context, dir string) error {
	c, err := s.session(ctx)
	if err != nil {
		return err
	}
	if err := c.MkdirAll(s.resolve(dir)); err != nil {
		s.reset(err)
		return err
	}
	return nil
}

func (s *SFTPStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	s.client.Close()
	err := s.conn.Close()
	s.client, s.conn = nil, nil
	return err
}
