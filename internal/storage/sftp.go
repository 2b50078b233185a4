package storage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
)

// SFTPStore keeps objects under a base path on an SSH server.
type SFTPStore struct {
	cfg      conf.SFTPSettings
	basePath string

	mu     sync.Mutex
	ssh    *ssh.Client
	client *sftp.Client
}

// NewSFTPStore validates settings and opens the first connection.
func NewSFTPStore(ctx context.Context, s *conf.SFTPSettings) (*SFTPStore, error) {
	if s.Host == "" {
		return nil, errors.Newf("sftp: host is required").
			Category(errors.CategoryConfiguration).
			Build()
	}
	cfg := *s
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	basePath := strings.TrimRight(cfg.Path, "/")
	if basePath == "" {
		basePath = "."
	}

	store := &SFTPStore{cfg: cfg, basePath: basePath}
	if _, err := store.conn(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Name returns the backend name
func (s *SFTPStore) Name() string { return "sftp" }

// Close closes the SFTP session and SSH connection
func (s *SFTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *SFTPStore) closeLocked() error {
	var errs []error
	if s.client != nil {
		errs = append(errs, s.client.Close())
		s.client = nil
	}
	if s.ssh != nil {
		errs = append(errs, s.ssh.Close())
		s.ssh = nil
	}
	return errors.Join(errs...)
}

func (s *SFTPStore) clientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:    s.cfg.Username,
		Timeout: s.cfg.Timeout,
	}

	if s.cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(s.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to load known hosts: %w", err)
		}
		config.HostKeyCallback = callback
	} else {
		GetLogger().Warn("SFTP host key is not verified; set known_hosts_file",
			logger.String("host", s.cfg.Host))
		config.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // opt-in via missing known_hosts_file
	}

	switch {
	case s.cfg.KeyFile != "":
		key, err := os.ReadFile(s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("sftp: failed to parse private key: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case s.cfg.Password != "":
		config.Auth = []ssh.AuthMethod{ssh.Password(s.cfg.Password)}
	default:
		return nil, fmt.Errorf("sftp: no authentication method provided")
	}
	return config, nil
}

// conn returns the live client, dialing when there is none.
func (s *SFTPStore) conn(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		if _, err := s.client.Getwd(); err == nil {
			return s.client, nil
		}
		_ = s.closeLocked()
	}

	config, err := s.clientConfig()
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryConfiguration).Build()
	}

	type connResult struct {
		ssh    *ssh.Client
		client *sftp.Client
		err    error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to connect: %w", err)}
			return
		}
		client, err := sftp.NewClient(sshConn)
		if err != nil {
			sshConn.Close()
			resultChan <- connResult{err: fmt.Errorf("sftp: failed to create client: %w", err)}
			return
		}
		resultChan <- connResult{ssh: sshConn, client: client}
	}()

	select {
	case <-ctx.Done():
		// close a connection that completes after cancellation
		go func() {
			if r := <-resultChan; r.client != nil {
				r.client.Close()
				r.ssh.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-resultChan:
		if r.err != nil {
			return nil, errors.New(r.err).
				Category(errors.CategoryNetwork).
				Context("host", s.cfg.Host).
				Build()
		}
		s.ssh, s.client = r.ssh, r.client
		return s.client, nil
	}
}

func (s *SFTPStore) remote(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return path.Join(s.basePath, key), nil
}

func (s *SFTPStore) wrap(err error, op, key string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(s.Name(), key)
	}
	return errors.New(err).
		Category(errors.CategoryNetwork).
		Context("operation", op).
		Context("key", key).
		Build()
}

// Put uploads to a temporary name and renames it over the target.
func (s *SFTPStore) Put(ctx context.Context, key string, body io.ReadSeeker, _ int64, _ string) error {
	target, err := s.remote(key)
	if err != nil {
		return err
	}
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(path.Dir(target)); err != nil {
		return s.wrap(err, "mkdir", key)
	}

	tmp := path.Join(path.Dir(target), ".upload-"+uuid.NewString())
	f, err := client.Create(tmp)
	if err != nil {
		return s.wrap(err, "create", key)
	}
	if _, err := io.Copy(f, &contextReader{ctx: ctx, r: body}); err != nil {
		f.Close()
		_ = client.Remove(tmp)
		return s.wrap(err, "write", key)
	}
	if err := f.Close(); err != nil {
		_ = client.Remove(tmp)
		return s.wrap(err, "close", key)
	}
	if err := client.PosixRename(tmp, target); err != nil {
		_ = client.Remove(tmp)
		return s.wrap(err, "rename", key)
	}
	return nil
}

// Get downloads the whole object.
func (s *SFTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.remote(key)
	if err != nil {
		return nil, err
	}
	client, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	f, err := client.Open(p)
	if err != nil {
		return nil, s.wrap(err, "open", key)
	}
	defer f.Close()

	data, err := readAllContext(ctx, f)
	if err != nil {
		return nil, s.wrap(err, "read", key)
	}
	return data, nil
}

// Stat returns size and modification time; SFTP offers no content hash.
func (s *SFTPStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	p, err := s.remote(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	client, err := s.conn(ctx)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := client.Stat(p)
	if err != nil {
		return ObjectInfo{}, s.wrap(err, "stat", key)
	}
	return ObjectInfo{Key: key, Size: fi.Size(), Modified: fi.ModTime()}, nil
}

// List walks the base path and returns files whose key has prefix.
func (s *SFTPStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	client, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	start := s.basePath
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		start = path.Join(s.basePath, prefix[:i])
	}

	var out []ObjectInfo
	walker := client.Walk(start)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := walker.Err(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, s.wrap(err, "list", prefix)
		}
		fi := walker.Stat()
		if fi.IsDir() || strings.HasPrefix(fi.Name(), ".upload-") {
			continue
		}
		key := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), s.basePath), "/")
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: fi.Size(), Modified: fi.ModTime()})
		}
	}
	return out, nil
}

// Delete removes the object; a missing object is not an error.
func (s *SFTPStore) Delete(ctx context.Context, key string) error {
	p, err := s.remote(key)
	if err != nil {
		return err
	}
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := client.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return s.wrap(err, "delete", key)
	}
	// drop the batch directory once it is empty
	if entries, err := client.ReadDir(path.Dir(p)); err == nil && len(entries) == 0 && path.Dir(p) != s.basePath {
		_ = client.RemoveDirectory(path.Dir(p))
	}
	return nil
}

// Rename uses the posix-rename extension so an existing destination is replaced atomically.
func (s *SFTPStore) Rename(ctx context.Context, from, to string) error {
	src, err := s.remote(from)
	if err != nil {
		return err
	}
	dst, err := s.remote(to)
	if err != nil {
		return err
	}
	client, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(path.Dir(dst)); err != nil {
		return s.wrap(err, "mkdir", to)
	}
	if err := client.PosixRename(src, dst); err != nil {
		return s.wrap(err, "rename", from)
	}
	return nil
}
