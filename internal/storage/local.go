package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/rssrn/birdbird/internal/errors"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
	localTempPrefix = ".birdbird-"
)

// LocalStore keeps objects as files under a root directory, for a mounted
// bucket or a static web root.
type LocalStore struct {
	fs   afero.Fs
	root string
}

// NewLocalStore returns a store rooted at root on fsys.
func NewLocalStore(fsys afero.Fs, root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.Newf("local storage path is required").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := fsys.MkdirAll(root, dirPermissions); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create_root").
			Context("path", root).
			Build()
	}
	return &LocalStore{fs: fsys, root: root}, nil
}

// Name returns the backend name
func (s *LocalStore) Name() string { return "local" }

// Close is a no-op for local storage
func (s *LocalStore) Close() error { return nil }

func (s *LocalStore) path(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *LocalStore) ioError(err error, op, key string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(s.Name(), key)
	}
	return errors.New(err).
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Context("key", key).
		Build()
}

// Put writes to a temporary file beside the target and renames it into place.
func (s *LocalStore) Put(ctx context.Context, key string, body io.ReadSeeker, _ int64, _ string) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(target), dirPermissions); err != nil {
		return s.ioError(err, "mkdir", key)
	}

	tmp, err := afero.TempFile(s.fs, filepath.Dir(target), localTempPrefix+"*.tmp")
	if err != nil {
		return s.ioError(err, "create_temp", key)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			s.fs.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, &contextReader{ctx: ctx, r: body}); err != nil {
		return s.ioError(err, "write", key)
	}
	if err := tmp.Sync(); err != nil {
		return s.ioError(err, "sync", key)
	}
	if err := tmp.Close(); err != nil {
		return s.ioError(err, "close", key)
	}
	if err := s.fs.Chmod(tmpName, filePermissions); err != nil {
		return s.ioError(err, "chmod", key)
	}
	if err := s.fs.Rename(tmpName, target); err != nil {
		return s.ioError(err, "rename", key)
	}
	success = true
	return nil
}

// Get reads the whole object.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(p)
	if err != nil {
		return nil, s.ioError(err, "open", key)
	}
	defer f.Close()

	data, err := readAllContext(ctx, f)
	if err != nil {
		return nil, s.ioError(err, "read", key)
	}
	return data, nil
}

// Stat returns the size, modification time and MD5 of the object.
func (s *LocalStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	p, err := s.path(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	fi, err := s.fs.Stat(p)
	if err != nil {
		return ObjectInfo{}, s.ioError(err, "stat", key)
	}
	if fi.IsDir() {
		return ObjectInfo{}, notFound(s.Name(), key)
	}

	f, err := s.fs.Open(p)
	if err != nil {
		return ObjectInfo{}, s.ioError(err, "open", key)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, &contextReader{ctx: ctx, r: f}); err != nil {
		return ObjectInfo{}, s.ioError(err, "hash", key)
	}

	return ObjectInfo{
		Key:      key,
		Size:     fi.Size(),
		ETag:     hex.EncodeToString(h.Sum(nil)),
		Modified: fi.ModTime(),
	}, nil
}

// List walks the directory holding prefix and returns matching files.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := s.root
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		start = filepath.Join(s.root, filepath.FromSlash(prefix[:i]))
	}

	var out []ObjectInfo
	err := afero.Walk(s.fs, start, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if fi.IsDir() || strings.HasPrefix(fi.Name(), localTempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: fi.Size(), Modified: fi.ModTime()})
		}
		return nil
	})
	if err != nil {
		return nil, s.ioError(err, "list", prefix)
	}
	return out, nil
}

// Delete removes the object and any directories it leaves empty.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return s.ioError(err, "delete", key)
	}

	for dir := path.Dir(key); dir != "." && dir != "/"; dir = path.Dir(dir) {
		full := filepath.Join(s.root, filepath.FromSlash(dir))
		entries, err := afero.ReadDir(s.fs, full)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := s.fs.Remove(full); err != nil {
			break
		}
	}
	return nil
}

// Rename moves an object within the root, replacing the destination.
func (s *LocalStore) Rename(_ context.Context, from, to string) error {
	src, err := s.path(from)
	if err != nil {
		return err
	}
	dst, err := s.path(to)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(dst), dirPermissions); err != nil {
		return s.ioError(err, "mkdir", to)
	}
	if err := s.fs.Rename(src, dst); err != nil {
		return s.ioError(err, "rename", from)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
