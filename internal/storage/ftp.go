package storage

import (
	"context"
	"fmt"
	"io"
	"net/textproto"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jlaffaye/ftp"

	"github.com/rssrn/birdbird/internal/conf"
	"github.com/rssrn/birdbird/internal/errors"
	"github.com/rssrn/birdbird/internal/logger"
)

const (
	defaultFTPMaxConns = 4
	ftpTempPrefix      = ".upload-"
	ftpFileUnavailable = 550
)

// FTPStore keeps objects under a base path on an FTP server. FTP has no
// atomic replace, so Put and Rename delete the destination before renaming
// onto it.
type FTPStore struct {
	cfg      conf.FTPSettings
	basePath string
	connPool chan *ftp.ServerConn
	log      logger.Logger
}

// NewFTPStore validates settings and checks the server is reachable.
func NewFTPStore(ctx context.Context, s *conf.FTPSettings) (*FTPStore, error) {
	if s.Host == "" {
		return nil, errors.Newf("ftp: host is required").
			Category(errors.CategoryConfiguration).
			Build()
	}
	cfg := *s
	if cfg.Port == 0 {
		cfg.Port = 21
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	basePath := strings.TrimRight(cfg.Path, "/")
	if basePath == "" {
		basePath = "."
	}

	store := &FTPStore{
		cfg:      cfg,
		basePath: basePath,
		connPool: make(chan *ftp.ServerConn, defaultFTPMaxConns),
		log:      GetLogger().Module("ftp"),
	}
	conn, err := store.getConnection(ctx)
	if err != nil {
		return nil, err
	}
	store.returnConnection(conn)
	return store, nil
}

// Name returns the backend name
func (s *FTPStore) Name() string { return "ftp" }

// Close closes all pooled connections
func (s *FTPStore) Close() error {
	var lastErr error
	for {
		select {
		case conn := <-s.connPool:
			if err := conn.Quit(); err != nil {
				lastErr = err
			}
		default:
			return lastErr
		}
	}
}

func (s *FTPStore) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(s.cfg.Timeout))
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryNetwork).
			Context("host", s.cfg.Host).
			Build()
	}
	if s.cfg.Username != "" {
		if err := conn.Login(s.cfg.Username, s.cfg.Password); err != nil {
			if quitErr := conn.Quit(); quitErr != nil {
				s.log.Debug("Failed to quit FTP connection after login error", logger.Error(quitErr))
			}
			return nil, errors.New(err).
				Category(errors.CategoryConfiguration).
				Context("host", s.cfg.Host).
				Context("operation", "login").
				Build()
		}
	}
	return conn, nil
}

// getConnection gets a live connection from the pool or dials a new one
func (s *FTPStore) getConnection(ctx context.Context) (*ftp.ServerConn, error) {
	select {
	case conn := <-s.connPool:
		if conn.NoOp() == nil {
			return conn, nil
		}
		_ = conn.Quit()
	default:
	}
	return s.connect(ctx)
}

// returnConnection returns a connection to the pool or closes it if the pool is full
func (s *FTPStore) returnConnection(conn *ftp.ServerConn) {
	select {
	case s.connPool <- conn:
	default:
		if err := conn.Quit(); err != nil {
			s.log.Debug("Failed to close FTP connection", logger.Error(err))
		}
	}
}

// withConn runs op on a pooled connection. A connection that saw an error
// other than a missing file is discarded.
func (s *FTPStore) withConn(ctx context.Context, op func(*ftp.ServerConn) error) error {
	conn, err := s.getConnection(ctx)
	if err != nil {
		return err
	}
	if err := op(conn); err != nil {
		if isFTPNotFound(err) {
			s.returnConnection(conn)
		} else {
			_ = conn.Quit()
		}
		return err
	}
	s.returnConnection(conn)
	return nil
}

func isFTPNotFound(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr) && protoErr.Code == ftpFileUnavailable
}

func (s *FTPStore) remote(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return path.Join(s.basePath, key), nil
}

func (s *FTPStore) wrap(err error, op, key string) error {
	if isFTPNotFound(err) {
		return notFound(s.Name(), key)
	}
	return errors.New(err).
		Category(errors.CategoryNetwork).
		Context("operation", op).
		Context("key", key).
		Build()
}

// makeDirs creates each directory of dir, ignoring ones that already exist.
func makeDirs(conn *ftp.ServerConn, dir string) {
	if dir == "." || dir == "/" || dir == "" {
		return
	}
	current := ""
	if strings.HasPrefix(dir, "/") {
		current = "/"
	}
	for part := range strings.SplitSeq(strings.Trim(dir, "/"), "/") {
		current = path.Join(current, part)
		_ = conn.MakeDir(current)
	}
}

// Put stores to a temporary name and renames it onto the target.
func (s *FTPStore) Put(ctx context.Context, key string, body io.ReadSeeker, _ int64, _ string) error {
	target, err := s.remote(key)
	if err != nil {
		return err
	}
	err = s.withConn(ctx, func(conn *ftp.ServerConn) error {
		makeDirs(conn, path.Dir(target))

		tmp := path.Join(path.Dir(target), ftpTempPrefix+uuid.NewString())
		if err := conn.Stor(tmp, &contextReader{ctx: ctx, r: body}); err != nil {
			_ = conn.Delete(tmp)
			return err
		}
		_ = conn.Delete(target)
		if err := conn.Rename(tmp, target); err != nil {
			_ = conn.Delete(tmp)
			return err
		}
		return nil
	})
	if err != nil {
		return s.wrap(err, "put", key)
	}
	return nil
}

// Get downloads the whole object.
func (s *FTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.remote(key)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.withConn(ctx, func(conn *ftp.ServerConn) error {
		resp, err := conn.Retr(p)
		if err != nil {
			return err
		}
		defer resp.Close()
		data, err = readAllContext(ctx, resp)
		return err
	})
	if err != nil {
		return nil, s.wrap(err, "get", key)
	}
	return data, nil
}

// Stat returns the size via SIZE and, where supported, the time via MDTM.
func (s *FTPStore) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	p, err := s.remote(key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info := ObjectInfo{Key: key}
	err = s.withConn(ctx, func(conn *ftp.ServerConn) error {
		size, err := conn.FileSize(p)
		if err != nil {
			return err
		}
		info.Size = size
		if modified, err := conn.GetTime(p); err == nil {
			info.Modified = modified
		}
		return nil
	})
	if err != nil {
		return ObjectInfo{}, s.wrap(err, "stat", key)
	}
	return info, nil
}

// List walks the directory holding prefix.
func (s *FTPStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := s.basePath
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		start = path.Join(s.basePath, prefix[:i])
	}

	var out []ObjectInfo
	err := s.withConn(ctx, func(conn *ftp.ServerConn) error {
		walker := conn.Walk(start)
		for walker.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := walker.Err(); err != nil {
				if isFTPNotFound(err) {
					continue
				}
				return err
			}
			entry := walker.Stat()
			if entry.Type != ftp.EntryTypeFile || strings.HasPrefix(entry.Name, ftpTempPrefix) {
				continue
			}
			key := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), s.basePath), "/")
			if strings.HasPrefix(key, prefix) {
				out = append(out, ObjectInfo{
					Key:      key,
					Size:     int64(entry.Size), // #nosec G115 -- listing sizes fit int64
					Modified: entry.Time,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap(err, "list", prefix)
	}
	return out, nil
}

// Delete removes the object; a missing object is not an error.
func (s *FTPStore) Delete(ctx context.Context, key string) error {
	p, err := s.remote(key)
	if err != nil {
		return err
	}
	err = s.withConn(ctx, func(conn *ftp.ServerConn) error {
		if err := conn.Delete(p); err != nil && !isFTPNotFound(err) {
			return err
		}
		// fails harmlessly while the directory still has files
		if dir := path.Dir(p); dir != s.basePath {
			_ = conn.RemoveDir(dir)
		}
		return nil
	})
	if err != nil {
		return s.wrap(err, "delete", key)
	}
	return nil
}

// Rename moves an object, deleting any existing destination first.
func (s *FTPStore) Rename(ctx context.Context, from, to string) error {
	src, err := s.remote(from)
	if err != nil {
		return err
	}
	dst, err := s.remote(to)
	if err != nil {
		return err
	}
	err = s.withConn(ctx, func(conn *ftp.ServerConn) error {
		makeDirs(conn, path.Dir(dst))
		_ = conn.Delete(dst)
		return conn.Rename(src, dst)
	})
	if err != nil {
		return s.wrap(err, "rename", from)
	}
	return nil
}
