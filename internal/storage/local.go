package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"recast/internal/fileutil"
	"recast/internal/services"
)

// Local stores objects as files under a root directory.
type Local struct {
	root string
}

// NewLocal prepares a filesystem backend rooted at dir.
func NewLocal(dir string) (*Local, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("local storage directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Local{root: dir}, nil
}

// Root returns the backing directory.
func (l *Local) Root() string { return l.root }

func (l *Local) pathFor(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(key)), nil
}

func (l *Local) Save(ctx context.Context, key string, r io.Reader) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	p, err := l.pathFor(key)
	if err != nil {
		return Location{}, err
	}
	written, err := fileutil.WriteAtomic(p, contextReader{ctx: ctx, r: r}, 0o644)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Location{}, ctxErr
		}
		return Location{}, services.Transient("storage.save", key, err)
	}
	return Location{
		Backend:  "local",
		Key:      key,
		URI:      "file://" + filepath.ToSlash(p),
		Size:     written.Size,
		Checksum: written.Checksum,
	}, nil
}

func (l *Local) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.pathFor(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Permanent("storage.load", key, ErrNotFound)
		}
		return nil, services.Transient("storage.load", key, err)
	}
	return f, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Transient("storage.delete", key, err)
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := l.pathFor(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, services.Transient("storage.exists", key, err)
	}
	return !info.IsDir(), nil
}

// contextReader stops a copy once ctx ends.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
