// Package source resolves the declarative client and user files.
//
// A name is looked up, in order, as a regular file on the local filesystem,
// as an object in the configured object store, and as a resource bundled
// into the binary. The first hit wins.
package source

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
)

var (
	// ErrSourceNotFound is returned when no tier holds the requested source
	ErrSourceNotFound = errors.New("source not found")
	// ErrObjectNotFound is returned by an ObjectStore for a missing object
	ErrObjectNotFound = errors.New("object not found")
)

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// Bundled returns the resources compiled into the binary
func Bundled() fs.FS {
	sub, err := fs.Sub(defaultsFS, "defaults")
	if err != nil {
		panic(err)
	}
	return sub
}

// Origin tells where a source was resolved from
type Origin string

const (
	OriginFilesystem  Origin = "filesystem"
	OriginObjectStore Origin = "object-store"
	OriginBundled     Origin = "bundled"
)

// ObjectStore is a remote tier, such as an S3 bucket
type ObjectStore interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

type Resolver struct {
	objects ObjectStore
	bundled fs.FS
	logger  *slog.Logger
}

type Option func(*Resolver)

func WithObjectStore(store ObjectStore) Option {
	return func(r *Resolver) {
		r.objects = store
	}
}

// WithBundled replaces the bundled resources, mostly for tests
func WithBundled(fsys fs.FS) Option {
	return func(r *Resolver) {
		r.bundled = fsys
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		bundled: Bundled(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open resolves name and returns its contents. The caller closes the reader.
func (r *Resolver) Open(ctx context.Context, name string) (io.ReadCloser, Origin, error) {
	if info, err := os.Stat(name); err == nil && info.Mode().IsRegular() {
		f, err := os.Open(name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open %s: %w", name, err)
		}
		r.logger.Info("Loading source from filesystem path", "path", name)
		return f, OriginFilesystem, nil
	}

	if r.objects != nil {
		rc, err := r.objects.Open(ctx, name)
		switch {
		case err == nil:
			r.logger.Info("Loading source from object store", "name", name)
			return rc, OriginObjectStore, nil
		case !errors.Is(err, ErrObjectNotFound):
			return nil, "", fmt.Errorf("failed to read %s from object store: %w", name, err)
		}
	}

	if r.bundled != nil {
		for _, candidate := range bundledNames(name) {
			f, err := r.bundled.Open(candidate)
			if err == nil {
				r.logger.Info("Loading source from bundled resources", "name", candidate)
				return f, OriginBundled, nil
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, "", fmt.Errorf("failed to open bundled %s: %w", name, err)
			}
		}
	}

	return nil, "", fmt.Errorf("%w: %s", ErrSourceNotFound, name)
}

// bundledNames maps a configured path onto the bundled namespace: the path
// itself when it is a valid fs path, then its base name
func bundledNames(name string) []string {
	slashed := filepath.ToSlash(name)
	base := path.Base(slashed)
	if fs.ValidPath(slashed) && slashed != base {
		return []string{slashed, base}
	}
	return []string{base}
}
