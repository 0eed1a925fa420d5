package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjectStore struct {
	objects map[string]string
	err     error
}

func (f *fakeObjectStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[filepath.Base(name)]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestResolver_Open(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "users.yaml")
	require.NoError(t, os.WriteFile(localPath, []byte("local"), 0o600))

	bundled := fstest.MapFS{
		"users.yaml":   {Data: []byte("bundled")},
		"clients.yaml": {Data: []byte("bundled-clients")},
	}
	objects := &fakeObjectStore{objects: map[string]string{"clients.yaml": "remote-clients"}}

	tests := []struct {
		name       string
		path       string
		objects    ObjectStore
		wantOrigin Origin
		wantBody   string
	}{
		{name: "filesystem wins", path: localPath, objects: objects, wantOrigin: OriginFilesystem, wantBody: "local"},
		{name: "object store before bundled", path: "clients.yaml", objects: objects, wantOrigin: OriginObjectStore, wantBody: "remote-clients"},
		{name: "bundled fallback", path: "clients.yaml", wantOrigin: OriginBundled, wantBody: "bundled-clients"},
		{name: "directory is not a source", path: dir + "/../" + filepath.Base(dir), objects: nil, wantOrigin: "", wantBody: ""},
		{name: "bundled by base name", path: filepath.Join(dir, "missing", "users.yaml"), wantOrigin: OriginBundled, wantBody: "bundled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts := []Option{WithBundled(bundled)}
			if tt.objects != nil {
				opts = append(opts, WithObjectStore(tt.objects))
			}
			r := NewResolver(opts...)

			rc, origin, err := r.Open(context.Background(), tt.path)
			if tt.wantOrigin == "" {
				assert.ErrorIs(t, err, ErrSourceNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrigin, origin)
			assert.Equal(t, tt.wantBody, readAll(t, rc))
		})
	}
}

func TestResolver_NotFound(t *testing.T) {
	t.Parallel()
	r := NewResolver(WithBundled(fstest.MapFS{}))

	_, _, err := r.Open(context.Background(), "nothing.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.Contains(t, err.Error(), "nothing.yaml")
}

func TestResolver_ObjectStoreFailureIsFatal(t *testing.T) {
	t.Parallel()
	broken := &fakeObjectStore{err: errors.New("connection refused")}
	r := NewResolver(WithBundled(fstest.MapFS{"users.yaml": {Data: []byte("x")}}), WithObjectStore(broken))

	_, _, err := r.Open(context.Background(), "users.yaml")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSourceNotFound)
}

func TestBundledDefaults(t *testing.T) {
	t.Parallel()
	r := NewResolver()

	for _, name := range []string{"clients.yaml", "users.yaml"} {
		rc, origin, err := r.Open(context.Background(), name)
		require.NoError(t, err, name)
		assert.Equal(t, OriginBundled, origin)
		assert.NotEmpty(t, readAll(t, rc))
	}
}
