package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestBackends opens one backend per embedded engine, each on its
// own temp dir. The S3 backend is covered by integration environments;
// its request construction has no local behavior worth faking here.
func newTestBackends(t *testing.T) map[string]Backend {
	t.Helper()

	badgerBackend, err := NewBadgerBackend(Config{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { badgerBackend.Close() })

	pebbleBackend, err := NewPebbleBackend(Config{Root: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { pebbleBackend.Close() })

	return map[string]Backend{
		"badger": badgerBackend,
		"pebble": pebbleBackend,
	}
}

func TestBackendPutGet(t *testing.T) {
	ctx := context.Background()

	for name, backend := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte("hello filevault")
			err := backend.Put(ctx, "acme/docs/hello.txt", data, "text/plain", "")
			require.NoError(t, err)

			got, err := backend.Get(ctx, "acme/docs/hello.txt")
			require.NoError(t, err)
			assert.Equal(t, data, got)

			// Re-putting identical bytes is not an error
			err = backend.Put(ctx, "acme/docs/hello.txt", data, "text/plain", "")
			assert.NoError(t, err)
		})
	}
}

func TestBackendGetMissing(t *testing.T) {
	ctx := context.Background()

	for name, backend := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := backend.Get(ctx, "acme/absent.txt")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackendDigestVerification(t *testing.T) {
	ctx := context.Background()
	data := []byte("digest me")
	sum := md5.Sum(data)
	good := hex.EncodeToString(sum[:])

	for name, backend := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := backend.Put(ctx, "acme/digest.bin", data, "application/octet-stream", good)
			require.NoError(t, err)

			err = backend.Put(ctx, "acme/digest.bin", data, "application/octet-stream", "00000000000000000000000000000000")
			assert.ErrorIs(t, err, ErrDigestMismatch)

			// Rejected write must not clobber the stored bytes
			got, err := backend.Get(ctx, "acme/digest.bin")
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestBackendList(t *testing.T) {
	ctx := context.Background()

	for name, backend := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, backend.Put(ctx, "acme/a.txt", []byte("a"), "text/plain", ""))
			require.NoError(t, backend.Put(ctx, "acme/b/c.txt", []byte("c"), "text/plain", ""))
			require.NoError(t, backend.Put(ctx, "other/d.txt", []byte("d"), "text/plain", ""))

			records, err := backend.List(ctx, "acme/")
			require.NoError(t, err)
			require.Len(t, records, 2)

			keys := []string{records[0].Key, records[1].Key}
			assert.Contains(t, keys, "acme/a.txt")
			assert.Contains(t, keys, "acme/b/c.txt")
			for _, rec := range records {
				assert.Equal(t, "text/plain", rec.ContentType)
				assert.NotZero(t, rec.LastModified)
			}

			records, err = backend.List(ctx, "nothing/")
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestBackendRemoveIdempotent(t *testing.T) {
	ctx := context.Background()

	for name, backend := range newTestBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, backend.Put(ctx, "acme/gone.txt", []byte("x"), "text/plain", ""))
			require.NoError(t, backend.Remove(ctx, "acme/gone.txt"))

			_, err := backend.Get(ctx, "acme/gone.txt")
			assert.ErrorIs(t, err, ErrNotFound)

			// Removing again is not an error and leaves storage unchanged
			require.NoError(t, backend.Remove(ctx, "acme/gone.txt"))

			records, err := backend.List(ctx, "acme/")
			require.NoError(t, err)
			assert.Empty(t, records)
		})
	}
}

func TestNewBackendUnknown(t *testing.T) {
	_, err := NewBackend(Config{Backend: "tape"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage backend")
}
