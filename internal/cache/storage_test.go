package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns a fresh instance of every storage backend
func backends(t *testing.T) map[string]Storage {
	t.Helper()

	disk, err := New(BackendDisk, t.TempDir())
	require.NoError(t, err)
	sqlite, err := New(BackendSQLite, t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = disk.Close()
		_ = sqlite.Close()
	})
	return map[string]Storage{BackendDisk: disk, BackendSQLite: sqlite}
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := New("memcached", t.TempDir())
	assert.Error(t, err)
}

func TestStorageSetAndGet(t *testing.T) {
	ctx := context.Background()
	for name, storage := range backends(t) {
		t.Run(name, func(t *testing.T) {
			bucket, err := storage.Open(ctx, "app-cache-v1")
			require.NoError(t, err)
			assert.Equal(t, "app-cache-v1", bucket.Name())

			_, err = bucket.Get(ctx, "GET http://example.com/")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, bucket.Set(ctx, "GET http://example.com/", []byte("first")))
			require.NoError(t, bucket.Set(ctx, "GET http://example.com/", []byte("second")))

			data, err := bucket.Get(ctx, "GET http://example.com/")
			require.NoError(t, err)
			assert.Equal(t, "second", string(data))

			keys, err := bucket.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"GET http://example.com/"}, keys)
		})
	}
}

func TestBucketDelete(t *testing.T) {
	ctx := context.Background()
	for name, storage := range backends(t) {
		t.Run(name, func(t *testing.T) {
			bucket, err := storage.Open(ctx, "app-cache-v1")
			require.NoError(t, err)

			require.NoError(t, bucket.Set(ctx, "GET http://example.com/", []byte("index")))
			require.NoError(t, bucket.Set(ctx, "GET http://example.com/app.js", []byte("app")))
			require.NoError(t, bucket.Delete(ctx, "GET http://example.com/"))
			require.NoError(t, bucket.Delete(ctx, "GET http://example.com/missing"))

			_, err = bucket.Get(ctx, "GET http://example.com/")
			assert.ErrorIs(t, err, ErrNotFound)

			keys, err := bucket.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"GET http://example.com/app.js"}, keys)
		})
	}
}

func TestStorageGenerations(t *testing.T) {
	ctx := context.Background()
	for name, storage := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, gen := range []string{"v1", "v2", "v3"} {
				bucket, err := storage.Open(ctx, gen)
				require.NoError(t, err)
				require.NoError(t, bucket.Set(ctx, "GET http://example.com/"+gen, []byte(gen)))
			}

			gens, err := storage.Generations(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"v1", "v2", "v3"}, gens)

			require.NoError(t, storage.Delete(ctx, "v2"))
			require.NoError(t, storage.Delete(ctx, "never-existed"))

			gens, err = storage.Generations(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"v1", "v3"}, gens)

			// reopening a deleted generation starts empty
			bucket, err := storage.Open(ctx, "v2")
			require.NoError(t, err)
			keys, err := bucket.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestStorageRejectsInvalidGeneration(t *testing.T) {
	ctx := context.Background()
	for name, storage := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, gen := range []string{"", "../escape", ".hidden"} {
				_, err := storage.Open(ctx, gen)
				assert.Error(t, err, "generation %q", gen)
			}
		})
	}
}

func TestDiskStorageLayout(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()
	cacheDir := filepath.Join(tempDir, "new", "cache", "dir")

	storage, err := NewDisk(cacheDir)
	require.NoError(t, err)

	bucket, err := storage.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, bucket.Set(ctx, "GET http://example.com/a", []byte("a")))

	files, err := os.ReadDir(filepath.Join(cacheDir, "v1"))
	require.NoError(t, err)
	require.Len(t, files, 1, "temporary files must not be left behind")
	assert.Equal(t, ".bin", filepath.Ext(files[0].Name()))
}

func TestDiskStorageRejectsNewlineKey(t *testing.T) {
	ctx := context.Background()
	storage, err := NewDisk(t.TempDir())
	require.NoError(t, err)

	bucket, err := storage.Open(ctx, "v1")
	require.NoError(t, err)
	assert.Error(t, bucket.Set(ctx, "GET http://example.com/\nx", []byte("a")))
}
