package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := NewFileBackend(dir, logger)
	require.NoError(t, err)
	require.True(t, backend.Available(ctx))
	require.Equal(t, "file://"+dir, backend.LocationURI())

	found, err := backend.Exists(ctx, "alice,bob", "vault.shard")
	require.NoError(t, err)
	require.False(t, found)

	_, err = backend.Read(ctx, "alice,bob", "vault.shard")
	require.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, backend.Write(ctx, "alice,bob", "vault.shard", []byte("first\n")))
	require.NoError(t, backend.Write(ctx, "alice,bob", "vault.shard", []byte("second\n")))

	data, err := backend.Read(ctx, "alice,bob", "vault.shard")
	require.NoError(t, err)
	require.Equal(t, []byte("second\n"), data)

	info, err := os.Stat(filepath.Join(dir, "alice,bob", "vault.shard"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "alice,bob"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, backend.Delete(ctx, "alice,bob", "vault.shard"))
	found, err = backend.Exists(ctx, "alice,bob", "vault.shard")
	require.NoError(t, err)
	require.False(t, found)

	// Deleting a missing artifact is fine.
	require.NoError(t, backend.Delete(ctx, "alice,bob", "vault.shard"))
}

func TestFileBackend_RejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend, err := NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	for _, tc := range []struct{ folder, name string }{
		{"..", "x.shard"},
		{"alice", "../x.shard"},
		{"a/b", "x.shard"},
		{"", "x.shard"},
		{"alice", ""},
	} {
		err := backend.Write(ctx, tc.folder, tc.name, []byte("x"))
		require.ErrorIs(t, err, interfaces.ErrInvalidArtifactPath, "%q/%q", tc.folder, tc.name)
	}
}

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend()

	require.NoError(t, m.Write(ctx, "p1", "k.shard", []byte("abc")))
	data, err := m.Read(ctx, "p1", "k.shard")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), data)

	// Returned slices are copies.
	data[0] = 'x'
	again, err := m.Read(ctx, "p1", "k.shard")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)

	require.Equal(t, []string{"p1/k.shard"}, m.Keys())
	require.NoError(t, m.Delete(ctx, "p1", "k.shard"))
	_, err = m.Read(ctx, "p1", "k.shard")
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestStorageBackendFactory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := NewStorageBackendFactory(logger)
	dir := t.TempDir()

	backend, err := factory.StorageBackendFor("file://" + dir)
	require.NoError(t, err)
	require.IsType(t, &FileBackend{}, backend)

	backend, err = factory.StorageBackendFor(dir)
	require.NoError(t, err)
	require.IsType(t, &FileBackend{}, backend)

	backend, err = factory.StorageBackendFor("s3://bucket/keymaster?region=eu-west-1")
	require.NoError(t, err)
	require.IsType(t, &S3Backend{}, backend)
	require.Equal(t, "s3-bucket", backend.Name())

	backend, err = factory.StorageBackendFor("vault://token@vault.internal:8200/secret/keymaster")
	require.NoError(t, err)
	require.IsType(t, &VaultBackend{}, backend)
	require.Equal(t, "vault-secret-keymaster", backend.Name())

	_, err = factory.StorageBackendFor("ipfs://localhost:5001")
	require.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	multi, err := factory.CreateMultiBackend([]string{dir, "file://" + t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &ReplicatedStore{}, multi)

	_, err = factory.CreateMultiBackend(nil)
	require.ErrorIs(t, err, interfaces.ErrConfig)
}
