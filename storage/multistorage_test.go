package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReplica struct {
	mock.Mock
	name string
}

func (m *mockReplica) Exists(ctx context.Context, folder, name string) (bool, error) {
	args := m.Called(ctx, folder, name)
	return args.Bool(0), args.Error(1)
}

func (m *mockReplica) Read(ctx context.Context, folder, name string) ([]byte, error) {
	args := m.Called(ctx, folder, name)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockReplica) Write(ctx context.Context, folder, name string, data []byte) error {
	return m.Called(ctx, folder, name, data).Error(0)
}

func (m *mockReplica) Delete(ctx context.Context, folder, name string) error {
	return m.Called(ctx, folder, name).Error(0)
}

func (m *mockReplica) Available(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *mockReplica) Name() string        { return m.name }
func (m *mockReplica) LocationURI() string { return "mock://" + m.name }

// replicas builds one mock per availability flag, named r0, r1, ...
func replicas(available ...bool) ([]*mockReplica, *ReplicatedStore) {
	mocks := make([]*mockReplica, len(available))
	stores := make([]interfaces.ArtifactStore, len(available))
	for i, up := range available {
		mocks[i] = &mockReplica{name: fmt.Sprintf("r%d", i)}
		mocks[i].On("Available", mock.Anything).Return(up).Maybe()
		stores[i] = mocks[i]
	}
	return mocks, NewReplicatedStore(stores, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func assertAll(t *testing.T, mocks []*mockReplica) {
	for _, m := range mocks {
		m.AssertExpectations(t)
	}
}

func TestReplicatedStore_Available(t *testing.T) {
	for name, tc := range map[string]struct {
		up   []bool
		want bool
	}{
		"all up":   {[]bool{true, true}, true},
		"one up":   {[]bool{false, true, false}, true},
		"all down": {[]bool{false, false}, false},
		"empty":    {nil, false},
	} {
		t.Run(name, func(t *testing.T) {
			_, store := replicas(tc.up...)
			require.Equal(t, tc.want, store.Available(context.Background()))
		})
	}
}

func TestReplicatedStore_Read(t *testing.T) {
	ctx := context.Background()
	payload := []byte("c2VhbGVk\n")
	boom := errors.New("boom")
	missing := fmt.Errorf("%w: p1/key.shard", interfaces.ErrNotFound)

	t.Run("first replica serves", func(t *testing.T) {
		mocks, store := replicas(true, true)
		mocks[0].On("Read", ctx, "p1", "key.shard").Return(payload, nil)

		data, err := store.Read(ctx, "p1", "key.shard")
		require.NoError(t, err)
		require.Equal(t, payload, data)
		mocks[1].AssertNotCalled(t, "Read", mock.Anything, mock.Anything, mock.Anything)
		assertAll(t, mocks)
	})

	t.Run("falls through errors and unavailable replicas", func(t *testing.T) {
		mocks, store := replicas(false, true, true)
		mocks[1].On("Read", ctx, "p1", "key.shard").Return(nil, boom)
		mocks[2].On("Read", ctx, "p1", "key.shard").Return(payload, nil)

		data, err := store.Read(ctx, "p1", "key.shard")
		require.NoError(t, err)
		require.Equal(t, payload, data)
		mocks[0].AssertNotCalled(t, "Read", mock.Anything, mock.Anything, mock.Anything)
		assertAll(t, mocks)
	})

	t.Run("missing everywhere", func(t *testing.T) {
		mocks, store := replicas(true, true)
		mocks[0].On("Read", ctx, "p1", "key.shard").Return(nil, missing)
		mocks[1].On("Read", ctx, "p1", "key.shard").Return(nil, missing)

		_, err := store.Read(ctx, "p1", "key.shard")
		require.ErrorIs(t, err, interfaces.ErrNotFound)
	})

	t.Run("a real failure is not reported as missing", func(t *testing.T) {
		mocks, store := replicas(true, true)
		mocks[0].On("Read", ctx, "p1", "key.shard").Return(nil, boom)
		mocks[1].On("Read", ctx, "p1", "key.shard").Return(nil, missing)

		_, err := store.Read(ctx, "p1", "key.shard")
		require.ErrorIs(t, err, boom)
	})

	t.Run("nothing reachable", func(t *testing.T) {
		_, store := replicas(false)
		_, err := store.Read(ctx, "p1", "key.shard")
		require.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	})
}

func TestReplicatedStore_Write(t *testing.T) {
	ctx := context.Background()
	payload := []byte("request")
	boom := errors.New("boom")

	t.Run("one success is enough", func(t *testing.T) {
		mocks, store := replicas(true, true)
		mocks[0].On("Write", ctx, "a,b", "key.request", payload).Return(boom)
		mocks[1].On("Write", ctx, "a,b", "key.request", payload).Return(nil)

		require.NoError(t, store.Write(ctx, "a,b", "key.request", payload))
		assertAll(t, mocks)
	})

	t.Run("writes every reachable replica", func(t *testing.T) {
		mocks, store := replicas(true, true)
		mocks[0].On("Write", ctx, "a,b", "key.request", payload).Return(nil).Once()
		mocks[1].On("Write", ctx, "a,b", "key.request", payload).Return(nil).Once()

		require.NoError(t, store.Write(ctx, "a,b", "key.request", payload))
		assertAll(t, mocks)
	})

	t.Run("fails when nothing took it", func(t *testing.T) {
		mocks, store := replicas(true, false)
		mocks[0].On("Write", ctx, "a,b", "key.request", payload).Return(boom)

		require.ErrorIs(t, store.Write(ctx, "a,b", "key.request", payload), boom)
		assertAll(t, mocks)
	})
}

func TestReplicatedStore_Delete(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	mocks, store := replicas(true, true, false)
	mocks[0].On("Delete", ctx, "a,b", "key.shard").Return(nil)
	mocks[1].On("Delete", ctx, "a,b", "key.shard").Return(boom)

	err := store.Delete(ctx, "a,b", "key.shard")
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	assertAll(t, mocks)
}

func TestReplicatedStore_Exists(t *testing.T) {
	ctx := context.Background()

	mocks, store := replicas(true, true)
	mocks[0].On("Exists", ctx, "p1", "key.pem").Return(false, nil)
	mocks[1].On("Exists", ctx, "p1", "key.pem").Return(true, nil)

	found, err := store.Exists(ctx, "p1", "key.pem")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "multi:[mock://r0,mock://r1]", store.LocationURI())
}
