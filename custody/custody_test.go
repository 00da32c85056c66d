package custody

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ruteri/sealed-keymaster/cryptoutils"
	"github.com/ruteri/sealed-keymaster/interfaces"
	"github.com/ruteri/sealed-keymaster/keymaster"
	"github.com/ruteri/sealed-keymaster/kms"
	"github.com/ruteri/sealed-keymaster/prompt"
	"github.com/ruteri/sealed-keymaster/storage"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("disk full")

// failingStore refuses writes into one folder.
type failingStore struct {
	*storage.MemoryBackend
	failFolder string
}

func (f *failingStore) Write(ctx context.Context, folder, name string, data []byte) error {
	if folder == f.failFolder {
		return errInjected
	}
	return f.MemoryBackend.Write(ctx, folder, name, data)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func identity(me string) interfaces.Identity {
	return interfaces.Identity{Me: me, Keyname: "vault"}
}

func TestScenarioA_AcceptVerifyCombine(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	c := NewCustodian(store, nil, testLogger())

	secret, err := kms.NewSecret()
	require.NoError(t, err)
	shares, err := kms.SplitSecret(secret, 3, 2)
	require.NoError(t, err)

	refs, err := keymaster.ParseList("p1,p2,p3")
	require.NoError(t, err)
	require.NoError(t, c.Distribute(ctx, identity("p1"), refs, shares))

	require.Equal(t, []string{"p1,p2/vault.shard", "p1,p3/vault.shard", "p1/vault.shard"}, store.Keys())

	passwords := map[string]string{"p1": "pw-one", "p2": "pw-two", "p3": "pw-three"}
	for _, me := range []string{"p1", "p2", "p3"} {
		dest, err := c.Accept(ctx, identity(me), "p1", "", prompt.NewScripted(passwords[me]))
		require.NoError(t, err, me)
		require.Equal(t, me+"/vault.shard", dest)
	}

	// Raw copies are gone from the shared folders; the self copy was replaced in place.
	require.Equal(t, []string{"p1/vault.shard", "p2/vault.shard", "p3/vault.shard"}, store.Keys())

	reopened := make([][]byte, 0, 3)
	for _, me := range []string{"p1", "p2", "p3"} {
		require.NoError(t, c.Verify(ctx, identity(me), "", passwords[me]))

		share, err := c.ReadShard(ctx, identity(me), "", passwords[me])
		require.NoError(t, err)
		reopened = append(reopened, share)

		state, err := c.State(ctx, identity(me), keymaster.Ref{Party: me})
		require.NoError(t, err)
		require.Equal(t, StateAccepted, state)
	}

	for _, pair := range [][2]int{{0, 1}, {0, 2}, {1, 2}} {
		got, err := kms.CombineSecret([][]byte{reopened[pair[0]], reopened[pair[1]]})
		require.NoError(t, err)
		require.Equal(t, secret, got)
	}
}

func TestAccept_AlreadyMovedIsNotFound(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	c := NewCustodian(store, nil, testLogger())

	secret, err := kms.NewSecret()
	require.NoError(t, err)
	shares, err := kms.SplitSecret(secret, 2, 2)
	require.NoError(t, err)
	refs, err := keymaster.ParseList("p1,p2")
	require.NoError(t, err)
	require.NoError(t, c.Distribute(ctx, identity("p1"), refs, shares))

	_, err = c.Accept(ctx, identity("p2"), "p1", "", prompt.NewScripted("pw"))
	require.NoError(t, err)

	scripted := prompt.NewScripted("pw")
	_, err = c.Accept(ctx, identity("p2"), "p1", "", scripted)
	require.ErrorIs(t, err, interfaces.ErrNotFound)
	require.Empty(t, scripted.Asked(), "no password is requested for a missing shard")

	_, err = c.Accept(ctx, identity("p1"), "p1", "", prompt.NewScripted("pw"))
	require.NoError(t, err)
	_, err = c.Accept(ctx, identity("p1"), "p1", "", prompt.NewScripted("pw"))
	require.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestVerify_WrongPassword(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	c := NewCustodian(store, nil, testLogger())

	secret, err := kms.NewSecret()
	require.NoError(t, err)
	shares, err := kms.SplitSecret(secret, 2, 2)
	require.NoError(t, err)
	refs, err := keymaster.ParseList("p1,p2#backup")
	require.NoError(t, err)
	require.NoError(t, c.Distribute(ctx, identity("p1"), refs, shares))

	dest, err := c.Accept(ctx, identity("p2"), "p1", "backup", prompt.NewScripted("right"))
	require.NoError(t, err)
	require.Equal(t, "p2/vault.backup.shard", dest)

	require.NoError(t, c.Verify(ctx, identity("p2"), "backup", "right"))
	require.ErrorIs(t, c.Verify(ctx, identity("p2"), "backup", "wrong"), interfaces.ErrIntegrity)
	require.ErrorIs(t, c.Verify(ctx, identity("p2"), "", "right"), interfaces.ErrNotFound)
}

func TestAccept_WriteFailureEchoesSealedShard(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryBackend: storage.NewMemoryBackend(), failFolder: "p2"}
	var console bytes.Buffer
	c := NewCustodian(store, &console, testLogger())

	secret, err := kms.NewSecret()
	require.NoError(t, err)
	shares, err := kms.SplitSecret(secret, 2, 2)
	require.NoError(t, err)
	refs, err := keymaster.ParseList("p1,p2")
	require.NoError(t, err)
	require.NoError(t, c.Distribute(ctx, identity("p1"), refs, shares))

	_, err = c.Accept(ctx, identity("p2"), "p1", "", prompt.NewScripted("pw"))
	require.ErrorIs(t, err, interfaces.ErrWriteFailure)
	require.ErrorIs(t, err, errInjected)

	// The raw copy is kept and the sealed shard was printed.
	found, err := store.Exists(ctx, "p1,p2", "vault.shard")
	require.NoError(t, err)
	require.True(t, found)

	lines := strings.Split(strings.TrimSpace(console.String()), "\n")
	envelope, err := cryptoutils.DecodeEnvelope(lines[len(lines)-1])
	require.NoError(t, err)
	share, err := cryptoutils.OpenWithPassword("pw", envelope)
	require.NoError(t, err)
	require.Equal(t, shares[1], share)
}

func TestDistribute_WriteFailureEchoesRawShard(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryBackend: storage.NewMemoryBackend(), failFolder: "p1,p3"}
	var console bytes.Buffer
	c := NewCustodian(store, &console, testLogger())

	secret, err := kms.NewSecret()
	require.NoError(t, err)
	shares, err := kms.SplitSecret(secret, 3, 3)
	require.NoError(t, err)
	refs, err := keymaster.ParseList("p1,p2,p3")
	require.NoError(t, err)

	err = c.Distribute(ctx, identity("p1"), refs, shares)
	require.ErrorIs(t, err, interfaces.ErrWriteFailure)
	require.ErrorIs(t, err, errInjected)
	require.Contains(t, err.Error(), "1 of 3 shards not written")
	require.Contains(t, err.Error(), "p1,p3/vault.shard")

	// The other shards still landed.
	require.Equal(t, []string{"p1,p2/vault.shard", "p1/vault.shard"}, store.Keys())

	// The missing shard can be recovered from the console.
	lines := strings.Split(strings.TrimSpace(console.String()), "\n")
	require.Contains(t, lines[0], "p3")
	share, err := kms.DecodeShare(lines[len(lines)-1])
	require.NoError(t, err)
	require.Equal(t, shares[2], share)

	got, err := kms.CombineSecret([][]byte{shares[0], shares[1], share})
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

func TestPendingAndState(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	c := NewCustodian(store, nil, testLogger())

	secret, err := kms.NewSecret()
	require.NoError(t, err)
	shares, err := kms.SplitSecret(secret, 3, 2)
	require.NoError(t, err)
	refs, err := keymaster.ParseList("p1,p2,p3")
	require.NoError(t, err)
	require.NoError(t, c.Distribute(ctx, identity("p1"), refs, shares))

	pending, err := c.Pending(ctx, identity("p1"), refs)
	require.NoError(t, err)
	require.Equal(t, refs[1:], pending)

	state, err := c.State(ctx, identity("p1"), refs[0])
	require.NoError(t, err)
	require.Equal(t, StateRaw, state)

	_, err = c.Accept(ctx, identity("p2"), "p1", "", prompt.NewScripted("pw"))
	require.NoError(t, err)

	pending, err = c.Pending(ctx, identity("p1"), refs)
	require.NoError(t, err)
	require.Equal(t, refs[2:], pending)

	state, err = c.State(ctx, identity("p1"), refs[1])
	require.NoError(t, err)
	require.Equal(t, StateAbsent, state)
}

func TestDistribute_Validation(t *testing.T) {
	ctx := context.Background()
	c := NewCustodian(storage.NewMemoryBackend(), nil, testLogger())

	refs, err := keymaster.ParseList("p1,p2")
	require.NoError(t, err)

	err = c.Distribute(ctx, interfaces.Identity{Me: "p1"}, refs, [][]byte{{1, 2}, {3, 4}})
	require.ErrorIs(t, err, interfaces.ErrConfig)

	err = c.Distribute(ctx, identity("p1"), refs, [][]byte{{1, 2}})
	require.ErrorIs(t, err, interfaces.ErrInvalidArgument)

	dup, err := keymaster.ParseList("p2,p2")
	require.NoError(t, err)
	err = c.Distribute(ctx, identity("p1"), dup, [][]byte{{1, 2}, {3, 4}})
	require.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}
