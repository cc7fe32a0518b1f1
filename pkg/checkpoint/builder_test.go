package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/persistence"
	"github.com/bytecodealliance/registry-sub001/pkg/sparsemap"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
)

func testSigner(t *testing.T) wargcrypto.Signer {
	t.Helper()
	s, err := wargcrypto.NewECDSAP256Signer()
	require.NoError(t, err)
	return s
}

func TestBuilder_SubmitAssignsSequentialIndices(t *testing.T) {
	signer := testSigner(t)
	store := persistence.NewMemoryStore()
	b := NewBuilder(Config{Interval: 20 * time.Millisecond, ChannelCapacity: 4}, signer, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx, sparsemap.New())
	defer b.Stop()

	logID := digest.OfSha256([]byte("log-a"))
	for i := 0; i < 3; i++ {
		recordID := digest.OfSha256([]byte{byte(i)})
		idx, err := b.Submit(ctx, Leaf{LogID: logID, RecordID: recordID})
		require.NoError(t, err)
		require.Equal(t, uint64(i), idx)
	}
}

func TestBuilder_NoOpTickWhenNoLeavesAdded(t *testing.T) {
	signer := testSigner(t)
	store := persistence.NewMemoryStore()
	b := NewBuilder(Config{Interval: 15 * time.Millisecond, ChannelCapacity: 4}, signer, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx, sparsemap.New())
	defer b.Stop()

	time.Sleep(60 * time.Millisecond)
	_, found, err := store.GetLatestCheckpoint(context.Background())
	require.NoError(t, err)
	require.False(t, found, "no checkpoint should be emitted when no leaves were submitted")
}

func TestBuilder_TickEmitsSignedCheckpointCoveringSubmittedLeaves(t *testing.T) {
	signer := testSigner(t)
	store := persistence.NewMemoryStore()
	b := NewBuilder(Config{Interval: 15 * time.Millisecond, ChannelCapacity: 4}, signer, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx, sparsemap.New())
	defer b.Stop()

	logID := digest.OfSha256([]byte("log-a"))
	recordID := digest.OfSha256([]byte("record-a"))
	idx, err := b.Submit(ctx, Leaf{LogID: logID, RecordID: recordID})
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)

	select {
	case signed := <-b.Checkpoints():
		require.Equal(t, uint64(1), signed.Checkpoint.LogLength)
		ok, err := Verify(signed.Envelope, signer.Public())
		require.NoError(t, err)
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for checkpoint")
	}

	env, found, err := store.GetLatestCheckpoint(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	cp, err := Decode(env)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp.LogLength)
}

func TestBuilder_RestoreReproducesPriorLogState(t *testing.T) {
	signer := testSigner(t)
	store := persistence.NewMemoryStore()
	logID := digest.OfSha256([]byte("log-a"))
	recordID := digest.OfSha256([]byte("record-a"))

	b1 := NewBuilder(Config{Interval: time.Hour, ChannelCapacity: 4}, signer, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	b1.Start(ctx, sparsemap.New())
	_, err := b1.Submit(ctx, Leaf{LogID: logID, RecordID: recordID})
	require.NoError(t, err)
	b1.Stop()
	cancel()

	b2 := NewBuilder(Config{Interval: time.Hour, ChannelCapacity: 4}, signer, store, nil)
	b2.Restore([]Leaf{{LogID: logID, RecordID: recordID}})
	require.Equal(t, uint64(1), b2.Tree().Length())

	root1, err := b1.Tree().RootAt(1)
	require.NoError(t, err)
	root2, err := b2.Tree().RootAt(1)
	require.NoError(t, err)
	require.True(t, root1.Equal(root2))
}

func TestVerify_RejectsWrongKey(t *testing.T) {
	signer := testSigner(t)
	other := testSigner(t)
	tcp := TimestampedCheckpoint{
		Checkpoint: Checkpoint{LogRoot: digest.OfSha256(nil), LogLength: 0, MapRoot: digest.OfSha256(nil)},
		Timestamp:  time.Now().UTC(),
	}
	env, err := Seal(tcp, signer)
	require.NoError(t, err)

	ok, err := Verify(env, other.Public())
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = Verify(env, signer.Public())
	require.NoError(t, err)
	require.True(t, ok)
}
