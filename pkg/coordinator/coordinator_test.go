package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/registry-sub001/pkg/checkpoint"
	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
	"github.com/bytecodealliance/registry-sub001/pkg/persistence"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/semverx"
	"github.com/bytecodealliance/registry-sub001/pkg/telemetry"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
)

func newTestCoordinator(t *testing.T) (*Coordinator, wargcrypto.Signer) {
	t.Helper()
	signer, err := wargcrypto.NewECDSAP256Signer()
	require.NoError(t, err)
	metrics, err := telemetry.New()
	require.NoError(t, err)
	store := persistence.NewMemoryStore()
	c := New(Config{Checkpoint: checkpoint.Config{Interval: 20 * time.Millisecond, ChannelCapacity: 8}}, signer, store, metrics)
	return c, signer
}

func TestCoordinator_StartBootstrapsEmptyRegistry(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	tcp, env := c.LatestCheckpoint()
	require.Equal(t, uint64(1), tcp.LogLength)
	require.NotEmpty(t, env.ContentBytes)
}

func TestCoordinator_SubmitOperatorGrantFlat(t *testing.T) {
	c, signer := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	other, err := wargcrypto.NewECDSAP256Signer()
	require.NoError(t, err)

	prev := c.operatorState.Head.RecordID
	rec := record.Record{
		Prev:      &prev,
		Version:   record.CurrentProtocolVersion,
		Timestamp: time.Now().UTC(),
		Entries:   []record.Entry{record.NewGrantFlatEntry(other.Public(), string(record.OperatorPermissionCommit))},
	}
	env, err := envelope.Seal(record.KindOperator, rec, signer)
	require.NoError(t, err)

	res, err := c.SubmitOperator(ctx, env)
	require.NoError(t, err)
	require.Equal(t, Accepted, res.Outcome)
}

func TestCoordinator_SubmitOperatorRejectedOnUnknownSigningKey(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	impostor, err := wargcrypto.NewECDSAP256Signer()
	require.NoError(t, err)

	prev := c.operatorState.Head.RecordID
	rec := record.Record{
		Prev:      &prev,
		Version:   record.CurrentProtocolVersion,
		Timestamp: time.Now().UTC(),
		Entries:   []record.Entry{record.NewGrantFlatEntry(impostor.Public(), string(record.OperatorPermissionCommit))},
	}
	env, err := envelope.Seal(record.KindOperator, rec, impostor)
	require.NoError(t, err)

	res, err := c.SubmitOperator(ctx, env)
	require.NoError(t, err)
	require.Equal(t, Rejected, res.Outcome)
	require.NotEmpty(t, res.Reason)

	status, found, err := c.GetRecordStatus(ctx, c.operatorLogID, res.RecordID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, persistence.StatusRejected, status.Status)
}

func packageLogID(t *testing.T) digest.Digest {
	t.Helper()
	pid, err := record.ParsePackageID("acme:json-parser")
	require.NoError(t, err)
	return record.PackageLogID(pid)
}

func TestCoordinator_SubmitPackageAwaitingContentThenPresent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	packageSigner, err := wargcrypto.NewECDSAP256Signer()
	require.NoError(t, err)
	logID := packageLogID(t)

	initRec := record.Record{
		Version:   record.CurrentProtocolVersion,
		Timestamp: time.Now().UTC(),
		Entries:   []record.Entry{record.NewInitEntry(digest.Sha256, packageSigner.Public())},
	}
	initEnv, err := envelope.Seal(record.KindPackage, initRec, packageSigner)
	require.NoError(t, err)

	res, err := c.SubmitPackage(ctx, logID, initEnv, nil)
	require.NoError(t, err)
	require.Equal(t, Accepted, res.Outcome)

	v, err := semverx.Parse("1.0.0")
	require.NoError(t, err)
	content := digest.OfSha256([]byte("wasm bytes"))

	prev := res.RecordID
	releaseRec := record.Record{
		Prev:      &prev,
		Version:   record.CurrentProtocolVersion,
		Timestamp: time.Now().UTC(),
		Entries:   []record.Entry{record.NewReleaseEntry(v, content)},
	}
	releaseEnv, err := envelope.Seal(record.KindPackage, releaseRec, packageSigner)
	require.NoError(t, err)

	res2, err := c.SubmitPackage(ctx, logID, releaseEnv, []digest.Digest{content})
	require.NoError(t, err)
	require.Equal(t, AwaitingContent, res2.Outcome)
	require.Len(t, res2.Missing, 1)

	status, found, err := c.GetRecordStatus(ctx, logID, res2.RecordID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, persistence.StatusMissingContent, status.Status)

	require.NoError(t, c.ContentPresent(ctx, logID, res2.RecordID, content))

	status, found, err = c.GetRecordStatus(ctx, logID, res2.RecordID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, persistence.StatusPublished, status.Status)
}

func TestCoordinator_ExpirePendingOnAwaitingContent(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	packageSigner, err := wargcrypto.NewECDSAP256Signer()
	require.NoError(t, err)
	logID := packageLogID(t)

	initRec := record.Record{
		Version:   record.CurrentProtocolVersion,
		Timestamp: time.Now().UTC(),
		Entries:   []record.Entry{record.NewInitEntry(digest.Sha256, packageSigner.Public())},
	}
	initEnv, err := envelope.Seal(record.KindPackage, initRec, packageSigner)
	require.NoError(t, err)
	res, err := c.SubmitPackage(ctx, logID, initEnv, nil)
	require.NoError(t, err)

	v, err := semverx.Parse("1.0.0")
	require.NoError(t, err)
	content := digest.OfSha256([]byte("wasm bytes"))
	prev := res.RecordID
	releaseRec := record.Record{
		Prev:      &prev,
		Version:   record.CurrentProtocolVersion,
		Timestamp: time.Now().UTC(),
		Entries:   []record.Entry{record.NewReleaseEntry(v, content)},
	}
	releaseEnv, err := envelope.Seal(record.KindPackage, releaseRec, packageSigner)
	require.NoError(t, err)
	res2, err := c.SubmitPackage(ctx, logID, releaseEnv, []digest.Digest{content})
	require.NoError(t, err)

	require.NoError(t, c.ExpirePending(ctx, logID, res2.RecordID, "content never arrived"))

	status, found, err := c.GetRecordStatus(ctx, logID, res2.RecordID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, persistence.StatusRejected, status.Status)
}

func TestCoordinator_VerifySignedCheckpoint(t *testing.T) {
	c, signer := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	_, env := c.LatestCheckpoint()
	require.Equal(t, Verified, c.VerifySignedCheckpoint(signer.Public(), env))

	stranger, err := wargcrypto.NewECDSAP256Signer()
	require.NoError(t, err)
	require.Equal(t, Unauthorized, c.VerifySignedCheckpoint(stranger.Public(), env))
}

func TestCoordinator_ProveLogInclusionAgainstBootstrapCheckpoint(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	bundle, err := c.ProveLogInclusion(1, []uint64{0})
	require.NoError(t, err)
	proofs, err := bundle.Unbundle()
	require.NoError(t, err)
	require.Contains(t, proofs, uint64(0))
}

func TestCoordinator_ProveMapInclusionAgainstBootstrapCheckpoint(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	bundle, err := c.ProveMapInclusion(1, []digest.Digest{c.operatorLogID})
	require.NoError(t, err)
	require.Len(t, bundle.Proofs, 1)

	tcp, _ := c.LatestCheckpoint()
	leaf := record.MapLeaf{RecordID: c.operatorState.Head.RecordID}
	require.True(t, bundle.Proofs[0].Evaluate(c.operatorLogID, leaf).Equal(tcp.MapRoot))
}

func TestCoordinator_ProveMapInclusionUnknownCheckpointLength(t *testing.T) {
	c, _ := newTestCoordinator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	_, err := c.ProveMapInclusion(999, []digest.Digest{c.operatorLogID})
	require.Error(t, err)
}
