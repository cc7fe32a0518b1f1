package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
)

func TestMemoryStore_StoreAndCommitOperatorRecord(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	logID := digest.OfSha256([]byte("operator-log"))
	recordID := digest.OfSha256([]byte("record-1"))
	env := initEnvelope(t)

	require.NoError(t, s.StoreOperatorRecord(ctx, logID, recordID, env))

	got, found, err := s.GetRecordStatus(ctx, logID, recordID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, StatusValidated, got.Status)

	require.NoError(t, s.CommitOperatorRecord(ctx, logID, recordID, 7))
	got, _, err = s.GetRecordStatus(ctx, logID, recordID)
	require.NoError(t, err)
	require.Equal(t, StatusPublished, got.Status)
	require.Equal(t, uint64(7), got.RegistryLogIndex)
}

func TestMemoryStore_RejectOperatorRecord(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	logID := digest.OfSha256([]byte("operator-log"))
	recordID := digest.OfSha256([]byte("record-1"))
	require.NoError(t, s.StoreOperatorRecord(ctx, logID, recordID, initEnvelope(t)))
	require.NoError(t, s.RejectOperatorRecord(ctx, logID, recordID, "KeyUnauthorized"))

	got, found, err := s.GetRecordStatus(ctx, logID, recordID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, StatusRejected, got.Status)
	require.Equal(t, "KeyUnauthorized", got.RejectReason)
}

func TestMemoryStore_ContentMissingClearsOnLastDigest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	logID := digest.OfSha256([]byte("package-log"))
	recordID := digest.OfSha256([]byte("record-1"))
	d1 := digest.OfSha256([]byte("content-1"))
	d2 := digest.OfSha256([]byte("content-2"))

	require.NoError(t, s.StorePackageRecord(ctx, logID, recordID, initEnvelope(t), []digest.Digest{d1, d2}))

	got, _, err := s.GetRecordStatus(ctx, logID, recordID)
	require.NoError(t, err)
	require.Equal(t, StatusMissingContent, got.Status)

	last, err := s.SetContentPresent(ctx, logID, recordID, d1)
	require.NoError(t, err)
	require.False(t, last)

	last, err = s.SetContentPresent(ctx, logID, recordID, d2)
	require.NoError(t, err)
	require.True(t, last)

	got, _, err = s.GetRecordStatus(ctx, logID, recordID)
	require.NoError(t, err)
	require.Equal(t, StatusValidated, got.Status)
}

func TestMemoryStore_GetAllValidatedRecordsOrdersPublishedThenPending(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	logID := digest.OfSha256([]byte("operator-log"))

	r1, r2, r3 := digest.OfSha256([]byte("r1")), digest.OfSha256([]byte("r2")), digest.OfSha256([]byte("r3"))
	require.NoError(t, s.StoreOperatorRecord(ctx, logID, r1, initEnvelope(t)))
	require.NoError(t, s.StoreOperatorRecord(ctx, logID, r2, initEnvelope(t)))
	require.NoError(t, s.StoreOperatorRecord(ctx, logID, r3, initEnvelope(t)))

	require.NoError(t, s.CommitOperatorRecord(ctx, logID, r2, 0))
	require.NoError(t, s.CommitOperatorRecord(ctx, logID, r1, 1))

	all, err := s.GetAllValidatedRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, StatusPublished, all[0].Record.Status)
	require.Equal(t, uint64(0), all[0].RegistryLogIndex)
	require.Equal(t, StatusPublished, all[1].Record.Status)
	require.Equal(t, uint64(1), all[1].RegistryLogIndex)
	require.Equal(t, StatusValidated, all[2].Record.Status)
	require.True(t, all[2].Record.RecordID.Equal(r3))
}

func TestMemoryStore_GetOperatorRecordsCursor(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	logID := digest.OfSha256([]byte("operator-log"))

	r1, r2, r3 := digest.OfSha256([]byte("r1")), digest.OfSha256([]byte("r2")), digest.OfSha256([]byte("r3"))
	require.NoError(t, s.StoreOperatorRecord(ctx, logID, r1, initEnvelope(t)))
	require.NoError(t, s.StoreOperatorRecord(ctx, logID, r2, initEnvelope(t)))
	require.NoError(t, s.StoreOperatorRecord(ctx, logID, r3, initEnvelope(t)))

	page, err := s.GetOperatorRecords(ctx, logID, r1, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, page[0].RecordID.Equal(r2))
	require.True(t, page[1].RecordID.Equal(r3))

	page, err = s.GetOperatorRecords(ctx, logID, digest.Digest{}, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.True(t, page[0].RecordID.Equal(r1))
}
