package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
)

func TestSQLStore_StoreOperatorRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)
	ctx := context.Background()

	logID := record.OperatorLogID()
	recordID := digest.OfSha256([]byte("record-1"))
	env := initEnvelope(t)

	mock.ExpectExec("INSERT INTO records").
		WithArgs(logID.String(), recordID.String(), "operator", sqlmock.AnyArg(), string(StatusValidated)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.StoreOperatorRecord(ctx, logID, recordID, env))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CommitOperatorRecord_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := NewSQLStore(db)
	ctx := context.Background()

	logID := record.OperatorLogID()
	recordID := digest.OfSha256([]byte("missing"))

	mock.ExpectExec("UPDATE records").
		WithArgs(string(StatusPublished), uint64(1), logID.String(), recordID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.CommitOperatorRecord(ctx, logID, recordID, 1)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// initEnvelope builds a sealed Init record envelope for use as test
// fixture data; the content of the envelope is irrelevant to these
// tests, only that it round-trips through marshalEnvelope/unmarshalEnvelope.
func initEnvelope(t *testing.T) envelope.Envelope {
	t.Helper()
	signer, err := wargcrypto.NewECDSAP256Signer()
	require.NoError(t, err)
	rec := record.Record{
		Version:   record.CurrentProtocolVersion,
		Timestamp: time.Unix(0, 0).UTC(),
		Entries:   []record.Entry{record.NewInitEntry(digest.Sha256, signer.Public())},
	}
	sealed, err := envelope.Seal(record.KindOperator, rec, signer)
	require.NoError(t, err)
	return sealed
}
