package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// SQLStore implements Store over database/sql, grounded on the
// teacher's SQLLedger (store/ledger/sql_ledger.go): one struct wrapping
// *sql.DB, hand-written parameterized queries, Postgres in production
// via github.com/lib/pq, go-sqlmock in tests.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an already-opened database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS records (
	log_id TEXT NOT NULL,
	record_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	envelope_json TEXT NOT NULL,
	status TEXT NOT NULL,
	reject_reason TEXT NOT NULL DEFAULT '',
	registry_log_index BIGINT,
	seq BIGSERIAL,
	PRIMARY KEY (log_id, record_id)
);
CREATE TABLE IF NOT EXISTS content_missing (
	log_id TEXT NOT NULL,
	record_id TEXT NOT NULL,
	digest TEXT NOT NULL,
	PRIMARY KEY (log_id, record_id, digest)
);
CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id TEXT PRIMARY KEY,
	envelope_json TEXT NOT NULL,
	seq BIGSERIAL
);
`

// Init creates the schema if it does not already exist.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func marshalEnvelope(env envelope.Envelope) (string, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("persistence: marshal envelope: %w", err)
	}
	return string(b), nil
}

func unmarshalEnvelope(s string) (envelope.Envelope, error) {
	var env envelope.Envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return envelope.Envelope{}, fmt.Errorf("persistence: unmarshal envelope: %w", err)
	}
	return env, nil
}

func (s *SQLStore) store(ctx context.Context, kind string, logID, recordID digest.Digest, env envelope.Envelope, missing []digest.Digest) error {
	payload, err := marshalEnvelope(env)
	if err != nil {
		return err
	}
	status := StatusValidated
	if len(missing) > 0 {
		status = StatusMissingContent
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (log_id, record_id, kind, envelope_json, status)
		VALUES ($1, $2, $3, $4, $5)`,
		logID.String(), recordID.String(), kind, payload, string(status))
	if err != nil {
		return err
	}
	for _, d := range missing {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO content_missing (log_id, record_id, digest) VALUES ($1, $2, $3)`,
			logID.String(), recordID.String(), d.String()); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) StoreOperatorRecord(ctx context.Context, logID, recordID digest.Digest, env envelope.Envelope) error {
	return s.store(ctx, "operator", logID, recordID, env, nil)
}

func (s *SQLStore) StorePackageRecord(ctx context.Context, logID, recordID digest.Digest, env envelope.Envelope, missing []digest.Digest) error {
	return s.store(ctx, "package", logID, recordID, env, missing)
}

func (s *SQLStore) reject(ctx context.Context, logID, recordID digest.Digest, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET status = $1, reject_reason = $2 WHERE log_id = $3 AND record_id = $4`,
		string(StatusRejected), reason, logID.String(), recordID.String())
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *SQLStore) RejectOperatorRecord(ctx context.Context, logID, recordID digest.Digest, reason string) error {
	return s.reject(ctx, logID, recordID, reason)
}

func (s *SQLStore) RejectPackageRecord(ctx context.Context, logID, recordID digest.Digest, reason string) error {
	return s.reject(ctx, logID, recordID, reason)
}

func (s *SQLStore) commit(ctx context.Context, logID, recordID digest.Digest, registryLogIndex uint64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET status = $1, registry_log_index = $2 WHERE log_id = $3 AND record_id = $4`,
		string(StatusPublished), registryLogIndex, logID.String(), recordID.String())
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *SQLStore) CommitOperatorRecord(ctx context.Context, logID, recordID digest.Digest, registryLogIndex uint64) error {
	return s.commit(ctx, logID, recordID, registryLogIndex)
}

func (s *SQLStore) CommitPackageRecord(ctx context.Context, logID, recordID digest.Digest, registryLogIndex uint64) error {
	return s.commit(ctx, logID, recordID, registryLogIndex)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("persistence: %w", wargerr.RecordNotFound)
	}
	return nil
}

func (s *SQLStore) IsContentMissing(ctx context.Context, logID, recordID, d digest.Digest) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM content_missing WHERE log_id = $1 AND record_id = $2 AND digest = $3)`,
		logID.String(), recordID.String(), d.String()).Scan(&exists)
	return exists, err
}

func (s *SQLStore) SetContentPresent(ctx context.Context, logID, recordID, d digest.Digest) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM content_missing WHERE log_id = $1 AND record_id = $2 AND digest = $3`,
		logID.String(), recordID.String(), d.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	var remaining int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM content_missing WHERE log_id = $1 AND record_id = $2`,
		logID.String(), recordID.String()).Scan(&remaining); err != nil {
		return false, err
	}
	if remaining == 0 {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE records SET status = $1 WHERE log_id = $2 AND record_id = $3`,
			string(StatusValidated), logID.String(), recordID.String()); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *SQLStore) StoreCheckpoint(ctx context.Context, checkpointID digest.Digest, signed envelope.Envelope) error {
	payload, err := marshalEnvelope(signed)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (checkpoint_id, envelope_json) VALUES ($1, $2)`,
		checkpointID.String(), payload)
	return err
}

func (s *SQLStore) GetLatestCheckpoint(ctx context.Context) (envelope.Envelope, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT envelope_json FROM checkpoints ORDER BY seq DESC LIMIT 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return envelope.Envelope{}, false, nil
	}
	if err != nil {
		return envelope.Envelope{}, false, err
	}
	env, err := unmarshalEnvelope(payload)
	if err != nil {
		return envelope.Envelope{}, false, err
	}
	return env, true, nil
}

func scanRecord(rows interface{ Scan(...any) error }) (StoredRecord, error) {
	var recordID, payload, status, reason string
	var registryLogIndex sql.NullInt64
	if err := rows.Scan(&recordID, &payload, &status, &reason, &registryLogIndex); err != nil {
		return StoredRecord{}, err
	}
	id, err := digest.Parse(recordID)
	if err != nil {
		return StoredRecord{}, err
	}
	env, err := unmarshalEnvelope(payload)
	if err != nil {
		return StoredRecord{}, err
	}
	out := StoredRecord{RecordID: id, Envelope: env, Status: RecordStatus(status), RejectReason: reason}
	if registryLogIndex.Valid {
		out.RegistryLogIndex = uint64(registryLogIndex.Int64)
		out.HasLogIndex = true
	}
	return out, nil
}

func (s *SQLStore) recordsSince(ctx context.Context, kind string, logID, sinceRecordID digest.Digest, limit int) ([]StoredRecord, error) {
	sinceSeq := int64(0)
	if !sinceRecordID.IsZero() {
		if err := s.db.QueryRowContext(ctx, `
			SELECT seq FROM records WHERE log_id = $1 AND record_id = $2`,
			logID.String(), sinceRecordID.String()).Scan(&sinceSeq); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	query := `
		SELECT record_id, envelope_json, status, reject_reason, registry_log_index
		FROM records WHERE log_id = $1 AND kind = $2 AND seq > $3 ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, logID.String(), kind, sinceSeq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []StoredRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetOperatorRecords(ctx context.Context, logID, sinceRecordID digest.Digest, limit int) ([]StoredRecord, error) {
	return s.recordsSince(ctx, "operator", logID, sinceRecordID, limit)
}

func (s *SQLStore) GetPackageRecords(ctx context.Context, logID, sinceRecordID digest.Digest, limit int) ([]StoredRecord, error) {
	return s.recordsSince(ctx, "package", logID, sinceRecordID, limit)
}

func (s *SQLStore) GetRecordStatus(ctx context.Context, logID, recordID digest.Digest) (StoredRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT record_id, envelope_json, status, reject_reason, registry_log_index
		FROM records WHERE log_id = $1 AND record_id = $2`,
		logID.String(), recordID.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredRecord{}, false, nil
	}
	if err != nil {
		return StoredRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLStore) GetAllCheckpoints(ctx context.Context) ([]StoredCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT checkpoint_id, envelope_json FROM checkpoints ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []StoredCheckpoint
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		cid, err := digest.Parse(id)
		if err != nil {
			return nil, err
		}
		env, err := unmarshalEnvelope(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, StoredCheckpoint{CheckpointID: cid, Envelope: env})
	}
	return out, rows.Err()
}

func (s *SQLStore) GetAllValidatedRecords(ctx context.Context) ([]ReplayRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT log_id, kind, record_id, envelope_json, status, reject_reason, registry_log_index
		FROM records WHERE status IN ($1, $2) ORDER BY (registry_log_index IS NULL) ASC, registry_log_index ASC, seq ASC`,
		string(StatusPublished), string(StatusValidated))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ReplayRecord
	for rows.Next() {
		var logIDStr, kind, recordID, payload, status, reason string
		var registryLogIndex sql.NullInt64
		if err := rows.Scan(&logIDStr, &kind, &recordID, &payload, &status, &reason, &registryLogIndex); err != nil {
			return nil, err
		}
		logID, err := digest.Parse(logIDStr)
		if err != nil {
			return nil, err
		}
		id, err := digest.Parse(recordID)
		if err != nil {
			return nil, err
		}
		env, err := unmarshalEnvelope(payload)
		if err != nil {
			return nil, err
		}
		rec := StoredRecord{RecordID: id, Envelope: env, Status: RecordStatus(status), RejectReason: reason}
		if registryLogIndex.Valid {
			rec.RegistryLogIndex = uint64(registryLogIndex.Int64)
			rec.HasLogIndex = true
		}
		out = append(out, ReplayRecord{LogID: logID, IsOperatorLog: kind == "operator", RegistryLogIndex: rec.RegistryLogIndex, Record: rec})
	}
	return out, rows.Err()
}
