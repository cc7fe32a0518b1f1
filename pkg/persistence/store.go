// Package persistence is the external record-persistence collaborator
// C9 consumes (§6): storing submitted envelopes, tracking content
// the coordinator is still waiting on, committing records into the
// global log order, and replaying history on startup. The core never
// reaches into a database directly, every access goes through Store.
package persistence

import (
	"context"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
)

// RecordStatus is what get_record_status reports for a submitted record.
type RecordStatus string

const (
	StatusMissingContent RecordStatus = "missing_content"
	StatusRejected       RecordStatus = "rejected"
	StatusValidated      RecordStatus = "validated"
	StatusPublished      RecordStatus = "published"
)

// StoredRecord is one record as the persistence collaborator tracks it.
type StoredRecord struct {
	RecordID         digest.Digest
	Envelope         envelope.Envelope
	Status           RecordStatus
	RejectReason     string
	Missing          map[string]struct{} // digest.String() -> still missing
	RegistryLogIndex uint64
	HasLogIndex      bool
}

// StoredCheckpoint is one signed checkpoint as persisted.
type StoredCheckpoint struct {
	CheckpointID digest.Digest
	Envelope     envelope.Envelope
}

// Store is the persistence collaborator interface of §6. All
// methods are safe for concurrent use; per-log serializability and
// read-your-writes are the only guarantees C9 requires of it.
type Store interface {
	StoreOperatorRecord(ctx context.Context, logID, recordID digest.Digest, env envelope.Envelope) error
	StorePackageRecord(ctx context.Context, logID, recordID digest.Digest, env envelope.Envelope, missing []digest.Digest) error

	RejectOperatorRecord(ctx context.Context, logID, recordID digest.Digest, reason string) error
	RejectPackageRecord(ctx context.Context, logID, recordID digest.Digest, reason string) error

	CommitOperatorRecord(ctx context.Context, logID, recordID digest.Digest, registryLogIndex uint64) error
	CommitPackageRecord(ctx context.Context, logID, recordID digest.Digest, registryLogIndex uint64) error

	IsContentMissing(ctx context.Context, logID, recordID, d digest.Digest) (bool, error)
	// SetContentPresent returns true iff d was the last digest this
	// record was still waiting on.
	SetContentPresent(ctx context.Context, logID, recordID, d digest.Digest) (bool, error)

	StoreCheckpoint(ctx context.Context, checkpointID digest.Digest, signed envelope.Envelope) error
	GetLatestCheckpoint(ctx context.Context) (envelope.Envelope, bool, error)

	GetOperatorRecords(ctx context.Context, logID digest.Digest, sinceRecordID digest.Digest, limit int) ([]StoredRecord, error)
	GetPackageRecords(ctx context.Context, logID digest.Digest, sinceRecordID digest.Digest, limit int) ([]StoredRecord, error)
	GetRecordStatus(ctx context.Context, logID, recordID digest.Digest) (StoredRecord, bool, error)

	// GetAllCheckpoints and GetAllValidatedRecords back C9's startup
	// replay: every persisted checkpoint, and every record that ever
	// reached Validated or Published, in registry_log_index order.
	GetAllCheckpoints(ctx context.Context) ([]StoredCheckpoint, error)
	GetAllValidatedRecords(ctx context.Context) ([]ReplayRecord, error)
}

// ReplayRecord is one record replayed at startup, identified by the
// log it belongs to and positioned by its registry-wide commit index.
type ReplayRecord struct {
	LogID            digest.Digest
	IsOperatorLog    bool
	RegistryLogIndex uint64
	Record           StoredRecord
}
