package coordinator

import (
	"context"
	"fmt"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
	"github.com/bytecodealliance/registry-sub001/pkg/merklelog"
	"github.com/bytecodealliance/registry-sub001/pkg/persistence"
	"github.com/bytecodealliance/registry-sub001/pkg/sparsemap"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// GetRecordStatus implements get_record_status.
func (c *Coordinator) GetRecordStatus(ctx context.Context, logID, recordID digest.Digest) (persistence.StoredRecord, bool, error) {
	return c.store.GetRecordStatus(ctx, logID, recordID)
}

// GetOperatorRecords implements get_records for the operator log: a
// stable fetch cursor, monotone in ascending record order.
func (c *Coordinator) GetOperatorRecords(ctx context.Context, sinceRecordID digest.Digest, limit int) ([]envelope.Envelope, error) {
	stored, err := c.store.GetOperatorRecords(ctx, c.operatorLogID, sinceRecordID, limit)
	if err != nil {
		return nil, fmt.Errorf("coordinator: get operator records: %w", err)
	}
	return envelopesOf(stored), nil
}

// GetPackageRecords implements get_records for one package log.
func (c *Coordinator) GetPackageRecords(ctx context.Context, logID, sinceRecordID digest.Digest, limit int) ([]envelope.Envelope, error) {
	stored, err := c.store.GetPackageRecords(ctx, logID, sinceRecordID, limit)
	if err != nil {
		return nil, fmt.Errorf("coordinator: get package records: %w", err)
	}
	return envelopesOf(stored), nil
}

func envelopesOf(stored []persistence.StoredRecord) []envelope.Envelope {
	out := make([]envelope.Envelope, len(stored))
	for i, s := range stored {
		out[i] = s.Envelope
	}
	return out
}

// ProveLogInclusion implements prove_log_inclusion.
func (c *Coordinator) ProveLogInclusion(checkpointLength uint64, leafIndices []uint64) (merklelog.ProofBundle, error) {
	bundle, err := c.builder.Tree().Bundle(checkpointLength, nil, leafIndices)
	if err != nil {
		return merklelog.ProofBundle{}, fmt.Errorf("coordinator: prove log inclusion: %w", err)
	}
	return bundle, nil
}

// ProveLogConsistency implements prove_log_consistency.
func (c *Coordinator) ProveLogConsistency(fromLength, toLength uint64) (merklelog.ProofBundle, error) {
	bundle, err := c.builder.Tree().Bundle(toLength, []uint64{fromLength}, nil)
	if err != nil {
		return merklelog.ProofBundle{}, fmt.Errorf("coordinator: prove log consistency: %w", err)
	}
	return bundle, nil
}

// MapProofBundle is prove_map_inclusion's result (§6: "Map
// bundle: {proofs[]}, each {peers[]: sequence of OptionalHash}"),
// paired here with the log ids each proof is for and the checkpoint
// length it was served against.
type MapProofBundle struct {
	CheckpointLength uint64
	LogIDs           []digest.Digest
	Proofs           []sparsemap.Proof
}

// ProveMapInclusion implements prove_map_inclusion: a sparse-map
// inclusion proof for each requested log id, against the map exactly
// as it stood at checkpointLength.
func (c *Coordinator) ProveMapInclusion(checkpointLength uint64, logIDs []digest.Digest) (MapProofBundle, error) {
	m, ok := c.mapAt(checkpointLength)
	if !ok {
		return MapProofBundle{}, fmt.Errorf("coordinator: %w: no retained map snapshot for checkpoint length %d", wargerr.LeafTooNew, checkpointLength)
	}
	proofs := make([]sparsemap.Proof, len(logIDs))
	for i, logID := range logIDs {
		p, err := m.Prove(logID)
		if err != nil {
			return MapProofBundle{}, fmt.Errorf("coordinator: prove map inclusion: %w", err)
		}
		proofs[i] = p
	}
	return MapProofBundle{CheckpointLength: checkpointLength, LogIDs: append([]digest.Digest(nil), logIDs...), Proofs: proofs}, nil
}
