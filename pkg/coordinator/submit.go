package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytecodealliance/registry-sub001/pkg/checkpoint"
	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
	"github.com/bytecodealliance/registry-sub001/pkg/operatorlog"
	"github.com/bytecodealliance/registry-sub001/pkg/packagelog"
	"github.com/bytecodealliance/registry-sub001/pkg/persistence"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// rejectionReason turns a validator error into the human-readable
// reason §7 requires every Rejected status to carry.
func rejectionReason(err error) string {
	for _, sentinel := range []error{
		wargerr.ProtocolVersionMismatch, wargerr.PrevMismatch, wargerr.TimestampNotMonotonic,
		wargerr.InvalidSignature, wargerr.SignatureVerificationFailed, wargerr.UnknownSigningKey,
		wargerr.KeyUnauthorized, wargerr.NotFirstRecord, wargerr.InitNotFirst, wargerr.UnknownVersion,
		wargerr.VersionAlreadyReleased, wargerr.VersionNotReleased, wargerr.VersionAlreadyYanked,
		wargerr.IncorrectStructure, wargerr.InvalidEncoding,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

// SubmitOperator implements submit_operator (§4.6). A rejected
// record is stored durably as Rejected and never retried under the
// same record id; a transport/persistence error is returned for the
// caller to retry, keyed by record_id for idempotency.
func (c *Coordinator) SubmitOperator(ctx context.Context, env envelope.Envelope) (SubmitResult, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	recordID := env.RecordID()

	next, err := operatorlog.Apply(c.operatorState, env)
	if err != nil {
		reason := rejectionReason(err)
		if serr := c.store.StoreOperatorRecord(ctx, c.operatorLogID, recordID, env); serr != nil {
			return SubmitResult{}, fmt.Errorf("coordinator: store rejected record: %w", serr)
		}
		if serr := c.store.RejectOperatorRecord(ctx, c.operatorLogID, recordID, reason); serr != nil {
			return SubmitResult{}, fmt.Errorf("coordinator: reject record: %w", serr)
		}
		if c.metrics != nil {
			c.metrics.RecordRejected(ctx, "operator", reason)
		}
		return SubmitResult{Outcome: Rejected, RecordID: recordID, Reason: reason}, nil
	}

	if err := c.store.StoreOperatorRecord(ctx, c.operatorLogID, recordID, env); err != nil {
		return SubmitResult{}, fmt.Errorf("coordinator: store record: %w", err)
	}
	idx, err := c.builder.Submit(ctx, checkpoint.Leaf{LogID: c.operatorLogID, RecordID: recordID})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("coordinator: append leaf: %w", err)
	}
	if err := c.store.CommitOperatorRecord(ctx, c.operatorLogID, recordID, idx); err != nil {
		return SubmitResult{}, fmt.Errorf("coordinator: commit record: %w", err)
	}
	c.operatorState = next
	if c.metrics != nil {
		c.metrics.RecordAccepted(ctx, "operator")
	}
	return SubmitResult{Outcome: Accepted, RecordID: recordID}, nil
}

// SubmitPackage implements submit_package (§4.6). A Release entry
// whose content digest hasn't been observed as present yet is accepted
// by the validator but held as AwaitingContent until every referenced
// digest has arrived (via ContentPresent), at which point it is
// forwarded to the checkpoint builder as if just submitted.
func (c *Coordinator) SubmitPackage(ctx context.Context, logID digest.Digest, env envelope.Envelope, missingContentDigests []digest.Digest) (SubmitResult, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	recordID := env.RecordID()
	pe := c.packageEntryFor(logID)

	next, err := packagelog.Apply(pe.state, env)
	if err != nil {
		reason := rejectionReason(err)
		if serr := c.store.StorePackageRecord(ctx, logID, recordID, env, nil); serr != nil {
			return SubmitResult{}, fmt.Errorf("coordinator: store rejected record: %w", serr)
		}
		if serr := c.store.RejectPackageRecord(ctx, logID, recordID, reason); serr != nil {
			return SubmitResult{}, fmt.Errorf("coordinator: reject record: %w", serr)
		}
		if c.metrics != nil {
			c.metrics.RecordRejected(ctx, "package", reason)
		}
		return SubmitResult{Outcome: Rejected, RecordID: recordID, Reason: reason}, nil
	}

	if err := c.store.StorePackageRecord(ctx, logID, recordID, env, missingContentDigests); err != nil {
		return SubmitResult{}, fmt.Errorf("coordinator: store record: %w", err)
	}

	if len(missingContentDigests) > 0 {
		// The validator already accepted this record; it just can't be
		// appended to the log until every referenced digest is present.
		// pe.state is intentionally NOT advanced to next yet. A
		// second submission on top of this one would see stale prev
		// and correctly fail PrevMismatch until ContentPresent commits it.
		return SubmitResult{Outcome: AwaitingContent, RecordID: recordID, Missing: append([]digest.Digest(nil), missingContentDigests...)}, nil
	}

	idx, err := c.builder.Submit(ctx, checkpoint.Leaf{LogID: logID, RecordID: recordID})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("coordinator: append leaf: %w", err)
	}
	if err := c.store.CommitPackageRecord(ctx, logID, recordID, idx); err != nil {
		return SubmitResult{}, fmt.Errorf("coordinator: commit record: %w", err)
	}
	pe.state = next
	if c.metrics != nil {
		c.metrics.RecordAccepted(ctx, "package")
	}
	return SubmitResult{Outcome: Accepted, RecordID: recordID}, nil
}

// ContentPresent notifies the coordinator that digest d is now
// available for recordID on logID; when it was the last digest that
// record was waiting on, the record's validator state is advanced and
// it is forwarded to the checkpoint builder exactly as if it had just
// been submitted with no missing content (§4.6).
func (c *Coordinator) ContentPresent(ctx context.Context, logID, recordID, d digest.Digest) error {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	last, err := c.store.SetContentPresent(ctx, logID, recordID, d)
	if err != nil {
		return fmt.Errorf("coordinator: set content present: %w", err)
	}
	if !last {
		return nil
	}

	stored, found, err := c.store.GetRecordStatus(ctx, logID, recordID)
	if err != nil {
		return fmt.Errorf("coordinator: get record status: %w", err)
	}
	if !found {
		return fmt.Errorf("coordinator: %w: record %s", wargerr.RecordNotFound, recordID)
	}

	pe := c.packageEntryFor(logID)
	next, err := packagelog.Apply(pe.state, stored.Envelope)
	if err != nil {
		// The record already passed validation once, at submit time,
		// against the same prior state; this can only fail again if
		// something else was appended to this log in between, which
		// single-threaded submitMu serialization rules out.
		return fmt.Errorf("coordinator: %w: re-validate on content arrival: %v", wargerr.Fatal, err)
	}

	idx, err := c.builder.Submit(ctx, checkpoint.Leaf{LogID: logID, RecordID: recordID})
	if err != nil {
		return fmt.Errorf("coordinator: append leaf: %w", err)
	}
	if err := c.store.CommitPackageRecord(ctx, logID, recordID, idx); err != nil {
		return fmt.Errorf("coordinator: commit record: %w", err)
	}
	pe.state = next
	if c.metrics != nil {
		c.metrics.RecordAccepted(ctx, "package")
	}
	return nil
}

// ExpirePending administratively abandons a record still awaiting
// content (§4.5's "content-awaiting records expire only through
// explicit administrative action", supplemented per the package's
// design notes with an operation to actually perform that expiry).
func (c *Coordinator) ExpirePending(ctx context.Context, logID, recordID digest.Digest, reason string) error {
	stored, found, err := c.store.GetRecordStatus(ctx, logID, recordID)
	if err != nil {
		return fmt.Errorf("coordinator: get record status: %w", err)
	}
	if !found {
		return fmt.Errorf("coordinator: %w: record %s", wargerr.RecordNotFound, recordID)
	}
	if stored.Status != persistence.StatusMissingContent {
		return fmt.Errorf("coordinator: record %s is not awaiting content", recordID)
	}
	if err := c.store.RejectPackageRecord(ctx, logID, recordID, reason); err != nil {
		return fmt.Errorf("coordinator: expire pending: %w", err)
	}
	return nil
}
