// Package wargerr centralizes the failure taxonomy (§7) shared
// across the validators, coordinator, and wire boundary, so every layer
// classifies a failure the same way instead of inventing its own error
// strings. Callers use errors.Is against these sentinels; wrap with
// fmt.Errorf("...: %w", sentinel) to attach record-specific detail.
package wargerr

import "errors"

// Boundary errors: the record never enters any log.
var (
	InvalidEncoding = errors.New("invalid encoding")

	// IncorrectStructure: parses as the right shape of bytes but fails a
	// structural rule (wrong number of ':'-separated parts, uppercase hex
	// in a digest, non-kebab-case identifier), see §6.
	IncorrectStructure = errors.New("incorrect structure")
)

// Validation failure taxonomy (§4.2): each is fatal for the one record;
// validator state is left unchanged and the record is stored Rejected.
var (
	ProtocolVersionMismatch = errors.New("protocol version mismatch")
	PrevMismatch            = errors.New("prev mismatch")
	TimestampNotMonotonic   = errors.New("timestamp not monotonic")
	InvalidSignature        = errors.New("invalid signature")
	UnknownSigningKey       = errors.New("unknown signing key")
	KeyUnauthorized         = errors.New("key unauthorized")
	NotFirstRecord          = errors.New("init entry not first record")
	InitNotFirst            = errors.New("init entry not first in record")
	UnknownVersion          = errors.New("unknown version")
	VersionAlreadyReleased  = errors.New("version already released")
	VersionNotReleased      = errors.New("version not released")
	VersionAlreadyYanked    = errors.New("version already yanked")
)

// SignatureVerificationFailed is the envelope-level counterpart of
// InvalidSignature; both terminate validation the same way.
var SignatureVerificationFailed = errors.New("signature verification failed")

// MissingContent: a release entry named a digest not yet observed as
// present; the record is stored as persistence.StatusMissingContent
// rather than Rejected.
var MissingContent = errors.New("missing content")

// Proof generation failures (§4.3/§4.4), never mutating state.
var (
	LeafTooNew          = errors.New("leaf too new")
	HashNotKnown        = errors.New("hash not known")
	InconsistentLengths = errors.New("inconsistent lengths")
	PointsOutOfOrder    = errors.New("points out of order")
	BundleFailure       = errors.New("bundle failure")
)

// Lookup/operational errors.
var (
	RecordNotFound = errors.New("record not found")
	LogNotFound    = errors.New("log not found")

	// Conflict: the persistence layer observed a concurrent head change;
	// the caller should retry with a fresh head.
	Conflict = errors.New("conflict")

	// Fatal: operator key unusable or persistence unreachable. Callers
	// at the process boundary should log and abort rather than retry.
	Fatal = errors.New("fatal")
)
