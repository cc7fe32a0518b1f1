// Package checkpoint implements C8: the checkpoint builder that drains
// accepted leaves, folds them into the verifiable log (pkg/merklelog)
// and verifiable map (pkg/sparsemap), and periodically signs a snapshot
// of both (§4.5).
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytecodealliance/registry-sub001/pkg/canonical"
	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// Checkpoint identifies one committed state of the registry: the
// verifiable log's root and length, and the verifiable map's root over
// every log's latest record (§3 "Checkpoint").
type Checkpoint struct {
	LogRoot   digest.Digest `json:"logRoot"`
	LogLength uint64        `json:"logLength"`
	MapRoot   digest.Digest `json:"mapRoot"`
}

// TimestampedCheckpoint adds an advisory timestamp, the form that
// actually gets signed and published (§3).
type TimestampedCheckpoint struct {
	Checkpoint
	Timestamp time.Time `json:"timestamp"`
}

// ContentBytes canonically encodes the checkpoint; this is what gets
// signed, the same "stored bytes, never a re-encoding" rule records
// follow (§4.1).
func (c TimestampedCheckpoint) ContentBytes() ([]byte, error) {
	return canonical.Encode(c)
}

// kind is a transport tag only; checkpoints are not operator or package
// records and are never run through record.Sign/record.Verify, which
// apply per-Kind domain prefixes that don't include the checkpoint
// domain. Verify below applies WARG-MAP-CHECKPOINT-SIGNATURE-V0 directly.
const kind record.Kind = "checkpoint"

// Seal canonically encodes cp, signs it under the operator key, and
// wraps the result in an Envelope (§4.5: "signs an envelope of it
// with the operator key").
func Seal(cp TimestampedCheckpoint, signer wargcrypto.Signer) (envelope.Envelope, error) {
	contentBytes, err := cp.ContentBytes()
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("checkpoint: encode: %w", err)
	}
	sig, err := wargcrypto.Sign(signer, wargcrypto.MapCheckpointSignatureDomain, contentBytes)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("checkpoint: sign: %w", err)
	}
	return envelope.Envelope{
		Kind:         kind,
		ContentBytes: contentBytes,
		KeyID:        wargcrypto.KeyID(signer.Public()),
		Signature:    sig,
	}, nil
}

// Decode parses an envelope's content bytes back into a
// TimestampedCheckpoint. Callers that need the raw ContentBytes for
// Verify should keep the envelope around; Decode is for reading field
// values only.
func Decode(env envelope.Envelope) (TimestampedCheckpoint, error) {
	var cp TimestampedCheckpoint
	if err := canonical.Decode(env.ContentBytes, &cp); err != nil {
		return TimestampedCheckpoint{}, fmt.Errorf("checkpoint: decode: %w", err)
	}
	return cp, nil
}

// Verify checks a signed checkpoint envelope's signature against pub.
// It does not check that pub holds the operator key at the time the
// checkpoint was issued; that is verify_signed_checkpoint's job in C9.
func Verify(env envelope.Envelope, pub wargcrypto.PublicKey) (bool, error) {
	if env.Kind != kind {
		return false, fmt.Errorf("checkpoint: %w: envelope kind %q is not a checkpoint", wargerr.InvalidEncoding, env.Kind)
	}
	return wargcrypto.Verify(pub, env.Signature, wargcrypto.MapCheckpointSignatureDomain, env.ContentBytes)
}

// ID derives a content-addressed identifier for a signed checkpoint,
// used only as the persistence collaborator's storage key (§6's
// store_checkpoint(checkpoint_id, ...)); it carries no cryptographic
// meaning beyond being a stable digest of the envelope's exact bytes.
func ID(env envelope.Envelope) digest.Digest {
	encoded, _ := json.Marshal(struct {
		Content   []byte `json:"c"`
		Signature string `json:"s"`
	}{env.ContentBytes, env.Signature.String()})
	return digest.OfSha256(encoded)
}
