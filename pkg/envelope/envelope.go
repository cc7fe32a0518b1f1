// Package envelope implements C3: the signed wrapper carried by every
// record appended to an operator or package log. An Envelope preserves
// the exact bytes that were signed (content_bytes) separately from the
// parsed record, so that re-verification never depends on a decoder
// producing byte-identical output to the original encoder (§4.1,
// §6).
package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/bytecodealliance/registry-sub001/pkg/canonical"
	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// Envelope pairs a record's exact signed bytes with its signature and
// the fingerprint of the key that produced it.
type Envelope struct {
	Kind         record.Kind
	ContentBytes []byte
	KeyID        digest.Digest
	Signature    wargcrypto.Signature
}

// Seal canonically encodes rec, signs it under signer, and wraps the
// result in an Envelope. The returned ContentBytes is exactly what was
// signed and exactly what RecordID/Verify must be called with.
func Seal(kind record.Kind, rec record.Record, signer wargcrypto.Signer) (Envelope, error) {
	contentBytes, err := rec.ContentBytes()
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: encode record: %w", err)
	}
	sig, err := record.Sign(signer, kind, contentBytes)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: sign record: %w", err)
	}
	return Envelope{
		Kind:         kind,
		ContentBytes: contentBytes,
		KeyID:        wargcrypto.KeyID(signer.Public()),
		Signature:    sig,
	}, nil
}

// Record decodes the envelope's content bytes back into a Record. This
// is for reading field values; any state-machine check must still
// operate against e.ContentBytes, not a re-encoding of the result.
func (e Envelope) Record() (record.Record, error) {
	var rec record.Record
	if err := canonical.Decode(e.ContentBytes, &rec); err != nil {
		return record.Record{}, fmt.Errorf("envelope: decode record: %w", err)
	}
	return rec, nil
}

// RecordID derives the RecordId of the wrapped record.
func (e Envelope) RecordID() digest.Digest {
	return record.ID(e.Kind, e.ContentBytes)
}

// Verify checks the envelope's signature against pub. It does not check
// that pub's fingerprint matches e.KeyID or that pub holds any
// permission, those are the validators' job (pkg/operatorlog,
// pkg/packagelog).
func (e Envelope) Verify(pub wargcrypto.PublicKey) (bool, error) {
	return record.Verify(pub, e.Signature, e.Kind, e.ContentBytes)
}

// wireEnvelope is the JSON transport shape (§6): content bytes
// travel as base64 since they must be preserved byte-for-byte rather
// than re-canonicalized by a JSON decoder.
type wireEnvelope struct {
	Kind      record.Kind `json:"kind"`
	Content   string      `json:"contentBytes"`
	KeyID     string      `json:"keyId"`
	Signature string      `json:"signature"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEnvelope{
		Kind:      e.Kind,
		Content:   base64.StdEncoding.EncodeToString(e.ContentBytes),
		KeyID:     e.KeyID.String(),
		Signature: e.Signature.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("envelope: %w: %v", wargerr.InvalidEncoding, err)
	}
	contentBytes, err := base64.StdEncoding.DecodeString(w.Content)
	if err != nil {
		return fmt.Errorf("envelope: %w: contentBytes not valid base64: %v", wargerr.InvalidEncoding, err)
	}
	keyID, err := digest.Parse(w.KeyID)
	if err != nil {
		return fmt.Errorf("envelope: keyId: %w", err)
	}
	sig, err := wargcrypto.ParseSignature(w.Signature)
	if err != nil {
		return fmt.Errorf("envelope: signature: %w", err)
	}
	*e = Envelope{Kind: w.Kind, ContentBytes: contentBytes, KeyID: keyID, Signature: sig}
	return nil
}
