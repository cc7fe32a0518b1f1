// Package record implements the §3 data model shared by operator
// and package logs: the record envelope contents (prev/version/
// timestamp/entries), entry variants, and the RecordId/LogId digest
// derivations that tie records into the Merkle structures built on top
// of them (pkg/merklelog, pkg/sparsemap).
package record

import (
	"fmt"
	"time"

	"github.com/bytecodealliance/registry-sub001/pkg/canonical"
	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// ProtocolVersion is the wire protocol version carried by every record.
type ProtocolVersion uint32

// CurrentProtocolVersion is the only version this implementation emits
// or accepts (§4.2: "protocol version match").
const CurrentProtocolVersion ProtocolVersion = 0

// Kind distinguishes operator logs from package logs, since RecordId and
// LogId derivation are domain-separated per kind (§4.1).
type Kind string

const (
	KindOperator Kind = "operator"
	KindPackage  Kind = "package"
)

// Record is the canonical content of one operator or package log entry
// set: the previous record's id (empty for the first record in a log),
// the protocol version, a timestamp no earlier than the previous
// record's, and one or more entries.
type Record struct {
	Prev      *digest.Digest `json:"prev,omitempty"`
	Version   ProtocolVersion `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Entries   []Entry         `json:"entries"`
}

// ContentBytes canonically encodes the record; this is the exact byte
// string that gets signed and whose digest becomes the RecordId (spec
// §4.1: "signing is over the stored bytes, never a re-encoding").
func (r Record) ContentBytes() ([]byte, error) {
	return canonical.Encode(r)
}

// signatureDomain returns the domain-separation prefix used when signing
// a record of this kind.
func signatureDomain(kind Kind) string {
	if kind == KindPackage {
		return wargcrypto.PackageRecordSignatureDomain
	}
	return wargcrypto.OperatorRecordSignatureDomain
}

// recordIDDomain returns the domain-separation prefix used to derive a
// RecordId from a record's content bytes.
func recordIDDomain(kind Kind) string {
	if kind == KindPackage {
		return wargcrypto.PackageRecordIDDomain
	}
	return wargcrypto.OperatorRecordIDDomain
}

// Sign signs contentBytes (as returned by ContentBytes) for the given
// record kind, applying the correct domain separation prefix.
func Sign(signer wargcrypto.Signer, kind Kind, contentBytes []byte) (wargcrypto.Signature, error) {
	return wargcrypto.Sign(signer, signatureDomain(kind), contentBytes)
}

// Verify checks a record signature for the given kind.
func Verify(pub wargcrypto.PublicKey, sig wargcrypto.Signature, kind Kind, contentBytes []byte) (bool, error) {
	return wargcrypto.Verify(pub, sig, signatureDomain(kind), contentBytes)
}

// ID derives the RecordId of a record from its content bytes: a digest
// of the kind's domain prefix concatenated with the content bytes (spec
// §4.1). This must be called with the same contentBytes that were
// signed, never a re-encoding.
func ID(kind Kind, contentBytes []byte) digest.Digest {
	prefixed := make([]byte, 0, len(recordIDDomain(kind))+len(contentBytes))
	prefixed = append(prefixed, recordIDDomain(kind)...)
	prefixed = append(prefixed, contentBytes...)
	return digest.OfSha256(prefixed)
}

// OperatorLogID is the singleton log id of the (single) operator log.
func OperatorLogID() digest.Digest {
	return digest.OfSha256([]byte(wargcrypto.OperatorLogIDDomain))
}

// PackageLogID derives the log id of a package's log from its
// namespace-qualified identifier.
func PackageLogID(id PackageID) digest.Digest {
	return digest.OfSha256([]byte(wargcrypto.PackageLogIDDomain + id.String()))
}

// Validate performs structural (stateless) checks on a record: protocol
// version, non-empty entry list, and per-entry structural validity.
// Stateful checks (prev-hash match, monotonic timestamp, signer
// permission) belong to the validators (pkg/operatorlog, pkg/packagelog).
func (r Record) Validate() error {
	if r.Version != CurrentProtocolVersion {
		return fmt.Errorf("record: %w: %d", wargerr.UnknownVersion, r.Version)
	}
	if len(r.Entries) == 0 {
		return fmt.Errorf("record: must contain at least one entry")
	}
	for i, e := range r.Entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("record: entry %d: %w", i, err)
		}
	}
	return nil
}
