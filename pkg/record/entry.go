package record

import (
	"fmt"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/semverx"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
)

// EntryType tags which variant of operator/package log entry (§3,
// §4.2) an Entry carries.
type EntryType string

const (
	EntryInit       EntryType = "init"
	EntryGrantFlat  EntryType = "grant-flat"
	EntryRevokeFlat EntryType = "revoke-flat"
	EntryRelease    EntryType = "release"
	EntryYank       EntryType = "yank"
)

// Entry is one entry of an operator or package record. Only the fields
// relevant to Type are populated; canonical encoding (pkg/canonical)
// needs one flat, deterministic object shape rather than a tagged Go
// interface union, so unused fields are simply omitted on the wire via
// "omitempty".
type Entry struct {
	Type EntryType `json:"type"`

	// Init
	HashAlgorithm digest.Algorithm `json:"hashAlgorithm,omitempty"`

	// Init (initial key) / GrantFlat (key being granted a permission).
	Key string `json:"key,omitempty"`

	// GrantFlat / RevokeFlat
	Permission string `json:"permission,omitempty"`

	// RevokeFlat: textual digest identifying the key losing a permission.
	KeyID string `json:"keyId,omitempty"`

	// Release / Yank
	Version string `json:"version,omitempty"`

	// Release: textual digest of the published content.
	Content string `json:"content,omitempty"`
}

// NewInitEntry builds the entry that must open every log (§4.2).
func NewInitEntry(hashAlgo digest.Algorithm, key wargcrypto.PublicKey) Entry {
	return Entry{Type: EntryInit, HashAlgorithm: hashAlgo, Key: key.String()}
}

// NewGrantFlatEntry grants permission to key.
func NewGrantFlatEntry(key wargcrypto.PublicKey, permission string) Entry {
	return Entry{Type: EntryGrantFlat, Key: key.String(), Permission: permission}
}

// NewRevokeFlatEntry revokes permission from the key identified by keyID.
func NewRevokeFlatEntry(keyID digest.Digest, permission string) Entry {
	return Entry{Type: EntryRevokeFlat, KeyID: keyID.String(), Permission: permission}
}

// NewReleaseEntry publishes version pointing at content.
func NewReleaseEntry(version semverx.Version, content digest.Digest) Entry {
	return Entry{Type: EntryRelease, Version: version.String(), Content: content.String()}
}

// NewYankEntry yanks a previously released version.
func NewYankEntry(version semverx.Version) Entry {
	return Entry{Type: EntryYank, Version: version.String()}
}

// ParsedKey parses the Key field as a PublicKey (Init/GrantFlat).
func (e Entry) ParsedKey() (wargcrypto.PublicKey, error) {
	return wargcrypto.ParsePublicKey(e.Key)
}

// ParsedKeyID parses the KeyID field as a Digest (RevokeFlat).
func (e Entry) ParsedKeyID() (digest.Digest, error) {
	return digest.Parse(e.KeyID)
}

// ParsedContent parses the Content field as a Digest (Release).
func (e Entry) ParsedContent() (digest.Digest, error) {
	return digest.Parse(e.Content)
}

// ParsedVersion parses the Version field (Release/Yank).
func (e Entry) ParsedVersion() (semverx.Version, error) {
	return semverx.Parse(e.Version)
}

// Validate performs structural checks independent of log state: that
// the fields required by Type are present and well-formed. Validators
// (pkg/operatorlog, pkg/packagelog) still apply the stateful checks
// (permission holding, monotonic ordering, etc).
func (e Entry) Validate() error {
	switch e.Type {
	case EntryInit:
		if e.HashAlgorithm == "" {
			return fmt.Errorf("record: init entry missing hashAlgorithm")
		}
		if _, err := e.ParsedKey(); err != nil {
			return fmt.Errorf("record: init entry: %w", err)
		}
	case EntryGrantFlat:
		if _, err := e.ParsedKey(); err != nil {
			return fmt.Errorf("record: grant-flat entry: %w", err)
		}
		if e.Permission == "" {
			return fmt.Errorf("record: grant-flat entry missing permission")
		}
	case EntryRevokeFlat:
		if _, err := e.ParsedKeyID(); err != nil {
			return fmt.Errorf("record: revoke-flat entry: %w", err)
		}
		if e.Permission == "" {
			return fmt.Errorf("record: revoke-flat entry missing permission")
		}
	case EntryRelease:
		if _, err := e.ParsedVersion(); err != nil {
			return fmt.Errorf("record: release entry: %w", err)
		}
		if _, err := e.ParsedContent(); err != nil {
			return fmt.Errorf("record: release entry: %w", err)
		}
	case EntryYank:
		if _, err := e.ParsedVersion(); err != nil {
			return fmt.Errorf("record: yank entry: %w", err)
		}
	default:
		return fmt.Errorf("record: unknown entry type %q", e.Type)
	}
	return nil
}
