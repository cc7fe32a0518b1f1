// Package packagelog implements C5: the deterministic, side-effect-free
// validator for package log records (§4.2). It shares its shape
// with pkg/operatorlog but additionally tracks per-version release
// state and the two package-only entry kinds, Release and Yank.
package packagelog

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/envelope"
	"github.com/bytecodealliance/registry-sub001/pkg/record"
	"github.com/bytecodealliance/registry-sub001/pkg/wargcrypto"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// Head is the validator's current position in the log.
type Head struct {
	RecordID  digest.Digest
	Timestamp time.Time
}

// ReleaseStatus distinguishes a released version from one later yanked.
type ReleaseStatus int

const (
	Released ReleaseStatus = iota
	Yanked
)

// ReleaseState is the state tracked per released semver (§3).
type ReleaseState struct {
	Status  ReleaseStatus
	Content digest.Digest // valid when Status == Released

	YankedBy digest.Digest // valid when Status == Yanked
	YankedAt time.Time
}

// State is the package validator state. The zero value is a fresh,
// empty validator awaiting its first (Init) record.
type State struct {
	HashAlgorithm digest.Algorithm
	Head          *Head
	Keys          map[string]wargcrypto.PublicKey
	Permissions   map[string]map[record.PackagePermission]struct{}
	Releases      map[string]ReleaseState
}

// NewState returns a fresh, empty validator state.
func NewState() State {
	return State{
		Keys:        map[string]wargcrypto.PublicKey{},
		Permissions: map[string]map[record.PackagePermission]struct{}{},
		Releases:    map[string]ReleaseState{},
	}
}

func (s State) clone() State {
	out := State{HashAlgorithm: s.HashAlgorithm, Head: s.Head}
	out.Keys = make(map[string]wargcrypto.PublicKey, len(s.Keys))
	for k, v := range s.Keys {
		out.Keys[k] = v
	}
	out.Permissions = make(map[string]map[record.PackagePermission]struct{}, len(s.Permissions))
	for k, v := range s.Permissions {
		permSet := make(map[record.PackagePermission]struct{}, len(v))
		for p := range v {
			permSet[p] = struct{}{}
		}
		out.Permissions[k] = permSet
	}
	out.Releases = make(map[string]ReleaseState, len(s.Releases))
	for k, v := range s.Releases {
		out.Releases[k] = v
	}
	return out
}

func (s State) holds(keyID string, perm record.PackagePermission) bool {
	permSet, ok := s.Permissions[keyID]
	if !ok {
		return false
	}
	_, ok = permSet[perm]
	return ok
}

func (s *State) grant(keyID string, perm record.PackagePermission) {
	permSet, ok := s.Permissions[keyID]
	if !ok {
		permSet = map[record.PackagePermission]struct{}{}
		s.Permissions[keyID] = permSet
	}
	permSet[perm] = struct{}{}
}

func (s *State) revoke(keyID string, perm record.PackagePermission) {
	if permSet, ok := s.Permissions[keyID]; ok {
		delete(permSet, perm)
	}
}

// Apply validates env against s and returns the resulting state. On any
// failure the returned state equals s unchanged. It does not consult
// content storage: whether a Release's content digest has actually been
// uploaded is a C9/persistence concern (§4.6 AwaitingContent),
// orthogonal to the structural/permission checks done here.
func Apply(s State, env envelope.Envelope) (State, error) {
	if env.Kind != record.KindPackage {
		return s, fmt.Errorf("packagelog: %w: envelope kind %q", wargerr.IncorrectStructure, env.Kind)
	}
	rec, err := env.Record()
	if err != nil {
		return s, fmt.Errorf("packagelog: %w: %v", wargerr.InvalidEncoding, err)
	}
	if err := rec.Validate(); err != nil {
		if errors.Is(err, wargerr.UnknownVersion) {
			return s, fmt.Errorf("packagelog: %w", err)
		}
		return s, fmt.Errorf("packagelog: %w: %v", wargerr.IncorrectStructure, err)
	}

	if s.Head == nil {
		if rec.Prev != nil {
			return s, fmt.Errorf("packagelog: %w: expected empty prev on first record", wargerr.PrevMismatch)
		}
	} else {
		if rec.Prev == nil || !rec.Prev.Equal(s.Head.RecordID) {
			return s, fmt.Errorf("packagelog: %w", wargerr.PrevMismatch)
		}
	}

	if rec.Version != record.CurrentProtocolVersion {
		return s, fmt.Errorf("packagelog: %w", wargerr.ProtocolVersionMismatch)
	}

	if s.Head != nil && rec.Timestamp.Before(s.Head.Timestamp) {
		return s, fmt.Errorf("packagelog: %w", wargerr.TimestampNotMonotonic)
	}

	isFirstRecord := s.Head == nil
	isInitRecord := len(rec.Entries) > 0 && rec.Entries[0].Type == record.EntryInit

	var signerKey wargcrypto.PublicKey
	if isFirstRecord && isInitRecord {
		initKey, err := rec.Entries[0].ParsedKey()
		if err != nil {
			return s, fmt.Errorf("packagelog: %w: %v", wargerr.IncorrectStructure, err)
		}
		if !wargcrypto.KeyID(initKey).Equal(env.KeyID) {
			return s, fmt.Errorf("packagelog: %w: init entry key does not match envelope signer", wargerr.UnknownSigningKey)
		}
		signerKey = initKey
	} else {
		known, ok := s.Keys[env.KeyID.String()]
		if !ok {
			return s, fmt.Errorf("packagelog: %w", wargerr.UnknownSigningKey)
		}
		signerKey = known
	}
	ok, err := env.Verify(signerKey)
	if err != nil {
		return s, fmt.Errorf("packagelog: verify: %w: %v", wargerr.InvalidSignature, err)
	}
	if !ok {
		return s, fmt.Errorf("packagelog: %w", wargerr.SignatureVerificationFailed)
	}
	signerKeyID := env.KeyID.String()

	next := s.clone()
	for i, e := range rec.Entries {
		switch e.Type {
		case record.EntryInit:
			if !isFirstRecord {
				return s, fmt.Errorf("packagelog: %w", wargerr.NotFirstRecord)
			}
			if i != 0 {
				return s, fmt.Errorf("packagelog: %w", wargerr.InitNotFirst)
			}
			key, _ := e.ParsedKey()
			next.HashAlgorithm = e.HashAlgorithm
			keyID := wargcrypto.KeyID(key).String()
			next.Keys[keyID] = key
			next.grant(keyID, record.PackagePermissionRelease)
			next.grant(keyID, record.PackagePermissionYank)

		case record.EntryGrantFlat:
			perm := record.PackagePermission(e.Permission)
			if !next.holds(signerKeyID, perm) {
				return s, fmt.Errorf("packagelog: %w: signer lacks %q", wargerr.KeyUnauthorized, perm)
			}
			key, _ := e.ParsedKey()
			targetID := wargcrypto.KeyID(key).String()
			if _, known := next.Keys[targetID]; !known {
				next.Keys[targetID] = key
			}
			next.grant(targetID, perm)

		case record.EntryRevokeFlat:
			perm := record.PackagePermission(e.Permission)
			if !next.holds(signerKeyID, perm) {
				return s, fmt.Errorf("packagelog: %w: signer lacks %q", wargerr.KeyUnauthorized, perm)
			}
			keyID, _ := e.ParsedKeyID()
			next.revoke(keyID.String(), perm)

		case record.EntryRelease:
			if !next.holds(signerKeyID, record.PackagePermissionRelease) {
				return s, fmt.Errorf("packagelog: %w: signer lacks release permission", wargerr.KeyUnauthorized)
			}
			version, _ := e.ParsedVersion()
			content, _ := e.ParsedContent()
			if _, exists := next.Releases[version.String()]; exists {
				return s, fmt.Errorf("packagelog: %w: version %s", wargerr.VersionAlreadyReleased, version)
			}
			next.Releases[version.String()] = ReleaseState{Status: Released, Content: content}

		case record.EntryYank:
			if !next.holds(signerKeyID, record.PackagePermissionYank) {
				return s, fmt.Errorf("packagelog: %w: signer lacks yank permission", wargerr.KeyUnauthorized)
			}
			version, _ := e.ParsedVersion()
			rs, exists := next.Releases[version.String()]
			if !exists {
				return s, fmt.Errorf("packagelog: %w: version %s", wargerr.VersionNotReleased, version)
			}
			if rs.Status == Yanked {
				return s, fmt.Errorf("packagelog: %w: version %s", wargerr.VersionAlreadyYanked, version)
			}
			next.Releases[version.String()] = ReleaseState{
				Status:   Yanked,
				YankedBy: env.KeyID,
				YankedAt: rec.Timestamp,
			}

		default:
			return s, fmt.Errorf("packagelog: %w: entry type %q", wargerr.IncorrectStructure, e.Type)
		}
	}

	next.Head = &Head{RecordID: record.ID(record.KindPackage, env.ContentBytes), Timestamp: rec.Timestamp}
	return next, nil
}
