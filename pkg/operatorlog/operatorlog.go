// Package operatorlog implements C4: the deterministic, side-effect-free
// validator for operator log records (§4.2). Apply takes a prior
// State and an envelope and returns either a new State or a failure
// classified per pkg/wargerr, it never mutates its receiver, so two
// independent callers given the same (State, envelope) always agree on
// the verdict and the resulting state.
package operatorlog

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

// State is the operator validator state (§3). The zero value is a
// fresh, empty validator awaiting its first (Init) record.
type State struct {
	HashAlgorithm digest.Algorithm
	Head          *Head
	Keys          map[string]wargcrypto.PublicKey
	Permissions   map[string]map[record.OperatorPermission]struct{}
}

// NewState returns a fresh, empty validator state.
func NewState() State {
	return State{
		Keys:        map[string]wargcrypto.PublicKey{},
		Permissions: map[string]map[record.OperatorPermission]struct{}{},
	}
}

func (s State) clone() State {
	out := State{HashAlgorithm: s.HashAlgorithm, Head: s.Head}
	out.Keys = make(map[string]wargcrypto.PublicKey, len(s.Keys))
	for k, v := range s.Keys {
		out.Keys[k] = v
	}
	out.Permissions = make(map[string]map[record.OperatorPermission]struct{}, len(s.Permissions))
	for k, v := range s.Permissions {
		permSet := make(map[record.OperatorPermission]struct{}, len(v))
		for p := range v {
			permSet[p] = struct{}{}
		}
		out.Permissions[k] = permSet
	}
	return out
}

func (s State) holds(keyID string, perm record.OperatorPermission) bool {
	permSet, ok := s.Permissions[keyID]
	if !ok {
		return false
	}
	_, ok = permSet[perm]
	return ok
}

func (s *State) grant(keyID string, perm record.OperatorPermission) {
	permSet, ok := s.Permissions[keyID]
	if !ok {
		permSet = map[record.OperatorPermission]struct{}{}
		s.Permissions[keyID] = permSet
	}
	permSet[perm] = struct{}{}
}

func (s *State) revoke(keyID string, perm record.OperatorPermission) {
	if permSet, ok := s.Permissions[keyID]; ok {
		delete(permSet, perm)
	}
}

// Apply validates env against s and returns the resulting state. On any
// failure the returned state equals s unchanged.
func Apply(s State, env envelope.Envelope) (State, error) {
	if env.Kind != record.KindOperator {
		return s, fmt.Errorf("operatorlog: %w: envelope kind %q", wargerr.IncorrectStructure, env.Kind)
	}
	rec, err := env.Record()
	if err != nil {
		return s, fmt.Errorf("operatorlog: %w: %v", wargerr.InvalidEncoding, err)
	}
	if err := rec.Validate(); err != nil {
		if errors.Is(err, wargerr.UnknownVersion) {
			return s, fmt.Errorf("operatorlog: %w", err)
		}
		return s, fmt.Errorf("operatorlog: %w: %v", wargerr.IncorrectStructure, err)
	}

	// (i) prev match.
	if s.Head == nil {
		if rec.Prev != nil {
			return s, fmt.Errorf("operatorlog: %w: expected empty prev on first record", wargerr.PrevMismatch)
		}
	} else {
		if rec.Prev == nil || !rec.Prev.Equal(s.Head.RecordID) {
			return s, fmt.Errorf("operatorlog: %w", wargerr.PrevMismatch)
		}
	}

	// (ii) protocol version.
	if rec.Version != record.CurrentProtocolVersion {
		return s, fmt.Errorf("operatorlog: %w", wargerr.ProtocolVersionMismatch)
	}

	// (iii) monotonic timestamp.
	if s.Head != nil && rec.Timestamp.Before(s.Head.Timestamp) {
		return s, fmt.Errorf("operatorlog: %w", wargerr.TimestampNotMonotonic)
	}

	isFirstRecord := s.Head == nil
	isInitRecord := len(rec.Entries) > 0 && rec.Entries[0].Type == record.EntryInit

	// (iv) signature verifies under a key known to the validator, with a
	// bootstrap carve-out: the very first record's Init entry is allowed
	// to be self-signed by the key it is itself registering.
	var signerKey wargcrypto.PublicKey
	if isFirstRecord && isInitRecord {
		initKey, err := rec.Entries[0].ParsedKey()
		if err != nil {
			return s, fmt.Errorf("operatorlog: %w: %v", wargerr.IncorrectStructure, err)
		}
		if !wargcrypto.KeyID(initKey).Equal(env.KeyID) {
			return s, fmt.Errorf("operatorlog: %w: init entry key does not match envelope signer", wargerr.UnknownSigningKey)
		}
		signerKey = initKey
	} else {
		known, ok := s.Keys[env.KeyID.String()]
		if !ok {
			return s, fmt.Errorf("operatorlog: %w", wargerr.UnknownSigningKey)
		}
		signerKey = known
	}
	ok, err := env.Verify(signerKey)
	if err != nil {
		return s, fmt.Errorf("operatorlog: verify: %w: %v", wargerr.InvalidSignature, err)
	}
	if !ok {
		return s, fmt.Errorf("operatorlog: %w", wargerr.SignatureVerificationFailed)
	}
	signerKeyID := env.KeyID.String()

	next := s.clone()
	for i, e := range rec.Entries {
		switch e.Type {
		case record.EntryInit:
			if !isFirstRecord {
				return s, fmt.Errorf("operatorlog: %w", wargerr.NotFirstRecord)
			}
			if i != 0 {
				return s, fmt.Errorf("operatorlog: %w", wargerr.InitNotFirst)
			}
			key, _ := e.ParsedKey()
			next.HashAlgorithm = e.HashAlgorithm
			next.Keys[wargcrypto.KeyID(key).String()] = key
			next.grant(wargcrypto.KeyID(key).String(), record.OperatorPermissionCommit)

		case record.EntryGrantFlat:
			perm := record.OperatorPermission(e.Permission)
			if !next.holds(signerKeyID, perm) {
				return s, fmt.Errorf("operatorlog: %w: signer lacks %q", wargerr.KeyUnauthorized, perm)
			}
			key, _ := e.ParsedKey()
			targetID := wargcrypto.KeyID(key).String()
			if _, known := next.Keys[targetID]; !known {
				next.Keys[targetID] = key
			}
			next.grant(targetID, perm)

		case record.EntryRevokeFlat:
			perm := record.OperatorPermission(e.Permission)
			if !next.holds(signerKeyID, perm) {
				return s, fmt.Errorf("operatorlog: %w: signer lacks %q", wargerr.KeyUnauthorized, perm)
			}
			keyID, _ := e.ParsedKeyID()
			next.revoke(keyID.String(), perm)

		default:
			return s, fmt.Errorf("operatorlog: %w: entry type %q not valid on an operator log", wargerr.IncorrectStructure, e.Type)
		}
	}

	next.Head = &Head{RecordID: record.ID(record.KindOperator, env.ContentBytes), Timestamp: rec.Timestamp}
	return next, nil
}
