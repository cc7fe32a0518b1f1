package wargcrypto

import (
	"fmt"
	"sync"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
)

// KeyRing is a thread-safe set of known public keys, indexed by
// fingerprint. The validators (C4/C5) do not use it; they resolve
// known keys through their own State.Keys maps.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]PublicKey // digest.Digest.String() -> key
}

// NewKeyRing returns an empty keyring.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]PublicKey)}
}

// Register adds pub to the ring, keyed by its fingerprint. Registering
// the same fingerprint twice is a no-op (idempotent by design, since
// §4.2 has grants implicitly register a key's bytes on first
// sight).
func (k *KeyRing) Register(pub PublicKey) digest.Digest {
	id := KeyID(pub)
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[id.String()] = pub
	return id
}

// Lookup resolves a fingerprint to its public key.
func (k *KeyRing) Lookup(id digest.Digest) (PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.keys[id.String()]
	return pub, ok
}

// Verify checks sig over domainPrefix||content against the key
// identified by id, failing with UnknownSigningKey semantics (returned
// as ok=false, err=nil) if id is not registered.
func (k *KeyRing) Verify(id digest.Digest, domainPrefix string, content []byte, sig Signature) (bool, error) {
	pub, ok := k.Lookup(id)
	if !ok {
		return false, nil
	}
	valid, err := Verify(pub, sig, domainPrefix, content)
	if err != nil {
		return false, fmt.Errorf("wargcrypto: verify: %w", err)
	}
	return valid, nil
}
