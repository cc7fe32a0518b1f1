// Package wargcrypto implements C1: algorithm-tagged signatures, key
// fingerprints (KeyId), and domain-separated signing/verification over
// ECDSA-P256 (§3, §4.1).
package wargcrypto

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// SignatureAlgorithm identifies a supported signature scheme.
type SignatureAlgorithm string

const (
	// EcdsaP256 is the only scheme required initially.
	EcdsaP256 SignatureAlgorithm = "ecdsa-p256"
)

// ErrIncorrectStructure is an alias for wargerr.IncorrectStructure kept
// local so callers can write wargcrypto.ErrIncorrectStructure.
var ErrIncorrectStructure = wargerr.IncorrectStructure

// Signature is an algorithm-tagged signature; textual form is
// "<algorithm>:<base64>" with standard alphabet and required padding.
type Signature struct {
	Algorithm SignatureAlgorithm
	Bytes     []byte
}

func (s Signature) String() string {
	return string(s.Algorithm) + ":" + base64.StdEncoding.EncodeToString(s.Bytes)
}

// ParseSignature parses the normative textual form from §6.
func ParseSignature(s string) (Signature, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Signature{}, fmt.Errorf("%w: %q has no single ':' separator", ErrIncorrectStructure, s)
	}
	b, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrIncorrectStructure, err)
	}
	return Signature{Algorithm: SignatureAlgorithm(parts[0]), Bytes: b}, nil
}

// PublicKey is an algorithm-tagged public key; textual form mirrors Signature.
type PublicKey struct {
	Algorithm SignatureAlgorithm
	Bytes     []byte
}

func (k PublicKey) String() string {
	return string(k.Algorithm) + ":" + base64.StdEncoding.EncodeToString(k.Bytes)
}

// ParsePublicKey parses the normative textual form from §6.
func ParsePublicKey(s string) (PublicKey, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return PublicKey{}, fmt.Errorf("%w: %q has no single ':' separator", ErrIncorrectStructure, s)
	}
	b, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrIncorrectStructure, err)
	}
	return PublicKey{Algorithm: SignatureAlgorithm(parts[0]), Bytes: b}, nil
}

// KeyID computes the fingerprint of a public key as specified in §3:
// hash_of(utf8("<sig-algo>:<base64(pk-bytes)>")) using the algorithm of
// the signature scheme (sha256 for the only scheme supported today).
func KeyID(pub PublicKey) digest.Digest {
	return digest.OfSha256([]byte(pub.String()))
}
