// Package digest implements the algorithm-tagged content digests used
// throughout the registry: "<algorithm>:<lowercase-hex>" textual
// encoding, structural equality, and lexicographic ordering (§3).
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

// Algorithm identifies a supported digest algorithm.
type Algorithm string

const (
	// Sha256 is the only algorithm required initially; the tag is
	// extensible without changing the framing.
	Sha256 Algorithm = "sha256"
)

// ErrIncorrectStructure is an alias for wargerr.IncorrectStructure kept
// local so callers can write digest.ErrIncorrectStructure.
var ErrIncorrectStructure = wargerr.IncorrectStructure

// Digest is an algorithm-tagged content hash.
type Digest struct {
	Algorithm Algorithm
	Bytes     []byte
}

// Of computes the digest of data under algo.
func Of(algo Algorithm, data []byte) (Digest, error) {
	switch algo {
	case Sha256:
		sum := sha256.Sum256(data)
		return Digest{Algorithm: algo, Bytes: sum[:]}, nil
	default:
		return Digest{}, fmt.Errorf("digest: unsupported algorithm %q", algo)
	}
}

// OfSha256 is a convenience for the one algorithm required today.
func OfSha256(data []byte) Digest {
	d, _ := Of(Sha256, data)
	return d
}

// String renders the digest as "<algorithm>:<lowercase-hex>".
func (d Digest) String() string {
	return string(d.Algorithm) + ":" + hex.EncodeToString(d.Bytes)
}

// Parse parses the textual form, rejecting uppercase hex per §6.
func Parse(s string) (Digest, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Digest{}, fmt.Errorf("%w: %q has no single ':' separator", ErrIncorrectStructure, s)
	}
	algo, hexPart := Algorithm(parts[0]), parts[1]
	if hexPart != strings.ToLower(hexPart) {
		return Digest{}, fmt.Errorf("%w: %q contains uppercase hex", ErrIncorrectStructure, s)
	}
	b, err := hex.DecodeString(hexPart)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %v", ErrIncorrectStructure, err)
	}
	return Digest{Algorithm: algo, Bytes: b}, nil
}

// Equal reports structural equality.
func (d Digest) Equal(other Digest) bool {
	if d.Algorithm != other.Algorithm || len(d.Bytes) != len(other.Bytes) {
		return false
	}
	for i := range d.Bytes {
		if d.Bytes[i] != other.Bytes[i] {
			return false
		}
	}
	return true
}

// Compare orders digests lexicographically on (algorithm, bytes), per §3.
func (d Digest) Compare(other Digest) int {
	if d.Algorithm != other.Algorithm {
		if d.Algorithm < other.Algorithm {
			return -1
		}
		return 1
	}
	n := len(d.Bytes)
	if len(other.Bytes) < n {
		n = len(other.Bytes)
	}
	for i := 0; i < n; i++ {
		if d.Bytes[i] != other.Bytes[i] {
			if d.Bytes[i] < other.Bytes[i] {
				return -1
			}
			return 1
		}
	}
	return compareInt(len(d.Bytes), len(other.Bytes))
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsZero reports whether d is the zero value (no algorithm set).
func (d Digest) IsZero() bool {
	return d.Algorithm == "" && d.Bytes == nil
}

// MarshalText implements encoding.TextMarshaler so Digest can be used
// directly as a JSON string field in canonical encodings.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
