// Package canonical implements C2: deterministic byte serialization of
// records and checkpoint structures (§4.1). Encoding goes through
// standard encoding/json (which fixes field order via struct tags) and
// then through RFC 8785 JSON Canonicalization (JCS) so that map-valued
// fields and number formatting are normalized identically regardless of
// which implementation produced them, the property §4.1 requires
// ("signing is over the stored bytes, never a re-encoding") holds as
// long as every producer canonicalizes the same way before signing.
package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Encode serializes v as RFC 8785 canonical JSON.
func Encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// Decode parses canonical (or any valid) JSON bytes into v. Canonical
// encoding only constrains the producer; any compliant JSON decoder can
// consume it.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("canonical: unmarshal: %w", err)
	}
	return nil
}

// Prefixed returns prefix||Encode(v), the input fed to hashing/signing
// per §4.1's "prefixes precede each hash/sign input" rule.
func Prefixed(prefix string, v any) ([]byte, error) {
	body, err := Encode(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(prefix)+len(body))
	out = append(out, prefix...)
	out = append(out, body...)
	return out, nil
}
