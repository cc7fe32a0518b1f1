package wargcrypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/bytecodealliance/registry-sub001/pkg/digest"
)

// Signer produces raw signatures over arbitrary byte strings. Domain
// separation is applied by the caller via Sign, matching §4.1:
// sign(sk, obj) = sign_raw(sk, prefix(obj) || canonical(obj)).
type Signer interface {
	Sign(data []byte) (Signature, error)
	Public() PublicKey
}

// Verifier checks raw signatures against a known public key.
type Verifier interface {
	Verify(pub PublicKey, sig Signature, data []byte) (bool, error)
}

// ECDSAP256Signer implements Signer for the ecdsa-p256 scheme; it has
// no Verify method and does not implement Verifier.
type ECDSAP256Signer struct {
	priv *ecdsa.PrivateKey
	pub  PublicKey
}

// NewECDSAP256Signer generates a fresh P-256 keypair.
func NewECDSAP256Signer() (*ECDSAP256Signer, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("wargcrypto: key generation failed: %w", err)
	}
	return newECDSAP256Signer(priv), nil
}

// NewECDSAP256SignerFromKey wraps an existing private key.
func NewECDSAP256SignerFromKey(priv *ecdsa.PrivateKey) *ECDSAP256Signer {
	return newECDSAP256Signer(priv)
}

func newECDSAP256Signer(priv *ecdsa.PrivateKey) *ECDSAP256Signer {
	pubBytes := elliptic.MarshalCompressed(priv.PublicKey.Curve, priv.PublicKey.X, priv.PublicKey.Y)
	return &ECDSAP256Signer{
		priv: priv,
		pub:  PublicKey{Algorithm: EcdsaP256, Bytes: pubBytes},
	}
}

// Public returns the signer's public key.
func (s *ECDSAP256Signer) Public() PublicKey {
	return s.pub
}

// Sign computes a deterministic-length raw ECDSA-P256/SHA-256 signature
// (r || s, each 32 bytes, fixed-width so the wire form never varies in
// length between signatures).
func (s *ECDSAP256Signer) Sign(data []byte) (Signature, error) {
	digestSum := sha256.Sum256(data)
	r, sVal, err := ecdsa.Sign(rand.Reader, s.priv, digestSum[:])
	if err != nil {
		return Signature{}, fmt.Errorf("wargcrypto: sign failed: %w", err)
	}
	return Signature{Algorithm: EcdsaP256, Bytes: encodeRS(r, sVal)}, nil
}

// KeyID returns the fingerprint of this signer's public key.
func (s *ECDSAP256Signer) KeyID() digest.Digest {
	return KeyID(s.pub)
}

// VerifyRaw verifies sig over data against pub using the scheme named
// by pub.Algorithm/sig.Algorithm. Algorithm mismatch is a verification
// failure, not an error: callers fold it into SignatureVerificationFailed.
func VerifyRaw(pub PublicKey, sig Signature, data []byte) (bool, error) {
	if pub.Algorithm != EcdsaP256 || sig.Algorithm != EcdsaP256 {
		return false, nil
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), pub.Bytes)
	if x == nil {
		return false, fmt.Errorf("wargcrypto: invalid p256 public key encoding")
	}
	pubKey := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	r, s, err := decodeRS(sig.Bytes)
	if err != nil {
		return false, nil
	}
	digestSum := sha256.Sum256(data)
	return ecdsa.Verify(pubKey, digestSum[:], r, s), nil
}

const p256FieldByteLen = 32

func encodeRS(r, s *big.Int) []byte {
	out := make([]byte, 2*p256FieldByteLen)
	r.FillBytes(out[:p256FieldByteLen])
	s.FillBytes(out[p256FieldByteLen:])
	return out
}

func decodeRS(b []byte) (r, s *big.Int, err error) {
	if len(b) != 2*p256FieldByteLen {
		return nil, nil, fmt.Errorf("wargcrypto: malformed signature length %d", len(b))
	}
	r = new(big.Int).SetBytes(b[:p256FieldByteLen])
	s = new(big.Int).SetBytes(b[p256FieldByteLen:])
	return r, s, nil
}

// Sign applies domain separation before producing a signature, matching
// §4.1: sign(sk, obj) = sign_raw(sk, prefix(obj) || canonical(obj)).
func Sign(signer Signer, domainPrefix string, content []byte) (Signature, error) {
	return signer.Sign(append([]byte(domainPrefix), content...))
}

// Verify applies domain separation symmetrically to Sign.
func Verify(pub PublicKey, sig Signature, domainPrefix string, content []byte) (bool, error) {
	return VerifyRaw(pub, sig, append([]byte(domainPrefix), content...))
}
