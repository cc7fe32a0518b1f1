package wargcrypto

import (
	"testing"
)

func TestECDSAP256Signer_SignVerify(t *testing.T) {
	signer, err := NewECDSAP256Signer()
	if err != nil {
		t.Fatalf("NewECDSAP256Signer: %v", err)
	}

	data := []byte("hello registry")
	sig, err := Sign(signer, OperatorRecordSignatureDomain, data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	ok, err := Verify(signer.Public(), sig, OperatorRecordSignatureDomain, data)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("expected signature to verify")
	}
}

func TestVerify_WrongDomainFails(t *testing.T) {
	signer, _ := NewECDSAP256Signer()
	data := []byte("payload")
	sig, _ := Sign(signer, OperatorRecordSignatureDomain, data)

	ok, err := Verify(signer.Public(), sig, PackageRecordSignatureDomain, data)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("signature for one domain must not verify under another")
	}
}

func TestVerify_TamperedContentFails(t *testing.T) {
	signer, _ := NewECDSAP256Signer()
	sig, _ := Sign(signer, PackageRecordSignatureDomain, []byte("original"))

	ok, err := Verify(signer.Public(), sig, PackageRecordSignatureDomain, []byte("tampered"))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("tampered content must not verify")
	}
}

func TestKeyID_StableAcrossEncodeDecode(t *testing.T) {
	signer, _ := NewECDSAP256Signer()
	id1 := KeyID(signer.Public())

	text := signer.Public().String()
	parsed, err := ParsePublicKey(text)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	id2 := KeyID(parsed)

	if !id1.Equal(id2) {
		t.Error("KeyID must be stable across encode/decode")
	}
}

func TestSignatureAndPublicKey_TextRoundTrip(t *testing.T) {
	signer, _ := NewECDSAP256Signer()
	sig, _ := Sign(signer, OperatorRecordSignatureDomain, []byte("x"))

	parsedSig, err := ParseSignature(sig.String())
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}
	if parsedSig.Algorithm != sig.Algorithm || string(parsedSig.Bytes) != string(sig.Bytes) {
		t.Error("signature did not round-trip through text form")
	}
}
