package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

func TestValidateEnvelope_AcceptsWellFormed(t *testing.T) {
	data := []byte(`{"kind":"operator","contentBytes":"aGVsbG8=","keyId":"sha256:ab12","signature":"ecdsa-p256:AAAA"}`)
	assert.NoError(t, ValidateEnvelope(data))
}

func TestValidateEnvelope_RejectsNonJSONAsInvalidEncoding(t *testing.T) {
	err := ValidateEnvelope([]byte(`not json`))
	assert.True(t, errors.Is(err, wargerr.InvalidEncoding))
}

func TestValidateEnvelope_RejectsMissingFieldAsIncorrectStructure(t *testing.T) {
	err := ValidateEnvelope([]byte(`{"kind":"operator"}`))
	assert.True(t, errors.Is(err, wargerr.IncorrectStructure))
}

func TestValidateEnvelope_RejectsUnknownKind(t *testing.T) {
	data := []byte(`{"kind":"bogus","contentBytes":"aGVsbG8=","keyId":"sha256:ab12","signature":"ecdsa-p256:AAAA"}`)
	err := ValidateEnvelope(data)
	assert.True(t, errors.Is(err, wargerr.IncorrectStructure))
}
