// Package schema validates incoming wire envelopes against a JSON Schema
// before any cryptographic or state-machine work happens, so malformed
// input is rejected as InvalidEncoding/IncorrectStructure (§7) with
// a precise, human-readable pointer to the offending field rather than
// an opaque decode panic deeper in the pipeline.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bytecodealliance/registry-sub001/pkg/wargerr"
)

const envelopeSchemaSource = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["kind", "contentBytes", "keyId", "signature"],
  "properties": {
    "kind": {"type": "string", "enum": ["operator", "package"]},
    "contentBytes": {"type": "string", "contentEncoding": "base64"},
    "keyId": {"type": "string", "pattern": "^[a-z0-9]+:[0-9a-f]+$"},
    "signature": {"type": "string", "pattern": "^[a-z0-9-]+:[A-Za-z0-9+/=]+$"}
  },
  "additionalProperties": false
}`

var envelopeSchema = mustCompile("envelope.json", envelopeSchemaSource)

func mustCompile(resourceName, src string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceName, bytes.NewReader([]byte(src))); err != nil {
		panic(fmt.Sprintf("schema: invalid embedded schema %s: %v", resourceName, err))
	}
	return compiler.MustCompile(resourceName)
}

// ValidateEnvelope checks raw wire bytes against the envelope schema.
// Callers still decode into envelope.Envelope afterward; this pass
// exists to classify malformed input precisely before that happens.
func ValidateEnvelope(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("schema: %w: %v", wargerr.InvalidEncoding, err)
	}
	if err := envelopeSchema.Validate(v); err != nil {
		return fmt.Errorf("schema: %w: %v", wargerr.IncorrectStructure, err)
	}
	return nil
}
