package schema

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CheckConformance validates model output against the request schema.
// The result is advisory: it drives the repair loop but never gates the
// final answer, since the model is treated as authoritative.
func CheckConformance(schemaDoc json.RawMessage, data json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaDoc)); err != nil {
		return eris.Wrap(err, "schema: add resource")
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return eris.Wrap(err, "schema: compile")
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrap(err, "schema: unmarshal output")
	}
	if err := compiled.Validate(v); err != nil {
		return eris.Wrap(err, "schema: output does not conform")
	}
	return nil
}
