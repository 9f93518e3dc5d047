package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ObjectSchema(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {
			"total": {"type": "number"},
			"vendor": {"type": "string"},
			"lines": {"type": "array", "items": {"type": "object", "properties": {"sku": {"type": "string"}}}}
		}
	}`)

	node, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, KindObject, node.Kind)
	require.Len(t, node.Properties, 3)
	assert.Equal(t, KindNumber, node.Properties["total"].Kind)
	assert.Equal(t, KindString, node.Properties["vendor"].Kind)
	assert.Equal(t, KindArray, node.Properties["lines"].Kind)
	assert.Equal(t, KindObject, node.Properties["lines"].Items.Kind)
}

func TestParse_UppercaseTypes(t *testing.T) {
	// Vertex-style schemas use uppercase type names.
	node, err := Parse(json.RawMessage(`{"type": "OBJECT", "properties": {"x": {"type": "STRING"}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindObject, node.Kind)
	assert.Equal(t, KindString, node.Properties["x"].Kind)
}

func TestParse_RefNotDereferenced(t *testing.T) {
	node, err := Parse(json.RawMessage(`{"$ref": "#/definitions/invoice"}`))
	require.NoError(t, err)
	assert.Equal(t, KindRef, node.Kind)
	assert.Equal(t, "#/definitions/invoice", node.Ref)
}

func TestParse_Unions(t *testing.T) {
	node, err := Parse(json.RawMessage(`{"anyOf": [{"type": "string"}, {"type": "null"}]}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnion, node.Kind)
	require.Len(t, node.Variants, 2)
	assert.Equal(t, KindString, node.Variants[0].Kind)
	assert.Equal(t, KindNull, node.Variants[1].Kind)

	node, err = Parse(json.RawMessage(`{"type": ["integer", "null"]}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnion, node.Kind)
	require.Len(t, node.Variants, 2)
	assert.Equal(t, KindInteger, node.Variants[0].Kind)
}

func TestParse_ImpliedKinds(t *testing.T) {
	node, err := Parse(json.RawMessage(`{"properties": {"a": {"type": "string"}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindObject, node.Kind)

	node, err = Parse(json.RawMessage(`{"items": {"type": "number"}}`))
	require.NoError(t, err)
	assert.Equal(t, KindArray, node.Kind)

	node, err = Parse(json.RawMessage(`{"description": "anything"}`))
	require.NoError(t, err)
	assert.Equal(t, KindAny, node.Kind)
}

func TestParse_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":           `{`,
		"not an object":      `[1, 2]`,
		"bad type kind":      `{"type": 7}`,
		"bad properties":     `{"type": "object", "properties": [1]}`,
		"bad items":          `{"type": "array", "items": "x"}`,
		"bad ref":            `{"$ref": 12}`,
		"bad anyOf":          `{"anyOf": {"type": "string"}}`,
		"nested bad props":   `{"type": "object", "properties": {"a": {"type": "object", "properties": 3}}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, Validate(json.RawMessage(raw)))
		})
	}
}

func TestParse_BusinessKeywordsIgnored(t *testing.T) {
	// Shape-level checks only: constraints like required/enum/min are not enforced.
	err := Validate(json.RawMessage(`{
		"type": "object",
		"required": "not-a-list",
		"properties": {"x": {"type": "string", "enum": 3}}
	}`))
	assert.NoError(t, err)
}

func TestStub_Shapes(t *testing.T) {
	node, err := Parse(json.RawMessage(`{
		"type": "object",
		"properties": {
			"total": {"type": "number"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"vendor": {"type": "object", "properties": {"name": {"type": "string"}}}
		}
	}`))
	require.NoError(t, err)

	got := Stub(node)
	want := map[string]any{
		"total":  nil,
		"tags":   []any{},
		"vendor": map[string]any{"name": nil},
	}
	assert.Equal(t, want, got)
}

func TestStub_UnionAndPrimitive(t *testing.T) {
	node, err := Parse(json.RawMessage(`{"anyOf": [{"type": "array"}, {"type": "null"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []any{}, Stub(node))

	node, err = Parse(json.RawMessage(`{"type": "boolean"}`))
	require.NoError(t, err)
	assert.Nil(t, Stub(node))

	assert.Nil(t, Stub(nil))
}

func TestCheckConformance(t *testing.T) {
	doc := json.RawMessage(`{"type": "object", "properties": {"total": {"type": "number"}}, "required": ["total"]}`)

	assert.NoError(t, CheckConformance(doc, json.RawMessage(`{"total": 12.5}`)))
	assert.Error(t, CheckConformance(doc, json.RawMessage(`{"total": "twelve"}`)))
	assert.Error(t, CheckConformance(doc, json.RawMessage(`{}`)))
	assert.Error(t, CheckConformance(doc, json.RawMessage(`not json`)))
}
