package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/store"
)

func schemaStore(t *testing.T) store.ObjectStore {
	t.Helper()
	objects, err := store.NewFS(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, objects.Put(context.Background(),
		"bucket/schemas/receipt.json",
		[]byte(`{"type": "object", "properties": {"total": {"type": "number"}}}`)))
	return objects
}

func TestParsePayloadFileLocations(t *testing.T) {
	_, err := ParsePayload(json.RawMessage(`{"schema": {}, "files": [{"name": "a"}]}`))
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = ParsePayload(json.RawMessage(`{"schema": {}, "files": [{"uri": "obj://a", "signedUrl": "https://b"}]}`))
	require.ErrorAs(t, err, &verr)

	p, err := ParsePayload(json.RawMessage(`{"schema": {}, "files": [{"uri": "obj://a"}, {"signedUrl": "https://b"}]}`))
	require.NoError(t, err)
	assert.Len(t, p.Files, 2)
}

func TestToRequestInlineSchema(t *testing.T) {
	p, err := ParsePayload(json.RawMessage(`{
		"schema": {"type": "object"},
		"prompt": "go",
		"mode": "per_file",
		"files": [
			{"name": "a.pdf", "uri": "obj://bucket/a.pdf", "mime": "application/pdf"},
			{"name": "b.pdf", "signedUrl": "https://signed.example.com/b.pdf"}
		]
	}`))
	require.NoError(t, err)

	req, warnings, err := p.ToRequest(context.Background(), nil, "req-1")
	require.NoError(t, err)

	assert.Empty(t, warnings)
	assert.Equal(t, model.ModePerFile, req.Mode)
	assert.Equal(t, "req-1", req.RequestID)
	assert.JSONEq(t, `{"type": "object"}`, string(req.Schema))
	require.Len(t, req.Files, 2)
	assert.Equal(t, model.SourceObjectURI, req.Files[0].Source)
	assert.Equal(t, "obj://bucket/a.pdf", req.Files[0].ObjectURI)
	assert.Equal(t, model.SourceURL, req.Files[1].Source)
	assert.Equal(t, "https://signed.example.com/b.pdf", req.Files[1].URL)
}

func TestToRequestDefaultsToSingleMode(t *testing.T) {
	p, err := ParsePayload(json.RawMessage(`{"schema": {"type": "object"}}`))
	require.NoError(t, err)

	req, warnings, err := p.ToRequest(context.Background(), nil, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.ModeSingle, req.Mode)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "no files")
}

func TestResolveSchemaRefObject(t *testing.T) {
	objects := schemaStore(t)

	doc, err := resolveSchema(context.Background(), objects,
		json.RawMessage(`{"$ref": "obj://bucket/schemas/receipt.json"}`))
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"total"`)
}

func TestResolveSchemaStringURI(t *testing.T) {
	objects := schemaStore(t)

	doc, err := resolveSchema(context.Background(), objects,
		json.RawMessage(`"obj://bucket/schemas/receipt.json"`))
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"total"`)
}

func TestResolveSchemaMissingRef(t *testing.T) {
	objects := schemaStore(t)

	_, err := resolveSchema(context.Background(), objects,
		json.RawMessage(`"obj://bucket/schemas/nope.json"`))
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestResolveSchemaRejectsOtherShapes(t *testing.T) {
	var verr *model.ValidationError

	_, err := resolveSchema(context.Background(), nil, json.RawMessage(`42`))
	require.ErrorAs(t, err, &verr)

	_, err = resolveSchema(context.Background(), nil, nil)
	require.ErrorAs(t, err, &verr)
}
