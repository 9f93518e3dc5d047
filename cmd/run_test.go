package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docflow/internal/model"
)

func TestFileRef(t *testing.T) {
	assert.Equal(t, model.FileRef{Source: model.SourceURL, URL: "https://x.test/a.pdf"}, fileRef("https://x.test/a.pdf"))
	assert.Equal(t, model.FileRef{Source: model.SourceURL, URL: "ftp://x.test/a.pdf"}, fileRef("ftp://x.test/a.pdf"))
	assert.Equal(t, model.FileRef{Source: model.SourceObjectURI, ObjectURI: "obj://bucket/a.pdf"}, fileRef("obj://bucket/a.pdf"))
	assert.Equal(t, model.FileRef{Source: model.SourceLocalPath, Path: "docs/a.pdf"}, fileRef("docs/a.pdf"))
}

func TestParseGroup(t *testing.T) {
	group, err := parseGroup("invoices=a.pdf, b.pdf")
	require.NoError(t, err)
	assert.Equal(t, "invoices", group.ID)
	require.Len(t, group.Files, 2)
	assert.Equal(t, "a.pdf", group.Files[0].Path)
	assert.Equal(t, "b.pdf", group.Files[1].Path)
}

func TestParseGroupInvalid(t *testing.T) {
	_, err := parseGroup("no-equals-sign")
	assert.Error(t, err)

	_, err = parseGroup("=a.pdf")
	assert.Error(t, err)
}

func TestWriteResultJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "result.json")
	env := &model.Envelope{
		OK:   true,
		Data: &model.ExtractionResult{Data: json.RawMessage(`{"total":5}`)},
		Meta: model.EnvelopeMeta{Model: "stub"},
	}

	require.NoError(t, writeResult(env, out))

	raw, err := os.ReadFile(out)
	require.NoError(t, err)

	var got model.Envelope
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.True(t, got.OK)
	assert.Equal(t, "stub", got.Meta.Model)
}

func TestWriteResultXLSX(t *testing.T) {
	out := filepath.Join(t.TempDir(), "result.xlsx")
	env := &model.Envelope{
		OK:   true,
		Data: &model.ExtractionResult{Data: json.RawMessage(`{"total":5}`)},
		Meta: model.EnvelopeMeta{Model: "stub"},
	}

	require.NoError(t, writeResult(env, out))

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
