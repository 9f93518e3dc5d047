package export

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/docflow/internal/model"
)

func cellValue(t *testing.T, sheet *xlsx.Sheet, row, col int) string {
	t.Helper()
	require.Greater(t, len(sheet.Rows), row)
	require.Greater(t, len(sheet.Rows[row].Cells), col)
	return sheet.Rows[row].Cells[col].Value
}

func TestJSONObjectWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	data := map[string]any{
		"vendor": "ACME",
		"total":  12.5,
		"paid":   true,
		"notes":  nil,
	}
	require.NoError(t, JSON(data, path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)

	sheet := f.Sheets[0]
	assert.Equal(t, "OBJ_root", sheet.Name)
	assert.Equal(t, "Field", cellValue(t, sheet, 0, 0))
	assert.Equal(t, "Value", cellValue(t, sheet, 0, 1))
	// Keys are written sorted.
	assert.Equal(t, "notes", cellValue(t, sheet, 1, 0))
	assert.Equal(t, "null", cellValue(t, sheet, 1, 1))
	assert.Equal(t, "vendor", cellValue(t, sheet, 4, 0))
	assert.Equal(t, "ACME", cellValue(t, sheet, 4, 1))
}

func TestJSONNestedSpillsToLinkedSheets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested.xlsx")
	data := map[string]any{
		"items": []any{
			map[string]any{"name": "a", "qty": float64(1)},
			map[string]any{"name": "b", "price": 2.5},
		},
	}
	require.NoError(t, JSON(data, path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	root := f.Sheets[0]
	assert.Contains(t, cellValue(t, root, 1, 1), "items (2 items)")

	arr := f.Sheets[1]
	// Header union across rows, first-seen order within sorted keys.
	assert.Equal(t, "name", cellValue(t, arr, 0, 0))
	assert.Equal(t, "qty", cellValue(t, arr, 0, 1))
	assert.Equal(t, "price", cellValue(t, arr, 0, 2))
	assert.Equal(t, "a", cellValue(t, arr, 1, 0))
	assert.Equal(t, "b", cellValue(t, arr, 2, 0))
}

func TestJSONScalarRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scalar.xlsx")
	require.NoError(t, JSON("hello", path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet := f.Sheets[0]
	assert.Equal(t, "VAL_root", sheet.Name)
	assert.Equal(t, "Value", cellValue(t, sheet, 0, 0))
	assert.Equal(t, "hello", cellValue(t, sheet, 1, 0))
}

func TestEnvelopeExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.xlsx")
	env := &model.Envelope{
		OK: true,
		Data: &model.ExtractionResult{
			Data: json.RawMessage(`{"total": 3}`),
			Meta: model.ResultMeta{Model: "m", Mode: "aggregate"},
		},
		Meta: model.EnvelopeMeta{Model: "m"},
	}
	require.NoError(t, Envelope(env, path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, f.Sheets)
	assert.Equal(t, "OBJ_root", f.Sheets[0].Name)
}

func TestSheetNameDeduplication(t *testing.T) {
	w := newWorkbook()
	a := w.allocName("OBJ", "orders")
	b := w.allocName("OBJ", "orders")
	c := w.allocName("OBJ", "orders")

	assert.Equal(t, "OBJ_orders", a)
	assert.Equal(t, "OBJ_orders_1", b)
	assert.Equal(t, "OBJ_orders_2", c)

	long := w.allocName("OBJ", "a very long label that will exceed the sheet name limit")
	assert.LessOrEqual(t, len(long), maxSheetNameLen)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "root.items_0_.name", slugify("root.items[0].name"))
	assert.Equal(t, "a_b", slugify("a b"))
	assert.Equal(t, "data", slugify("[]"))
}
