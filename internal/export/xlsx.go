// Package export renders extraction envelopes to spreadsheets.
// Hierarchical JSON flattens into linked sheets: objects become
// Field/Value sheets, arrays become header-unioned tables, and nested
// composites spill into their own sheets referenced from the parent
// cell.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/docflow/internal/model"
)

const maxSheetNameLen = 31

var invalidSheetChars = "[]:*?/\\'"

// Envelope writes an extraction envelope's data to an xlsx workbook at
// path, creating parent directories as needed.
func Envelope(env *model.Envelope, path string) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return eris.Wrap(err, "export: marshal envelope")
	}
	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return eris.Wrap(err, "export: decode envelope")
	}
	return JSON(data, path)
}

// JSON writes arbitrary decoded JSON to an xlsx workbook at path.
func JSON(data any, path string) error {
	w := newWorkbook()
	if err := w.write(data); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "export: create %s", dir)
		}
	}
	if err := w.file.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

type workbook struct {
	file       *xlsx.File
	bold       *xlsx.Style
	sheetNames map[string]bool
}

func newWorkbook() *workbook {
	bold := xlsx.NewStyle()
	bold.Font.Bold = true
	return &workbook{
		file:       xlsx.NewFile(),
		bold:       bold,
		sheetNames: map[string]bool{},
	}
}

func (w *workbook) write(data any) error {
	switch v := data.(type) {
	case map[string]any:
		sheet, err := w.addSheet("OBJ", "root")
		if err != nil {
			return err
		}
		w.writeObject(sheet, v, "root")
	case []any:
		sheet, err := w.addSheet("ARR", "root")
		if err != nil {
			return err
		}
		w.writeArray(sheet, v, "root")
	default:
		sheet, err := w.addSheet("VAL", "root")
		if err != nil {
			return err
		}
		w.headerCell(sheet.AddRow(), "Value")
		w.scalarCell(sheet.AddRow(), v)
	}
	return nil
}

func (w *workbook) addSheet(prefix, label string) (*xlsx.Sheet, error) {
	name := w.allocName(prefix, label)
	sheet, err := w.file.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %s", name)
	}
	return sheet, nil
}

// allocName builds a unique sheet name within the 31-char limit.
func (w *workbook) allocName(prefix, label string) string {
	base := prefix
	if slug := slugify(label); slug != "" {
		base = prefix + "_" + slug
	}
	if len(base) > maxSheetNameLen {
		base = base[:maxSheetNameLen]
	}
	candidate := base
	for suffix := 1; w.sheetNames[candidate]; suffix++ {
		tail := fmt.Sprintf("_%d", suffix)
		trimmed := base
		if len(trimmed)+len(tail) > maxSheetNameLen {
			trimmed = trimmed[:maxSheetNameLen-len(tail)]
		}
		candidate = trimmed + tail
	}
	w.sheetNames[candidate] = true
	return candidate
}

func slugify(label string) string {
	var b strings.Builder
	for _, r := range label {
		if strings.ContainsRune(invalidSheetChars, r) || unicode.IsSpace(r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return "data"
	}
	return slug
}

func (w *workbook) writeObject(sheet *xlsx.Sheet, obj map[string]any, context string) {
	header := sheet.AddRow()
	w.headerCell(header, "Field")
	w.headerCell(header, "Value")
	if len(obj) == 0 {
		sheet.AddRow().AddCell().Value = "(no fields)"
		return
	}
	for _, key := range sortedKeys(obj) {
		row := sheet.AddRow()
		row.AddCell().Value = key
		w.valueCell(row, fmt.Sprintf("%s.%s", context, key), key, obj[key])
	}
}

func (w *workbook) writeArray(sheet *xlsx.Sheet, items []any, context string) {
	headers := collectHeaders(items)
	header := sheet.AddRow()
	for _, h := range headers {
		w.headerCell(header, h)
	}
	for i, item := range items {
		row := sheet.AddRow()
		obj, ok := item.(map[string]any)
		if !ok {
			w.valueCell(row, fmt.Sprintf("%s[%d]", context, i), "item", item)
			continue
		}
		for _, h := range headers {
			w.valueCell(row, fmt.Sprintf("%s[%d].%s", context, i, h), h, obj[h])
		}
	}
}

// collectHeaders unions object keys across items, preserving first-seen
// order.
func collectHeaders(items []any) []string {
	var headers []string
	seen := map[string]bool{}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for _, key := range sortedKeys(obj) {
			if !seen[key] {
				seen[key] = true
				headers = append(headers, key)
			}
		}
	}
	if len(headers) == 0 {
		headers = []string{"value"}
	}
	return headers
}

func (w *workbook) valueCell(row *xlsx.Row, context, field string, value any) {
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 {
			row.AddCell().Value = "{}"
			return
		}
		sheet, err := w.addSheet("OBJ", context)
		if err != nil {
			row.AddCell().Value = "{error}"
			return
		}
		w.writeObject(sheet, v, context)
		row.AddCell().Value = fmt.Sprintf("%s (object) -> %s", field, sheet.Name)
	case []any:
		if len(v) == 0 {
			row.AddCell()
			return
		}
		sheet, err := w.addSheet("ARR", context)
		if err != nil {
			row.AddCell().Value = "{error}"
			return
		}
		w.writeArray(sheet, v, context)
		row.AddCell().Value = fmt.Sprintf("%s (%d items) -> %s", field, len(v), sheet.Name)
	default:
		w.scalarCell(row, v)
	}
}

func (w *workbook) scalarCell(row *xlsx.Row, value any) {
	cell := row.AddCell()
	switch v := value.(type) {
	case nil:
		cell.Value = "null"
	case string:
		cell.Value = v
	case bool:
		cell.SetBool(v)
	case float64:
		cell.SetFloat(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			cell.Value = fmt.Sprint(v)
			return
		}
		cell.Value = string(raw)
	}
}

func (w *workbook) headerCell(row *xlsx.Row, text string) {
	cell := row.AddCell()
	cell.Value = text
	cell.SetStyle(w.bold)
}

func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	// Stable output: decoded JSON maps have no order to preserve.
	sort.Strings(keys)
	return keys
}
