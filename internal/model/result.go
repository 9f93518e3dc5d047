package model

import "encoding/json"

// ResultMeta describes how one unit's data was produced.
type ResultMeta struct {
	Model        string   `json:"model"`
	Docs         []string `json:"docs"`
	Mode         string   `json:"mode"`
	Profile      string   `json:"profile"`
	TokensInput  int64    `json:"tokens_input,omitempty"`
	TokensOutput int64    `json:"tokens_output,omitempty"`
	Attempts     int      `json:"attempts,omitempty"`
}

// ExtractionResult is the outcome of one unit of work.
type ExtractionResult struct {
	Data json.RawMessage `json:"data"`
	Meta ResultMeta      `json:"meta"`
}

// GroupResult pairs a grouped-mode result with its input group id.
type GroupResult struct {
	GroupID string            `json:"group_id"`
	Result  *ExtractionResult `json:"result,omitempty"`
	Error   *UnitError        `json:"error,omitempty"`
}

// UnitError is a terminal per-unit failure surfaced in the envelope
// without aborting sibling units.
type UnitError struct {
	Index    int    `json:"index"`
	GroupID  string `json:"group_id,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// EnvelopeMeta is request-level metadata on the response.
type EnvelopeMeta struct {
	Model    string   `json:"model"`
	TraceID  string   `json:"trace_id,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// GroupedData wraps grouped-mode results under a "groups" key.
type GroupedData struct {
	Groups []GroupResult `json:"groups"`
}

// Envelope is the top-level extraction response. Data's shape is fully
// determined by the request mode and never mixes: *ExtractionResult for
// single, []*ExtractionResult in input order for per_file, GroupedData
// for grouped.
type Envelope struct {
	OK     bool         `json:"ok"`
	Data   any          `json:"data"`
	Meta   EnvelopeMeta `json:"meta"`
	Errors []UnitError  `json:"errors,omitempty"`
}

// SingleResult returns the aggregate result for a single-mode envelope.
func (e *Envelope) SingleResult() (*ExtractionResult, bool) {
	r, ok := e.Data.(*ExtractionResult)
	return r, ok
}

// PerFileResults returns the ordered result list for a per_file envelope.
func (e *Envelope) PerFileResults() ([]*ExtractionResult, bool) {
	rs, ok := e.Data.([]*ExtractionResult)
	return rs, ok
}

// GroupResults returns the ordered group results for a grouped envelope.
func (e *Envelope) GroupResults() ([]GroupResult, bool) {
	g, ok := e.Data.(GroupedData)
	if !ok {
		return nil, false
	}
	return g.Groups, true
}
