package model

import "encoding/json"

// Mode selects the response shape of an extraction.
type Mode string

const (
	ModeSingle  Mode = "single"   // one aggregate result over all files
	ModePerFile Mode = "per_file" // one result per file, input order
	ModeGrouped Mode = "grouped"  // one result per caller-defined group
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeSingle, ModePerFile, ModeGrouped:
		return true
	}
	return false
}

// FileSource identifies where a file's bytes come from.
type FileSource string

const (
	SourceLocalPath FileSource = "local"
	SourceURL       FileSource = "url"
	SourceInline    FileSource = "inline"
	SourceObjectURI FileSource = "object"
)

// FileRef is a caller-supplied reference to one document. Exactly one of
// Path, URL, Data, or ObjectURI is set; Source says which.
type FileRef struct {
	Source      FileSource `json:"source,omitempty"`
	Path        string     `json:"path,omitempty"`
	URL         string     `json:"url,omitempty"`
	Data        []byte     `json:"data,omitempty"`
	ObjectURI   string     `json:"object_uri,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	MIMEType    string     `json:"mime_type,omitempty"`
}

// NormalizedFile is a FileRef after fetch and MIME resolution. Content is
// fully materialized; DisplayName is always non-empty.
type NormalizedFile struct {
	DisplayName string
	MIMEType    string
	Content     []byte
}

// FileGroup is a caller-defined set of files extracted together in
// grouped mode.
type FileGroup struct {
	ID    string    `json:"id"`
	Files []FileRef `json:"files"`
}

// Parameters are generation parameters merged over profile defaults.
// Nil fields inherit from the profile.
type Parameters struct {
	Temperature     *float64 `json:"temperature,omitempty" yaml:"temperature"`
	TopP            *float64 `json:"top_p,omitempty" yaml:"top_p"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty" yaml:"max_output_tokens"`
}

// Merged returns p with nil fields filled from defaults.
func (p Parameters) Merged(defaults Parameters) Parameters {
	out := p
	if out.Temperature == nil {
		out.Temperature = defaults.Temperature
	}
	if out.TopP == nil {
		out.TopP = defaults.TopP
	}
	if out.MaxOutputTokens == nil {
		out.MaxOutputTokens = defaults.MaxOutputTokens
	}
	return out
}

// RepairConfig bounds the per-unit retry/repair loop. MaxAttempts counts
// total model invocations for a unit, including the first.
type RepairConfig struct {
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
}

// ExtractionRequest describes one extraction. Exactly one of Files or
// Groups is populated depending on Mode. A request is either
// profile-first (ProfilePath set, schema and prompt come from the
// catalog) or self-contained (inline Schema and Prompt, the event path).
type ExtractionRequest struct {
	ProfilePath       string          `json:"profile_path,omitempty"` // may carry a trailing /vN
	Schema            json.RawMessage `json:"schema,omitempty"`
	Prompt            string          `json:"prompt,omitempty"`
	SystemInstruction string          `json:"system_instruction,omitempty"`
	Mode              Mode            `json:"mode"`
	Files             []FileRef       `json:"files,omitempty"`
	Groups            []FileGroup     `json:"groups,omitempty"`
	Model             string          `json:"model,omitempty"`
	Parameters        Parameters      `json:"parameters"`
	Workers           int             `json:"workers,omitempty"`
	Repair            RepairConfig    `json:"repair"`
	RequestID         string          `json:"request_id,omitempty"`
}
