package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/store"
)

// Payload is the extraction request carried inside an event envelope.
// Schema may be an inline object, a `{"$ref": uri}` wrapper, or a bare
// object-store URI string.
type Payload struct {
	Schema            json.RawMessage    `json:"schema"`
	Prompt            string             `json:"prompt,omitempty"`
	SystemInstruction string             `json:"system_instruction,omitempty"`
	Model             string             `json:"model,omitempty"`
	Mode              model.Mode         `json:"mode,omitempty"`
	Files             []PayloadFile      `json:"files,omitempty"`
	Parameters        model.Parameters   `json:"parameters,omitempty"`
	Workers           int                `json:"workers,omitempty"`
	Repair            model.RepairConfig `json:"repair,omitempty"`
}

// PayloadFile addresses one input document: exactly one of URI or
// SignedURL must be set.
type PayloadFile struct {
	Name      string `json:"name,omitempty"`
	URI       string `json:"uri,omitempty"`
	SignedURL string `json:"signedUrl,omitempty"`
	MIME      string `json:"mime,omitempty"`
}

// ParsePayload decodes and shape-checks the payload.
func ParsePayload(raw json.RawMessage) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, model.NewValidationError("payload", "not a valid object: "+err.Error())
	}
	for _, f := range p.Files {
		if f.URI == "" && f.SignedURL == "" {
			return nil, model.NewValidationError("payload.files", "items must include 'uri' or 'signedUrl'")
		}
		if f.URI != "" && f.SignedURL != "" {
			return nil, model.NewValidationError("payload.files", "items must carry exactly one location")
		}
	}
	return &p, nil
}

// ToRequest converts the payload into an engine request, resolving a
// referenced schema through the object store. Returns the request and
// any warnings to attach to the result.
func (p *Payload) ToRequest(ctx context.Context, objects store.ObjectStore, requestID string) (*model.ExtractionRequest, []string, error) {
	schemaDoc, err := resolveSchema(ctx, objects, p.Schema)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	if len(p.Files) == 0 {
		warnings = append(warnings, "no files provided in payload.files; continuing")
	}

	files := make([]model.FileRef, 0, len(p.Files))
	for _, f := range p.Files {
		ref := model.FileRef{
			DisplayName: f.Name,
			MIMEType:    f.MIME,
		}
		switch {
		case f.SignedURL != "":
			ref.Source = model.SourceURL
			ref.URL = f.SignedURL
		default:
			ref.Source = model.SourceObjectURI
			ref.ObjectURI = f.URI
		}
		files = append(files, ref)
	}

	mode := p.Mode
	if mode == "" {
		mode = model.ModeSingle
	}

	return &model.ExtractionRequest{
		Schema:            schemaDoc,
		Prompt:            p.Prompt,
		SystemInstruction: p.SystemInstruction,
		Mode:              mode,
		Files:             files,
		Model:             p.Model,
		Parameters:        p.Parameters,
		Workers:           p.Workers,
		Repair:            p.Repair,
		RequestID:         requestID,
	}, warnings, nil
}

// resolveSchema accepts an inline schema object, {"$ref": uri}, or a
// bare URI string; references are fetched from the object store.
func resolveSchema(ctx context.Context, objects store.ObjectStore, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, model.NewValidationError("payload.schema", "must be an object or an object-store reference")
	}

	trimmed := strings.TrimSpace(string(raw))
	switch trimmed[0] {
	case '{':
		var wrapper struct {
			Ref string `json:"$ref"`
		}
		// An object with a $ref string is a reference; anything else is
		// the schema itself.
		if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Ref != "" {
			return fetchSchema(ctx, objects, wrapper.Ref)
		}
		return raw, nil
	case '"':
		var uri string
		if err := json.Unmarshal(raw, &uri); err != nil || uri == "" {
			return nil, model.NewValidationError("payload.schema", "reference must be a non-empty string")
		}
		return fetchSchema(ctx, objects, uri)
	}
	return nil, model.NewValidationError("payload.schema", "must be an object or an object-store reference")
}

func fetchSchema(ctx context.Context, objects store.ObjectStore, uri string) (json.RawMessage, error) {
	if objects == nil {
		return nil, model.NewValidationError("payload.schema", "no object store configured for schema references")
	}
	key := uri
	if _, rest, found := strings.Cut(uri, "://"); found {
		key = rest
	}
	data, err := objects.Get(ctx, key)
	if err != nil {
		return nil, model.NewValidationError("payload.schema", "failed to load schema from "+uri+": "+err.Error())
	}
	if !json.Valid(data) {
		return nil, model.NewValidationError("payload.schema", "referenced schema is not valid JSON")
	}
	return data, nil
}
