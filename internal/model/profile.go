package model

import "encoding/json"

// Profile is a named, versioned bundle of schema, prompt, system
// instruction, and default generation parameters. Immutable once
// resolved for a given request.
type Profile struct {
	Name              string          `json:"name"`
	Path              string          `json:"path"`
	Version           int             `json:"version"`
	Schema            json.RawMessage `json:"schema"`
	Prompt            string          `json:"prompt"`
	SystemInstruction string          `json:"system_instruction"`
	Defaults          Parameters      `json:"defaults"`
	Model             string          `json:"model,omitempty"`
}

// ProfileDescriptor is a catalog listing entry.
type ProfileDescriptor struct {
	Path     string `json:"path"`
	Versions []int  `json:"versions,omitempty"`
	Latest   int    `json:"latest"`
	Source   string `json:"source"`
}
