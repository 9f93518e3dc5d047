// Package gateway mediates between the extraction engine and model
// providers. It owns rate limiting, circuit breaking and transient-error
// classification so the engine only sees clean results or classified
// provider errors.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/pkg/anthropic"
)

// Turn is one conversational turn of an invocation.
type Turn struct {
	Role string // "user" or "assistant"
	Text string
}

// Call is a single model invocation. Files are attached to the first
// user turn. Turns beyond the first carry repair conversations. Schema
// is the output schema the response should conform to; provider-backed
// gateways see it embedded in the prompt, the stub gateway reads it
// directly.
type Call struct {
	Model             string
	SystemInstruction string
	Schema            json.RawMessage
	Files             []model.NormalizedFile
	Turns             []Turn
	Temperature       *float64
	TopP              *float64
	MaxOutputTokens   *int64
}

// Result is the provider response to a Call.
type Result struct {
	Text  string
	Model string
	Usage anthropic.TokenUsage
}

// Gateway invokes a model provider.
type Gateway interface {
	Invoke(ctx context.Context, call Call) (*Result, error)
}

// ProviderError classifies a provider failure. Retryable errors (rate
// limits, overloads, 5xx) may be reattempted by the caller; others are
// terminal for the unit.
type ProviderError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("provider error (%s, status %d): %v", kind, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
