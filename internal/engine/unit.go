package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/gateway"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/resilience"
	"github.com/sells-group/docflow/internal/schema"
)

// unitOutcome is the terminal state of one unit: exactly one of result
// or err is set.
type unitOutcome struct {
	result   *model.ExtractionResult
	err      *model.UnitError
	warnings []string
	model    string
}

// runUnit drives one unit through the repair loop. Each attempt either
// succeeds, schedules a retry (retryable provider failure keeps the
// same turns; bad output appends a repair turn), or fails the unit
// terminally. Attempts are bounded by the request's repair budget.
func (e *Engine) runUnit(ctx context.Context, u unit, eff effective, metaMode string) unitOutcome {
	turns := []gateway.Turn{{Role: "user", Text: buildPrompt(eff)}}

	var warnings []string
	for attempt := 1; ; attempt++ {
		res, err := e.gateway.Invoke(ctx, gateway.Call{
			Model:             eff.model,
			SystemInstruction: eff.system,
			Schema:            eff.schemaDoc,
			Files:             u.files,
			Turns:             turns,
			Temperature:       eff.params.Temperature,
			TopP:              eff.params.TopP,
			MaxOutputTokens:   maxTokens(eff.params),
		})
		if err != nil {
			if retryable(err) && attempt < eff.maxAttempts {
				zap.L().Warn("unit attempt failed, retrying",
					zap.Int("unit", u.index),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}
			return unitOutcome{err: &model.UnitError{
				Index:    u.index,
				GroupID:  u.groupID,
				Code:     model.CodeProviderError,
				Message:  err.Error(),
				Attempts: attempt,
			}}
		}

		data, parseErr := extractJSON(res.Text)
		if parseErr != nil {
			if attempt < eff.maxAttempts {
				turns = append(turns,
					gateway.Turn{Role: "assistant", Text: res.Text},
					gateway.Turn{Role: "user", Text: fmt.Sprintf(
						"The previous reply was not a valid JSON document (%v). Reply again with only a single JSON document conforming to the schema.", parseErr)},
				)
				continue
			}
			return unitOutcome{err: &model.UnitError{
				Index:    u.index,
				GroupID:  u.groupID,
				Code:     model.CodeProviderError,
				Message:  "model output is not valid JSON: " + parseErr.Error(),
				Attempts: attempt,
			}}
		}

		if e.opts.ConformanceRepair {
			if confErr := schema.CheckConformance(eff.schemaDoc, data); confErr != nil {
				if attempt < eff.maxAttempts {
					turns = append(turns,
						gateway.Turn{Role: "assistant", Text: res.Text},
						gateway.Turn{Role: "user", Text: fmt.Sprintf(
							"The previous reply does not conform to the schema: %v. Reply again with only a corrected JSON document.", confErr)},
					)
					continue
				}
				// Conformance is advisory: surface it, keep the data.
				warnings = append(warnings, fmt.Sprintf("unit %d: output does not conform to schema: %v", u.index, confErr))
			}
		}

		return unitOutcome{
			result: &model.ExtractionResult{
				Data: data,
				Meta: model.ResultMeta{
					Model:        res.Model,
					Docs:         docNames(u.files),
					Mode:         metaMode,
					Profile:      eff.profileLabel,
					TokensInput:  res.Usage.InputTokens,
					TokensOutput: res.Usage.OutputTokens,
					Attempts:     attempt,
				},
			},
			warnings: warnings,
			model:    res.Model,
		}
	}
}

// retryable reports whether a gateway failure may be reattempted within
// the unit's repair budget.
func retryable(err error) bool {
	var pe *gateway.ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return resilience.IsTransient(err)
}

func maxTokens(p model.Parameters) *int64 {
	if p.MaxOutputTokens == nil {
		return nil
	}
	v := int64(*p.MaxOutputTokens)
	return &v
}

func docNames(files []model.NormalizedFile) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.DisplayName
	}
	return names
}

// buildPrompt renders the first user turn: the profile or request
// prompt followed by the schema contract.
func buildPrompt(eff effective) string {
	var b strings.Builder
	if eff.prompt != "" {
		b.WriteString(eff.prompt)
		b.WriteString("\n\n")
	}
	b.WriteString("Return a single JSON document that conforms to the following JSON Schema. ")
	b.WriteString("Output only the JSON document, with no prose and no code fences.\n\nSchema:\n")
	b.Write(eff.schemaDoc)
	return b.String()
}

// extractJSON pulls the JSON document out of a model reply, tolerating
// a markdown code fence around it.
func extractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return nil, eris.New("empty reply")
	}
	if !json.Valid([]byte(s)) {
		return nil, eris.New("reply is not well-formed JSON")
	}
	return json.RawMessage(s), nil
}
