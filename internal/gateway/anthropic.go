package gateway

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/resilience"
	"github.com/sells-group/docflow/pkg/anthropic"
)

// AnthropicOptions configures the Anthropic-backed gateway.
type AnthropicOptions struct {
	// RequestsPerSecond limits outbound calls to the provider. Zero
	// means the default of 5 rps.
	RequestsPerSecond float64
	// MaxOutputTokens is used when a call does not specify its own cap.
	MaxOutputTokens int64
	Retry           resilience.RetryConfig
	Breaker         resilience.CircuitBreakerConfig
}

// AnthropicGateway implements Gateway on top of the Anthropic client
// with rate limiting, transient retry and a circuit breaker.
type AnthropicGateway struct {
	client    anthropic.Client
	limiter   *rate.Limiter
	breaker   *resilience.CircuitBreaker
	retry     resilience.RetryConfig
	maxTokens int64
}

// NewAnthropic creates a gateway over the given client.
func NewAnthropic(client anthropic.Client, opts AnthropicOptions) *AnthropicGateway {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = resilience.ProviderRetryConfig()
	}
	retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")
	breaker := opts.Breaker
	if breaker.FailureThreshold == 0 {
		breaker = resilience.DefaultCircuitBreakerConfig()
	}
	breaker.OnStateChange = resilience.BreakerLogger("anthropic")
	return &AnthropicGateway{
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		breaker:   resilience.NewCircuitBreaker(breaker),
		retry:     retry,
		maxTokens: maxTokens,
	}
}

// Invoke sends the call to the provider. Transient failures are retried
// internally; the returned error, if any, is a classified *ProviderError
// (or a plain error for request construction failures).
func (g *AnthropicGateway) Invoke(ctx context.Context, call Call) (*Result, error) {
	req, err := g.buildRequest(call)
	if err != nil {
		return nil, err
	}

	resp, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "gateway: rate limiter wait")
		}
		return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			resp, err := g.client.CreateMessage(ctx, req)
			if err != nil {
				return nil, classify(err)
			}
			return resp, nil
		})
	})
	if err != nil {
		return nil, err
	}

	resp.Usage.LogCost(resp.Model, "extract")

	return &Result{
		Text:  resp.Text(),
		Model: resp.Model,
		Usage: resp.Usage,
	}, nil
}

func (g *AnthropicGateway) buildRequest(call Call) (anthropic.MessageRequest, error) {
	if len(call.Turns) == 0 {
		return anthropic.MessageRequest{}, eris.New("gateway: call has no turns")
	}

	maxTokens := g.maxTokens
	if call.MaxOutputTokens != nil {
		maxTokens = *call.MaxOutputTokens
	}

	req := anthropic.MessageRequest{
		Model:       call.Model,
		MaxTokens:   maxTokens,
		Temperature: call.Temperature,
		TopP:        call.TopP,
	}
	if call.SystemInstruction != "" {
		req.System = anthropic.BuildCachedSystemBlocks(call.SystemInstruction)
	}

	msgs := make([]anthropic.Message, 0, len(call.Turns))
	for i, turn := range call.Turns {
		if i == 0 && turn.Role == "user" && len(call.Files) > 0 {
			msgs = append(msgs, attachFiles(turn, call.Files))
			continue
		}
		msgs = append(msgs, anthropic.TextMessage(turn.Role, turn.Text))
	}
	req.Messages = msgs

	return req, nil
}

func attachFiles(turn Turn, files []model.NormalizedFile) anthropic.Message {
	parts := make([]anthropic.ContentPart, 0, len(files)+1)
	for _, f := range files {
		parts = append(parts, anthropic.ContentPart{File: &anthropic.FileAttachment{
			Name:     f.DisplayName,
			MIMEType: f.MIMEType,
			Data:     f.Content,
		}})
	}
	parts = append(parts, anthropic.ContentPart{Text: turn.Text})
	return anthropic.Message{Role: turn.Role, Parts: parts}
}

// classify maps a provider failure to a ProviderError. The SDK exposes
// HTTP status via *sdk.Error; anything else retryable is detected by the
// shared transient heuristics.
func classify(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		retryable := resilience.IsTransientHTTPStatus(apierr.StatusCode)
		pe := &ProviderError{StatusCode: apierr.StatusCode, Retryable: retryable, Err: err}
		if retryable {
			zap.L().Warn("retryable provider error", zap.Int("status", apierr.StatusCode), zap.Error(err))
			return resilience.NewTransientError(pe, apierr.StatusCode)
		}
		return pe
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(&ProviderError{Retryable: true, Err: err}, 0)
	}
	return &ProviderError{Retryable: false, Err: err}
}
