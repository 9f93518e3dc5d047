package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/notify"
	"github.com/sells-group/docflow/internal/resilience"
	"github.com/sells-group/docflow/internal/store"
)

// Processing states, logged as each delivery moves through the state
// machine RECEIVED → VALIDATED → (DEDUP_HIT | EXECUTING) → PERSISTED →
// NOTIFIED.
const (
	StateReceived  = "RECEIVED"
	StateValidated = "VALIDATED"
	StateDedupHit  = "DEDUP_HIT"
	StateExecuting = "EXECUTING"
	StatePersisted = "PERSISTED"
	StateNotified  = "NOTIFIED"
)

// ReadyEvent is the event name of emitted ready notifications.
const ReadyEvent = "extractions.ready"

// Runner executes one extraction request.
type Runner interface {
	Run(ctx context.Context, req *model.ExtractionRequest) (*model.Envelope, error)
}

// Options configures the processor.
type Options struct {
	// Event is the dispatch key deliveries must carry.
	Event string
	// OutputDestination receives ready notifications when the envelope
	// has no replyTo. Empty means no publish for such envelopes.
	OutputDestination string
	// ResultPrefix prefixes result object keys. Default "results/".
	ResultPrefix string
	// ResultBaseURI prefixes the resultUri surfaced in the ready
	// notification, e.g. "obj://extractions".
	ResultBaseURI string
	// DLQPrefix prefixes dead-letter objects. Default "dlq/".
	DLQPrefix string
}

// Processor handles push deliveries idempotently. The create-only
// result write is the sole synchronization point for duplicate or
// concurrent deliveries of the same dedup key.
type Processor struct {
	runner    Runner
	objects   store.ObjectStore
	publisher notify.Publisher
	opts      Options
	now       func() time.Time
}

// NewProcessor creates a processor. publisher may be nil, disabling
// notifications.
func NewProcessor(runner Runner, objects store.ObjectStore, publisher notify.Publisher, opts Options) *Processor {
	if opts.Event == "" {
		opts.Event = "extractions.request"
	}
	if opts.ResultPrefix == "" {
		opts.ResultPrefix = "results/"
	}
	if opts.DLQPrefix == "" {
		opts.DLQPrefix = "dlq/"
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Processor{runner: runner, objects: objects, publisher: publisher, opts: opts, now: time.Now}
}

// Ack is the delivery acknowledgment returned to the push transport.
type Ack struct {
	OK           bool     `json:"ok"`
	Event        string   `json:"event"`
	TraceID      string   `json:"trace_id"`
	RequestID    string   `json:"request_id"`
	Deduplicated bool     `json:"deduplicated"`
	Published    bool     `json:"published"`
	ResultURI    string   `json:"result_uri,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// Handle processes one push delivery for the given dispatch event.
// Validation failures return a *model.ValidationError and must be acked
// terminally by the transport, never redelivered.
func (p *Processor) Handle(ctx context.Context, event string, body []byte) (*Ack, error) {
	traceID := uuid.NewString()
	log := zap.L().With(zap.String("trace_id", traceID), zap.String("event", event))
	log.Info("event delivery", zap.String("state", StateReceived))

	delivery, err := DecodePush(body)
	if err != nil {
		return nil, err
	}
	env := delivery.Envelope
	if err := env.Validate(event); err != nil {
		return nil, err
	}

	return p.process(ctx, log, env, delivery.Subscription, traceID, true)
}

// process runs one validated envelope through the dedup, execute,
// persist and notify stages. letterFailures controls whether a failed
// execution is dead-lettered; replays track failures on their own entry
// instead of minting a new one.
func (p *Processor) process(ctx context.Context, log *zap.Logger, env *EventEnvelope, subscription, traceID string, letterFailures bool) (*Ack, error) {
	dedupKey := env.RequestID
	if dedupKey == "" {
		dedupKey = env.MessageKey()
	}
	if dedupKey == "" {
		// Without a caller-supplied key this delivery cannot be
		// deduplicated against its siblings.
		dedupKey = uuid.NewString()
		log.Warn("no requestId or messageKey on envelope, idempotency not enforceable",
			zap.String("dedup_key", dedupKey))
	}
	log = log.With(zap.String("request_id", dedupKey))
	log.Info("event delivery", zap.String("state", StateValidated))

	resultKey := p.opts.ResultPrefix + dedupKey + ".json"
	resultURI := p.resultURI(resultKey)

	ack := &Ack{OK: true, Event: env.Event, TraceID: traceID, RequestID: dedupKey, ResultURI: resultURI}

	// Duplicate delivery: skip execution, just re-emit the ready
	// notification.
	if _, err := p.objects.Get(ctx, resultKey); err == nil {
		log.Info("event delivery", zap.String("state", StateDedupHit))
		ack.Deduplicated = true
		ack.Published = p.notifyReady(ctx, log, env, subscription, traceID, dedupKey, resultURI)
		return ack, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "events: dedup check")
	}

	payload, err := ParsePayload(env.Payload)
	if err != nil {
		return nil, err
	}
	req, warnings, err := payload.ToRequest(ctx, p.objects, dedupKey)
	if err != nil {
		return nil, err
	}
	ack.Warnings = warnings

	log.Info("event delivery", zap.String("state", StateExecuting))
	result, err := p.runner.Run(ctx, req)
	if err != nil {
		if letterFailures {
			p.deadLetter(ctx, log, env, dedupKey, err)
		}
		return nil, err
	}
	result.Meta.TraceID = traceID
	result.Meta.Warnings = append(warnings, result.Meta.Warnings...)

	data, err := json.Marshal(result)
	if err != nil {
		return nil, eris.Wrap(err, "events: marshal result")
	}
	created, err := p.objects.CreateIfAbsent(ctx, resultKey, data)
	if err != nil {
		return nil, eris.Wrap(err, "events: persist result")
	}
	if !created {
		// Lost the write race to a concurrent delivery. Same outcome as
		// a dedup hit.
		log.Info("event delivery", zap.String("state", StateDedupHit), zap.Bool("write_race", true))
		ack.Deduplicated = true
	} else {
		log.Info("event delivery", zap.String("state", StatePersisted))
	}

	ack.Published = p.notifyReady(ctx, log, env, subscription, traceID, dedupKey, resultURI)
	return ack, nil
}

func (p *Processor) resultURI(key string) string {
	if p.opts.ResultBaseURI == "" {
		return key
	}
	return strings.TrimSuffix(p.opts.ResultBaseURI, "/") + "/" + key
}

// notifyReady publishes the ready envelope to replyTo, falling back to
// the configured output destination. Best effort: failures are logged.
func (p *Processor) notifyReady(ctx context.Context, log *zap.Logger, env *EventEnvelope, subscription, traceID, requestID, resultURI string) bool {
	destination := env.ReplyTo
	if destination == "" {
		destination = p.opts.OutputDestination
	}
	if destination == "" {
		return false
	}

	ready := ReadyEnvelope{
		Version:   env.Version,
		Event:     ReadyEvent,
		RequestID: requestID,
		Source:    env.Source,
		ReplyTo:   env.ReplyTo,
		Meta:      env.Meta,
		Payload:   ReadyPayload{Status: "ok", ResultURI: resultURI},
	}
	payload, err := json.Marshal(ready)
	if err != nil {
		log.Error("marshal ready envelope", zap.Error(err))
		return false
	}

	attrs := map[string]string{
		"trace_id":     traceID,
		"source":       "events/" + env.Event,
		"eventName":    ReadyEvent,
		"subscription": subscription,
	}
	if key := env.MessageKey(); key != "" {
		attrs["messageKey"] = key
	}

	if err := p.publisher.Publish(ctx, destination, attrs, payload); err != nil {
		log.Warn("ready notification failed", zap.String("destination", destination), zap.Error(err))
		return false
	}
	log.Info("event delivery", zap.String("state", StateNotified), zap.String("destination", destination))
	return true
}

// deadLetter records a terminal execution failure for later replay.
func (p *Processor) deadLetter(ctx context.Context, log *zap.Logger, env *EventEnvelope, dedupKey string, cause error) {
	raw, err := json.Marshal(env)
	if err != nil {
		raw = nil
	}
	entry := resilience.DLQEntry{
		ID:           uuid.NewString(),
		Event:        env.Event,
		DedupKey:     dedupKey,
		Envelope:     raw,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		MaxRetries:   3,
		CreatedAt:    p.now(),
		LastFailedAt: p.now(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Error("marshal dlq entry", zap.Error(err))
		return
	}
	key := p.opts.DLQPrefix + entry.ID + ".json"
	if _, err := p.objects.CreateIfAbsent(ctx, key, data); err != nil {
		log.Error("write dlq entry", zap.String("key", key), zap.Error(err))
		return
	}
	log.Warn("delivery dead-lettered", zap.String("key", key), zap.String("error_type", entry.ErrorType))
}
