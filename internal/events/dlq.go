package events

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/resilience"
)

// DeadLetters lists dead-lettered deliveries, oldest key first. The
// filter narrows by error type and caps the number of entries returned.
func (p *Processor) DeadLetters(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	keys, err := p.objects.List(ctx, p.opts.DLQPrefix)
	if err != nil {
		return nil, eris.Wrap(err, "events: list dlq")
	}

	entries := make([]resilience.DLQEntry, 0, len(keys))
	for _, key := range keys {
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
		data, err := p.objects.Get(ctx, key)
		if err != nil {
			return nil, eris.Wrapf(err, "events: read dlq entry %s", key)
		}
		var entry resilience.DLQEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			zap.L().Warn("skipping malformed dlq entry", zap.String("key", key), zap.Error(err))
			continue
		}
		if filter.ErrorType != "" && entry.ErrorType != filter.ErrorType {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ErrReplayExhausted reports a dead-letter entry past its retry budget.
var ErrReplayExhausted = eris.New("events: dlq entry has exhausted its retry budget")

// ReplayDeadLetter re-dispatches a dead-lettered envelope through the
// normal delivery stages. A successful replay persists the result, so
// replaying the same entry again resolves as a dedup hit. A failed
// replay increments the entry's retry count in place.
func (p *Processor) ReplayDeadLetter(ctx context.Context, id string) (*Ack, error) {
	key := p.opts.DLQPrefix + id + ".json"
	data, err := p.objects.Get(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "events: read dlq entry %s", id)
	}
	var entry resilience.DLQEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, eris.Wrapf(err, "events: decode dlq entry %s", id)
	}
	if !entry.CanRetry() {
		return nil, ErrReplayExhausted
	}

	var env EventEnvelope
	if err := json.Unmarshal(entry.Envelope, &env); err != nil {
		return nil, eris.Wrapf(err, "events: decode dlq envelope %s", id)
	}

	log := zap.L().With(
		zap.String("trace_id", entry.ID),
		zap.String("event", env.Event),
		zap.Bool("replay", true),
	)

	ack, runErr := p.process(ctx, log, &env, "dlq-replay", entry.ID, false)
	if runErr != nil {
		entry.RetryCount++
		entry.Error = runErr.Error()
		entry.ErrorType = resilience.ClassifyError(runErr)
		entry.LastFailedAt = p.now()
		if updated, err := json.Marshal(entry); err == nil {
			if err := p.objects.Put(ctx, key, updated); err != nil {
				log.Error("update dlq entry", zap.String("key", key), zap.Error(err))
			}
		}
		return nil, runErr
	}
	return ack, nil
}
