// Package engine is the extraction orchestrator. It resolves the
// profile, validates the schema, normalizes files, partitions the
// request into units by mode, runs the units under a bounded worker
// pool with a per-unit repair loop, and aggregates the outcomes into
// the response envelope.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docflow/internal/catalog"
	"github.com/sells-group/docflow/internal/fetcher"
	"github.com/sells-group/docflow/internal/gateway"
	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/schema"
)

// Options configures the engine.
type Options struct {
	// DefaultWorkers is the pool size when a request does not ask for
	// one. Zero means 4.
	DefaultWorkers int
	// MaxWorkers clamps caller-requested pool sizes. Zero means 16.
	MaxWorkers int
	// DefaultRepairAttempts bounds the per-unit repair loop when the
	// request does not set its own bound. Zero means 2.
	DefaultRepairAttempts int
	// MaxFiles caps the total file count of a request. Zero means no
	// cap.
	MaxFiles int
	// DefaultModel is used when neither the request nor the profile
	// names a model.
	DefaultModel string
	// RequestTimeout bounds the whole orchestration. Zero means no
	// timeout.
	RequestTimeout time.Duration
	// ConformanceRepair feeds advisory schema-conformance failures back
	// into the repair loop. The final answer is never rejected for
	// non-conformance, only flagged.
	ConformanceRepair bool
}

// Engine orchestrates extractions.
type Engine struct {
	catalog    *catalog.Catalog
	gateway    gateway.Gateway
	normalizer *fetcher.Normalizer
	opts       Options
}

// New creates an engine. catalog may be nil if every request is
// self-contained (inline schema and prompt).
func New(cat *catalog.Catalog, gw gateway.Gateway, norm *fetcher.Normalizer, opts Options) *Engine {
	if opts.DefaultWorkers <= 0 {
		opts.DefaultWorkers = 4
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 16
	}
	if opts.DefaultRepairAttempts <= 0 {
		opts.DefaultRepairAttempts = 2
	}
	return &Engine{catalog: cat, gateway: gw, normalizer: norm, opts: opts}
}

// effective is the request after profile resolution: every field the
// unit runner needs, with request values layered over profile values.
type effective struct {
	profileLabel string
	schemaDoc    json.RawMessage
	prompt       string
	system       string
	model        string
	params       model.Parameters
	maxAttempts  int
}

// Run executes one extraction request. Request-wide failures (bad mode,
// unresolvable profile, malformed schema, disallowed file type) return
// an error and no partial data; per-unit failures are captured in the
// envelope without aborting sibling units.
func (e *Engine) Run(ctx context.Context, req *model.ExtractionRequest) (*model.Envelope, error) {
	if e.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RequestTimeout)
		defer cancel()
	}

	eff, err := e.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	if e.opts.MaxFiles > 0 {
		total := len(req.Files)
		for _, g := range req.Groups {
			total += len(g.Files)
		}
		if total > e.opts.MaxFiles {
			return nil, model.NewValidationError("files",
				fmt.Sprintf("request has %d files, limit is %d", total, e.opts.MaxFiles))
		}
	}

	units, err := e.buildUnits(ctx, req)
	if err != nil {
		return nil, err
	}

	zap.L().Info("extraction starting",
		zap.String("mode", string(req.Mode)),
		zap.String("profile", eff.profileLabel),
		zap.String("model", eff.model),
		zap.Int("units", len(units)),
		zap.Int("workers", e.workers(req.Workers)),
	)

	outcomes := e.execute(ctx, req.Workers, units, eff, metaMode(req.Mode))

	return e.assemble(req, eff, units, outcomes), nil
}

// metaMode is the per-unit meta.mode label for a request mode.
func metaMode(m model.Mode) string {
	switch m {
	case model.ModeSingle:
		return "aggregate"
	case model.ModePerFile:
		return "file"
	case model.ModeGrouped:
		return "group"
	}
	return string(m)
}

// resolve layers the request over its profile and validates the schema.
func (e *Engine) resolve(ctx context.Context, req *model.ExtractionRequest) (effective, error) {
	if !req.Mode.Valid() {
		return effective{}, model.NewValidationError("mode", fmt.Sprintf("unknown mode %q", req.Mode))
	}

	eff := effective{
		schemaDoc: req.Schema,
		prompt:    req.Prompt,
		system:    req.SystemInstruction,
		model:     req.Model,
		params:    req.Parameters,
	}

	if req.ProfilePath != "" {
		if e.catalog == nil {
			return effective{}, model.NewValidationError("profile_path", "no profile catalog configured")
		}
		base, version := catalog.SplitVersion(req.ProfilePath)
		p, err := e.catalog.Resolve(ctx, base, version)
		if err != nil {
			return effective{}, err
		}
		eff.profileLabel = fmt.Sprintf("%s/v%d", p.Path, p.Version)
		if len(eff.schemaDoc) == 0 {
			eff.schemaDoc = p.Schema
		}
		if eff.prompt == "" {
			eff.prompt = p.Prompt
		}
		if eff.system == "" {
			eff.system = p.SystemInstruction
		}
		if eff.model == "" {
			eff.model = p.Model
		}
		eff.params = req.Parameters.Merged(p.Defaults)
	}

	if eff.model == "" {
		eff.model = e.opts.DefaultModel
	}
	if len(eff.schemaDoc) == 0 {
		return effective{}, model.NewValidationError("schema", "request has neither an inline schema nor a profile")
	}
	if _, err := schema.Parse(eff.schemaDoc); err != nil {
		return effective{}, model.NewValidationError("schema", err.Error())
	}

	eff.maxAttempts = req.Repair.MaxAttempts
	if eff.maxAttempts <= 0 {
		eff.maxAttempts = e.opts.DefaultRepairAttempts
	}

	return eff, nil
}

// unit is one independently-executed slice of the request.
type unit struct {
	index   int
	groupID string
	files   []model.NormalizedFile
}

// buildUnits normalizes every file in the request up front, so one
// disallowed MIME type rejects the whole request before any model call,
// then partitions by mode.
func (e *Engine) buildUnits(ctx context.Context, req *model.ExtractionRequest) ([]unit, error) {
	switch req.Mode {
	case model.ModeSingle:
		files, err := e.normalize(ctx, req.Files)
		if err != nil {
			return nil, err
		}
		return []unit{{index: 0, files: files}}, nil

	case model.ModePerFile:
		files, err := e.normalize(ctx, req.Files)
		if err != nil {
			return nil, err
		}
		units := make([]unit, len(files))
		for i, f := range files {
			units[i] = unit{index: i, files: []model.NormalizedFile{f}}
		}
		return units, nil

	case model.ModeGrouped:
		// Flatten so the whole request is normalized and MIME-checked in
		// one pass, then re-slice per group.
		var refs []model.FileRef
		for _, g := range req.Groups {
			refs = append(refs, g.Files...)
		}
		files, err := e.normalize(ctx, refs)
		if err != nil {
			return nil, err
		}
		units := make([]unit, len(req.Groups))
		offset := 0
		for i, g := range req.Groups {
			units[i] = unit{index: i, groupID: g.ID, files: files[offset : offset+len(g.Files)]}
			offset += len(g.Files)
		}
		return units, nil
	}
	return nil, model.NewValidationError("mode", fmt.Sprintf("unknown mode %q", req.Mode))
}

func (e *Engine) normalize(ctx context.Context, refs []model.FileRef) ([]model.NormalizedFile, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	if e.normalizer == nil {
		return nil, eris.New("engine: no file normalizer configured")
	}
	return e.normalizer.NormalizeAll(ctx, refs)
}

func (e *Engine) workers(requested int) int {
	w := requested
	if w <= 0 {
		w = e.opts.DefaultWorkers
	}
	if w > e.opts.MaxWorkers {
		w = e.opts.MaxWorkers
	}
	return w
}

// execute runs units under a bounded pool. Outcome placement is by unit
// index, never by completion order.
func (e *Engine) execute(ctx context.Context, requestedWorkers int, units []unit, eff effective, metaMode string) []unitOutcome {
	outcomes := make([]unitOutcome, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers(requestedWorkers))
	for i, u := range units {
		g.Go(func() error {
			outcomes[i] = e.runUnit(gctx, u, eff, metaMode)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// assemble folds unit outcomes into the mode-shaped envelope. ok is true
// iff every unit succeeded; unit failures stay in their slot.
func (e *Engine) assemble(req *model.ExtractionRequest, eff effective, units []unit, outcomes []unitOutcome) *model.Envelope {
	env := &model.Envelope{
		Meta: model.EnvelopeMeta{Model: eff.model, TraceID: req.RequestID},
	}

	for _, o := range outcomes {
		env.Meta.Warnings = append(env.Meta.Warnings, o.warnings...)
		if o.err != nil {
			env.Errors = append(env.Errors, *o.err)
		}
		if o.model != "" {
			env.Meta.Model = o.model
		}
	}

	switch req.Mode {
	case model.ModeSingle:
		if len(outcomes) == 1 && outcomes[0].result != nil {
			env.Data = outcomes[0].result
		}
	case model.ModePerFile:
		results := make([]*model.ExtractionResult, len(outcomes))
		for i, o := range outcomes {
			results[i] = o.result
		}
		env.Data = results
	case model.ModeGrouped:
		groups := make([]model.GroupResult, len(outcomes))
		for i, o := range outcomes {
			groups[i] = model.GroupResult{GroupID: units[i].groupID, Result: o.result, Error: o.err}
		}
		env.Data = model.GroupedData{Groups: groups}
	}

	env.OK = len(env.Errors) == 0
	return env
}
