package gateway

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docflow/internal/schema"
)

// StubGateway answers every call with a skeleton document derived from
// the call's schema: objects with every property present, empty arrays,
// null primitives. It lets callers exercise the full pipeline without
// provider credentials.
type StubGateway struct{}

// NewStub creates a stub gateway.
func NewStub() *StubGateway {
	return &StubGateway{}
}

func (g *StubGateway) Invoke(_ context.Context, call Call) (*Result, error) {
	if len(call.Schema) == 0 {
		return &Result{Text: "null", Model: "stub"}, nil
	}

	node, err := schema.Parse(call.Schema)
	if err != nil {
		return nil, eris.Wrap(err, "gateway: stub parse schema")
	}

	data, err := json.Marshal(schema.Stub(node))
	if err != nil {
		return nil, eris.Wrap(err, "gateway: stub marshal")
	}

	zap.L().Debug("stub gateway invoked",
		zap.String("model", call.Model),
		zap.Int("files", len(call.Files)),
	)

	return &Result{Text: string(data), Model: "stub"}, nil
}
