package engine

import (
	"context"
	"time"

	"github.com/superglue-ai/superglue-go/core"
	"github.com/superglue-ai/superglue-go/sandbox"
	"github.com/superglue-ai/superglue-go/transport"
)

// StepRunner executes one workflow step: resolve, dispatch, interpret,
// paginate. Failures surface as structured EngineErrors so the healing
// agent can decide what to regenerate.
type StepRunner struct {
	Config     *core.Config
	Resolver   *Resolver
	Dispatcher *transport.Dispatcher
	Paginator  *Paginator
	Logger     core.Logger
	Telemetry  core.Telemetry
}

// NewStepRunner wires a runner over the given dispatcher and evaluator.
func NewStepRunner(cfg *core.Config, dispatcher *transport.Dispatcher, evaluator *sandbox.Evaluator, logger core.Logger, telemetry core.Telemetry) *StepRunner {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	resolver := NewResolver(evaluator, logger)
	return &StepRunner{
		Config:     cfg,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Paginator: &Paginator{
			Resolver:   resolver,
			Dispatcher: dispatcher,
			Evaluator:  evaluator,
			Config:     cfg,
			Logger:     logger,
			Telemetry:  telemetry,
		},
		Logger:    logger,
		Telemetry: telemetry,
	}
}

// Execute runs the endpoint once to completion. Non-HTTP transports are
// single-shot: pagination only applies to HTTP endpoints.
func (r *StepRunner) Execute(ctx context.Context, ep *core.Endpoint, payload map[string]interface{}, credentials map[string]string, opts core.RequestOptions) (*core.Response, error) {
	ctx, span := r.Telemetry.StartSpan(ctx, "engine.step")
	defer span.End()

	opts = opts.Normalized(r.Config)
	scope := BuildScope(payload, credentials, nil, nil)

	host, err := r.Resolver.ResolveString(ctx, ep.URLHost, scope, credentials)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	kind := transport.KindOf(host)
	span.SetAttribute("transport.kind", string(kind))

	start := time.Now()
	var resp *core.Response
	if kind == transport.KindHTTP {
		resp, err = r.Paginator.Execute(ctx, ep, scope, credentials, opts)
	} else {
		resp, err = r.executeSingle(ctx, ep, scope, credentials, opts)
	}
	if err != nil {
		span.RecordError(err)
		r.Logger.Error("Step execution failed", map[string]interface{}{
			"operation":   "step_execute",
			"transport":   string(kind),
			"duration_ms": time.Since(start).Milliseconds(),
			"error":       core.MaskCredentials(err.Error(), credentials),
		})
		return nil, err
	}

	r.Logger.Info("Step executed", map[string]interface{}{
		"operation":   "step_execute",
		"transport":   string(kind),
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return resp, nil
}

// executeSingle runs one non-HTTP call. These transports synthesize a
// 200 on success, so interpretation only matters for the error shape.
func (r *StepRunner) executeSingle(ctx context.Context, ep *core.Endpoint, scope map[string]interface{}, credentials map[string]string, opts core.RequestOptions) (*core.Response, error) {
	req, err := r.Resolver.ResolveRequest(ctx, ep, scope, credentials, opts)
	if err != nil {
		return nil, err
	}
	resp, err := r.Dispatcher.Do(ctx, req)
	if err != nil {
		if ee, ok := core.AsEngineError(err); ok {
			ee.Message = core.MaskCredentials(ee.Message, credentials)
			return nil, ee
		}
		return nil, err
	}
	if err := Interpret(resp, req, credentials); err != nil {
		return nil, err
	}
	return resp, nil
}
