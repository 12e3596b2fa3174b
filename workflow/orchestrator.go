package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/superglue-ai/superglue-go/core"
	"github.com/superglue-ai/superglue-go/engine"
	"github.com/superglue-ai/superglue-go/healing"
	"github.com/superglue-ai/superglue-go/sandbox"
)

// Orchestrator runs workflows step by step. Steps see the results of
// every prior step in their variable scope under the prior step's id.
// When an Agent is configured, healable step failures trigger a healing
// episode before the workflow gives up.
type Orchestrator struct {
	Runner    *engine.StepRunner
	Agent     *healing.Agent
	Sandbox   *sandbox.Evaluator
	Store     RunStore
	Logger    core.Logger
	Telemetry core.Telemetry
}

// NewOrchestrator wires an orchestrator. Agent and store may be nil.
func NewOrchestrator(runner *engine.StepRunner, agent *healing.Agent, evaluator *sandbox.Evaluator, store RunStore, logger core.Logger, telemetry core.Telemetry) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Orchestrator{
		Runner:    runner,
		Agent:     agent,
		Sandbox:   evaluator,
		Store:     store,
		Logger:    logger,
		Telemetry: telemetry,
	}
}

// Execute runs the workflow to completion. The returned Run is also
// persisted to the store when one is configured; store failures are
// logged, not propagated.
func (o *Orchestrator) Execute(ctx context.Context, wf *Workflow, payload map[string]interface{}, credentials map[string]string, opts core.RequestOptions) (*Run, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	ctx, span := o.Telemetry.StartSpan(ctx, "workflow.execute")
	defer span.End()
	span.SetAttribute("workflow.id", wf.ID)

	run := &Run{
		ID:          uuid.NewString(),
		WorkflowID:  wf.ID,
		StepResults: make(map[string]interface{}, len(wf.Steps)),
		StartedAt:   time.Now(),
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		stepScope := mergeScope(payload, run.StepResults)

		var (
			data interface{}
			err  error
		)
		if step.Mode == ModeLoop {
			data, err = o.executeLoop(ctx, step, stepScope, credentials, opts)
		} else {
			data, err = o.executeStep(ctx, step, &step.Endpoint, stepScope, credentials, opts)
		}
		if err != nil {
			span.RecordError(err)
			run.Error = core.MaskCredentials(err.Error(), credentials)
			run.CompletedAt = time.Now()
			o.persist(ctx, run)
			o.Logger.Error("Workflow failed", map[string]interface{}{
				"operation":   "workflow_execute",
				"workflow_id": wf.ID,
				"run_id":      run.ID,
				"step_id":     step.ID,
				"error":       run.Error,
			})
			return run, err
		}
		run.StepResults[step.ID] = data
	}

	final, err := o.finalize(ctx, wf, run.StepResults)
	if err != nil {
		span.RecordError(err)
		run.Error = core.MaskCredentials(err.Error(), credentials)
		run.CompletedAt = time.Now()
		o.persist(ctx, run)
		return run, err
	}
	run.Data = final
	run.Success = true
	run.CompletedAt = time.Now()
	o.persist(ctx, run)

	o.Logger.Info("Workflow completed", map[string]interface{}{
		"operation":   "workflow_execute",
		"workflow_id": wf.ID,
		"run_id":      run.ID,
		"steps":       len(wf.Steps),
		"duration_ms": run.CompletedAt.Sub(run.StartedAt).Milliseconds(),
	})
	return run, nil
}

// executeStep runs one endpoint, handing healable failures to the agent
// when one is configured. On healed success the step's endpoint is
// replaced with the working configuration.
func (o *Orchestrator) executeStep(ctx context.Context, step *Step, ep *core.Endpoint, payload map[string]interface{}, credentials map[string]string, opts core.RequestOptions) (interface{}, error) {
	resp, err := o.Runner.Execute(ctx, ep, payload, credentials, opts)
	if err == nil {
		return resp.Data, nil
	}
	if o.Agent == nil || !core.Healable(err) {
		return nil, fmt.Errorf("step %q: %w", step.ID, err)
	}

	o.Logger.Info("Step failed, starting healing", map[string]interface{}{
		"operation": "workflow_heal",
		"step_id":   step.ID,
		"error":     core.MaskCredentials(err.Error(), credentials),
	})
	resp, healed, healErr := o.Agent.Heal(ctx, healing.HealInput{
		Endpoint:    ep,
		Failure:     err,
		Payload:     payload,
		Credentials: credentials,
		Options:     opts,
	})
	if healErr != nil {
		return nil, fmt.Errorf("step %q: %w", step.ID, healErr)
	}
	// Later loop iterations reuse the working configuration.
	step.Endpoint = *healed
	return resp.Data, nil
}

// executeLoop resolves the loop selector to an item list and runs the
// endpoint once per item with currentItem bound.
func (o *Orchestrator) executeLoop(ctx context.Context, step *Step, payload map[string]interface{}, credentials map[string]string, opts core.RequestOptions) (interface{}, error) {
	items, err := o.selectItems(ctx, step, payload)
	if err != nil {
		return nil, err
	}
	if step.LoopMaxIters > 0 && len(items) > step.LoopMaxIters {
		items = items[:step.LoopMaxIters]
	}

	results := make([]interface{}, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iterPayload := mergeScope(payload, map[string]interface{}{"currentItem": item})
		data, err := o.executeStep(ctx, step, &step.Endpoint, iterPayload, credentials, opts)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", i, err)
		}
		results = append(results, data)
	}
	return results, nil
}

// selectItems evaluates the loop selector: an arrow function over the
// scope, or a dotted path into it.
func (o *Orchestrator) selectItems(ctx context.Context, step *Step, scope map[string]interface{}) ([]interface{}, error) {
	selector := strings.TrimSpace(step.LoopSelector)

	var (
		value interface{}
		err   error
	)
	if strings.Contains(selector, "=>") {
		value, err = o.Sandbox.EvaluateExpression(ctx, selector, scope)
		if err != nil {
			return nil, fmt.Errorf("step %q: loopSelector failed: %w", step.ID, err)
		}
	} else {
		var ok bool
		value, ok = core.LookupPath(scope, selector)
		if !ok {
			return nil, fmt.Errorf("step %q: loopSelector %q did not resolve", step.ID, selector)
		}
	}

	items, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("step %q: loopSelector must produce an array, got %T", step.ID, value)
	}
	return items, nil
}

// finalize applies the workflow's final transform to the step-result
// map, or returns the map itself when no transform is set.
func (o *Orchestrator) finalize(ctx context.Context, wf *Workflow, stepResults map[string]interface{}) (interface{}, error) {
	ft := strings.TrimSpace(wf.FinalTransform)
	if ft == "" {
		return stepResults, nil
	}
	if strings.Contains(ft, "=>") {
		value, err := o.Sandbox.EvaluateExpression(ctx, ft, stepResults)
		if err != nil {
			return nil, fmt.Errorf("finalTransform failed: %w", err)
		}
		return value, nil
	}
	value, ok := core.WalkDataPath(stepResults, ft)
	if !ok {
		return nil, fmt.Errorf("finalTransform path %q did not resolve", ft)
	}
	return value, nil
}

func (o *Orchestrator) persist(ctx context.Context, run *Run) {
	if o.Store == nil {
		return
	}
	if err := o.Store.Save(ctx, run); err != nil {
		o.Logger.Warn("Failed to persist run", map[string]interface{}{
			"operation": "runstore_save",
			"run_id":    run.ID,
			"error":     err.Error(),
		})
	}
}

// mergeScope layers extra over base without mutating either.
func mergeScope(base map[string]interface{}, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
