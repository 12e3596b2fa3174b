// Package healing regenerates failing step configurations through an
// LLM loop: propose via the submit tool, execute, judge, repeat until
// success, abort or exhaustion.
package healing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/superglue-ai/superglue-go/core"
	"github.com/superglue-ai/superglue-go/engine"
	"github.com/superglue-ai/superglue-go/llm"
)

// maxToolTurns bounds the intermediate custom-tool loop within one
// attempt so a model that never submits cannot spin forever.
const maxToolTurns = 6

// CustomTool pairs a tool definition with its local handler. The
// handler's string result is appended to the history as a tool message.
type CustomTool struct {
	Tool    llm.Tool
	Handler func(ctx context.Context, args json.RawMessage) (string, error)
}

// NewSearchDocumentationTool exposes keyword search over the step's
// documentation. maxUses of zero means unbounded.
func NewSearchDocumentationTool(documentation string, budget, maxUses int) CustomTool {
	return CustomTool{
		Tool: llm.Tool{
			Name:        "search_documentation",
			Description: "Search the API documentation for sections matching the given keywords.",
			Parameters:  searchDocumentationParameters,
			MaxUses:     maxUses,
		},
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			var params struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid search_documentation arguments: %w", err)
			}
			excerpt := SelectDocumentation(documentation, params.Query, budget)
			if excerpt == "" {
				return "No matching documentation sections found.", nil
			}
			return excerpt, nil
		},
	}
}

// Agent runs healing episodes. MaxAttempts bounds proposal rounds;
// CustomTools are offered to the model alongside submit and abort.
type Agent struct {
	Client      llm.Client
	Runner      *engine.StepRunner
	Evaluator   *ResponseEvaluator
	Logger      core.Logger
	Telemetry   core.Telemetry
	Config      *core.Config
	CustomTools []CustomTool
}

// NewAgent wires an agent over the given model client and runner.
func NewAgent(client llm.Client, runner *engine.StepRunner, cfg *core.Config, logger core.Logger, telemetry core.Telemetry) *Agent {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Agent{
		Client:    client,
		Runner:    runner,
		Evaluator: NewResponseEvaluator(client, logger),
		Logger:    logger,
		Telemetry: telemetry,
		Config:    cfg,
	}
}

// HealInput describes one failing step.
type HealInput struct {
	Endpoint      *core.Endpoint
	Failure       error
	Payload       map[string]interface{}
	Credentials   map[string]string
	Documentation string
	Options       core.RequestOptions
}

// Heal runs one episode and returns the successful response together
// with the configuration that produced it. The message history grows
// monotonically across attempts; each submit is executed before the
// model is asked again.
func (a *Agent) Heal(ctx context.Context, in HealInput) (*core.Response, *core.Endpoint, error) {
	if in.Failure != nil && !core.Healable(in.Failure) {
		return nil, nil, in.Failure
	}

	ctx, span := a.Telemetry.StartSpan(ctx, "healing.episode")
	defer span.End()

	episode := uuid.NewString()
	span.SetAttribute("healing.episode", episode)

	maxAttempts := a.Config.Healing.MaxAttempts
	docBudget := a.Config.Healing.DocumentationBudget

	history := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: BuildInitialPrompt(in.Endpoint, in.Failure, in.Payload, in.Credentials, in.Documentation, docBudget)},
	}
	toolUses := map[string]int{}
	var lastErr error = in.Failure

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		temperature := float64(attempt) * 0.1
		if temperature > 1.0 {
			temperature = 1.0
		}
		start := time.Now()

		call, err := a.generate(ctx, &history, temperature, toolUses)
		if err != nil {
			span.RecordError(err)
			return nil, nil, err
		}

		if call.Name == llm.ToolAbort {
			reason := abortReason(call.Arguments)
			a.Logger.Info("Healing aborted by model", map[string]interface{}{
				"operation": "healing_abort",
				"episode":   episode,
				"attempt":   attempt,
				"reason":    reason,
			})
			return nil, nil, &core.EngineError{
				Kind:    core.KindLLMAbort,
				Message: fmt.Sprintf("healing aborted: %s", reason),
				Err:     core.ErrAborted,
			}
		}

		candidate, err := applyProposal(in.Endpoint, call.Arguments)
		if err != nil {
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("Proposal rejected: %v. Submit a corrected configuration.", err),
			})
			lastErr = err
			continue
		}

		resp, execErr := a.Runner.Execute(ctx, candidate, in.Payload, in.Credentials, in.Options)
		a.Logger.Info("Healing attempt executed", map[string]interface{}{
			"operation":   "healing_attempt",
			"episode":     episode,
			"attempt":     attempt,
			"temperature": temperature,
			"duration_ms": time.Since(start).Milliseconds(),
			"succeeded":   execErr == nil,
		})
		a.Telemetry.RecordMetric("healing.attempts", 1, map[string]string{
			"outcome": outcomeLabel(execErr),
		})

		if execErr != nil {
			if !core.Healable(execErr) {
				span.RecordError(execErr)
				return nil, nil, execErr
			}
			lastErr = execErr
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("Execution failed: %s", core.MaskCredentials(execErr.Error(), in.Credentials)),
			})
			continue
		}

		if a.Evaluator != nil {
			verdict, evalErr := a.Evaluator.Evaluate(ctx, resp.Data, candidate, in.Documentation)
			if evalErr != nil {
				// A broken judge should not discard a working config.
				a.Logger.Warn("Response evaluation failed, accepting response", map[string]interface{}{
					"operation": "healing_eval_error",
					"episode":   episode,
					"error":     evalErr.Error(),
				})
			} else if !verdict.Success {
				lastErr = fmt.Errorf("response rejected: %s", verdict.ShortReason)
				history = append(history, llm.Message{
					Role:       llm.RoleTool,
					ToolCallID: call.ID,
					Content:    fmt.Sprintf("The call succeeded but the response does not satisfy the instruction: %s", verdict.ShortReason),
				})
				continue
			}
		}

		history = append(history, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Content:    "Execution succeeded.",
		})
		a.Logger.Info("Healing episode succeeded", map[string]interface{}{
			"operation": "healing_done",
			"episode":   episode,
			"attempts":  attempt,
			"messages":  len(history),
		})
		return resp, candidate, nil
	}

	msg := fmt.Sprintf("healing exhausted after %d attempts", maxAttempts)
	if lastErr != nil {
		msg = fmt.Sprintf("%s; last error: %s", msg, core.MaskCredentials(lastErr.Error(), in.Credentials))
	}
	return nil, nil, &core.EngineError{
		Kind:             core.KindLLMExhausted,
		Message:          msg,
		RetriesAttempted: maxAttempts,
		Err:              core.ErrHealingExhausted,
	}
}

// generate runs model turns until the model calls submit or abort,
// serving custom tools in between. Each turn's messages replace the
// history so tool results stay attached to their calls.
func (a *Agent) generate(ctx context.Context, history *[]llm.Message, temperature float64, toolUses map[string]int) (*llm.ToolCall, error) {
	for turn := 0; turn < maxToolTurns; turn++ {
		tools := a.availableTools(toolUses)
		result, err := a.Client.GenerateObject(ctx, *history, EndpointSchema, temperature, tools)
		if err != nil {
			return nil, &core.EngineError{
				Kind:    core.KindFatal,
				Message: fmt.Sprintf("model call failed: %v", err),
				Err:     err,
			}
		}
		*history = result.Messages
		call := result.Call
		if call == nil {
			return nil, &core.EngineError{
				Kind:    core.KindFatal,
				Message: "model returned no tool call",
			}
		}
		if call.Name == llm.ToolSubmit || call.Name == llm.ToolAbort {
			return call, nil
		}

		custom := a.findCustomTool(call.Name)
		if custom == nil {
			*history = append(*history, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    fmt.Sprintf("Unknown tool %q. Call submit or abort.", call.Name),
			})
			continue
		}
		toolUses[call.Name]++
		output, toolErr := custom.Handler(ctx, call.Arguments)
		if toolErr != nil {
			output = fmt.Sprintf("Tool error: %v", toolErr)
		}
		*history = append(*history, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Content:    output,
		})
	}
	return nil, &core.EngineError{
		Kind:    core.KindFatal,
		Message: fmt.Sprintf("model did not submit or abort within %d tool turns", maxToolTurns),
	}
}

// availableTools returns submit, abort and every custom tool still
// under its maxUses bound.
func (a *Agent) availableTools(toolUses map[string]int) []llm.Tool {
	tools := llm.BuiltinTools(EndpointSchema)
	for _, ct := range a.CustomTools {
		if ct.Tool.MaxUses > 0 && toolUses[ct.Tool.Name] >= ct.Tool.MaxUses {
			continue
		}
		tools = append(tools, ct.Tool)
	}
	return tools
}

func (a *Agent) findCustomTool(name string) *CustomTool {
	for i := range a.CustomTools {
		if a.CustomTools[i].Tool.Name == name {
			return &a.CustomTools[i]
		}
	}
	return nil
}

// applyProposal layers the submitted fields over the failing endpoint.
// Fields the model omitted keep their previous values.
func applyProposal(base *core.Endpoint, args json.RawMessage) (*core.Endpoint, error) {
	candidate := base.Clone()
	if err := json.Unmarshal(args, candidate); err != nil {
		return nil, fmt.Errorf("submitted configuration is not valid: %w", err)
	}
	if candidate.URLHost == "" {
		return nil, fmt.Errorf("submitted configuration has no urlHost")
	}
	return candidate, nil
}

func abortReason(args json.RawMessage) string {
	var params struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(args, &params); err != nil || params.Reason == "" {
		return "no reason given"
	}
	return params.Reason
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	if ee, ok := core.AsEngineError(err); ok {
		return string(ee.Kind)
	}
	return "error"
}
