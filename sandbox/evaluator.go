// Package sandbox executes untrusted expression strings (pagination stop
// conditions and arrow-function template variables) inside an isolated
// JavaScript VM. Inputs cross the boundary as serialized JSON, never as
// live references; every evaluation runs in a fresh runtime that is
// discarded on exit.
//
// Resource bounds are a wall-clock interrupt and a call-stack cap. The
// VM exposes no hard memory limit, so memory pressure is bounded only
// indirectly, through the time cap and the per-evaluation runtime.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/superglue-ai/superglue-go/core"
)

// PageInfo is the second argument handed to stop conditions.
type PageInfo struct {
	Page         int         `json:"page"`
	Offset       int         `json:"offset"`
	Cursor       interface{} `json:"cursor"`
	TotalFetched int         `json:"totalFetched"`
}

// StopVerdict is the evaluator-boundary result for a stop condition.
// Errors are reported, not thrown; the pagination controller decides
// whether to surface them.
type StopVerdict struct {
	ShouldStop bool
	Error      string
}

// Evaluator runs expressions with a wall-clock cap and a bounded call
// stack. A zero Evaluator is not usable; construct with NewEvaluator.
type Evaluator struct {
	timeout      time.Duration
	maxCallStack int
	logger       core.Logger
}

// NewEvaluator builds an evaluator from config.
func NewEvaluator(cfg *core.Config, logger core.Logger) *Evaluator {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Evaluator{
		timeout:      cfg.Sandbox.Timeout,
		maxCallStack: cfg.Sandbox.MaxCallStack,
		logger:       logger,
	}
}

// Canonicalize normalizes user-authored stop-condition source into a
// callable of (response, pageInfo). A bare expression is wrapped as an
// arrow body; a block starting with "return" is wrapped in braces. An
// existing function expression passes through unchanged.
func Canonicalize(src string) string {
	trimmed := strings.TrimSpace(src)
	if strings.Contains(trimmed, "=>") || strings.HasPrefix(trimmed, "function") {
		return trimmed
	}
	if strings.HasPrefix(trimmed, "return") {
		return "(response, pageInfo) => { " + trimmed + " }"
	}
	return "(response, pageInfo) => " + trimmed
}

// EvaluateStopCondition evaluates src against a page response. The
// result is coerced to boolean. Evaluation failures yield
// {ShouldStop: false, Error: msg} at this boundary.
func (e *Evaluator) EvaluateStopCondition(ctx context.Context, src string, response interface{}, info PageInfo) StopVerdict {
	fn := "(response, pageInfo) => Boolean((" + Canonicalize(src) + ")(response, pageInfo))"
	value, err := e.run(ctx, fn, map[string]interface{}{
		"response": response,
		"pageInfo": info,
	}, []string{"response", "pageInfo"}, false)
	if err != nil {
		e.logger.Debug("Stop condition evaluation failed", map[string]interface{}{
			"operation": "sandbox_stop_condition",
			"error":     err.Error(),
		})
		return StopVerdict{ShouldStop: false, Error: err.Error()}
	}
	b, _ := value.(bool)
	return StopVerdict{ShouldStop: b}
}

// EvaluateExpression runs an arrow function of (sourceData) for variable
// resolution. The return value is sanitized for substitution: functions
// and symbols become marker strings, bigints become decimal strings,
// anything non-serializable becomes "[Unserializable]". Failures carry
// the code_execution_error reason.
func (e *Evaluator) EvaluateExpression(ctx context.Context, src string, sourceData map[string]interface{}) (interface{}, error) {
	fn := strings.TrimSpace(src)
	value, err := e.run(ctx, fn, map[string]interface{}{
		"sourceData": sourceData,
	}, []string{"sourceData"}, true)
	if err != nil {
		return nil, &core.EngineError{
			Kind:    core.KindSandbox,
			Message: fmt.Sprintf("%s: %s", core.ReasonCodeExecution, err.Error()),
			Err:     core.ErrCodeExecution,
		}
	}
	return value, nil
}

// run executes fn applied to the named arguments. Arguments are
// marshaled to JSON and re-parsed inside the VM. When sanitize is true
// the result passes through the in-VM sanitizer before export.
func (e *Evaluator) run(ctx context.Context, fn string, args map[string]interface{}, order []string, sanitize bool) (interface{}, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(e.maxCallStack)

	timer := time.AfterFunc(e.timeout, func() {
		vm.Interrupt("evaluation exceeded time limit")
	})
	defer timer.Stop()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("evaluation canceled")
		case <-done:
		}
	}()

	var calls []string
	for i, name := range order {
		raw, err := json.Marshal(args[name])
		if err != nil {
			return nil, fmt.Errorf("marshal argument %s: %w", name, err)
		}
		slot := fmt.Sprintf("__arg%d", i)
		if err := vm.Set(slot, string(raw)); err != nil {
			return nil, fmt.Errorf("bind argument %s: %w", name, err)
		}
		calls = append(calls, "JSON.parse("+slot+")")
	}

	script := "(" + fn + ")(" + strings.Join(calls, ", ") + ")"
	if sanitize {
		script = `(function() {
			var __r = ` + script + `;
			var __t = typeof __r;
			if (__t === "function") return "[Function]";
			if (__t === "symbol") return "[Symbol]";
			if (__t === "bigint") return __r.toString();
			if (__r === undefined) return null;
			try { return JSON.parse(JSON.stringify(__r)); } catch (e) { return "[Unserializable]"; }
		})()`
	}

	value, err := vm.RunString(script)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("%v", interrupted.Value())
		}
		var exception *goja.Exception
		if errors.As(err, &exception) {
			return nil, fmt.Errorf("%s", exception.Error())
		}
		return nil, err
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}
