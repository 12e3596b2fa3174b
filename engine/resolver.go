// Package engine composes variable resolution, transport dispatch,
// status interpretation and pagination into single-step execution.
package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/superglue-ai/superglue-go/core"
	"github.com/superglue-ai/superglue-go/sandbox"
	"github.com/superglue-ai/superglue-go/transport"
)

// placeholderPattern matches <<expr>> template placeholders, including
// multi-line arrow-function bodies.
var placeholderPattern = regexp.MustCompile(`<<([\s\S]+?)>>`)

// basicCredentialPattern is the base64 heuristic for Authorization
// headers: a Basic credential that already matches is left alone.
var basicCredentialPattern = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// droppedValues are resolved header/query values that remove the entry
// from the outgoing request entirely.
var droppedValues = map[string]bool{"": true, "undefined": true, "null": true}

// Resolver substitutes <<expr>> placeholders using the variable scope.
// Expressions are either bare identifiers, dotted paths, or arrow
// functions evaluated in the sandbox with sourceData bound to the scope.
type Resolver struct {
	Sandbox *sandbox.Evaluator
	Logger  core.Logger
}

// NewResolver builds a resolver over the given evaluator.
func NewResolver(evaluator *sandbox.Evaluator, logger core.Logger) *Resolver {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Resolver{Sandbox: evaluator, Logger: logger}
}

// ResolveString substitutes every placeholder in s. A string with no
// placeholders is returned unchanged. The literal "undefined" is never
// produced: missing variables raise a typed resolution error naming the
// variable.
func (r *Resolver) ResolveString(ctx context.Context, s string, scope map[string]interface{}, credentials map[string]string) (string, error) {
	matches := placeholderPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])
		expr := s[m[2]:m[3]]
		value, err := r.resolveExpr(ctx, expr, scope, credentials)
		if err != nil {
			return "", err
		}
		sb.WriteString(core.ToString(value))
		last = m[1]
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

// resolveExpr resolves one placeholder expression.
func (r *Resolver) resolveExpr(ctx context.Context, expr string, scope map[string]interface{}, credentials map[string]string) (interface{}, error) {
	trimmed := strings.TrimSpace(expr)

	if strings.Contains(trimmed, "=>") {
		value, err := r.Sandbox.EvaluateExpression(ctx, trimmed, scope)
		if err != nil {
			return nil, r.resolutionError(core.ReasonCodeExecution, trimmed, err, scope, credentials)
		}
		return value, nil
	}

	value, ok := core.LookupPath(scope, trimmed)
	if !ok {
		// Pagination bootstrap: the first cursor iteration has no value
		// yet and must resolve to the empty string.
		if trimmed == "cursor" {
			return "", nil
		}
		return nil, r.resolutionError(core.ReasonUndefinedVariable, trimmed, nil, scope, credentials)
	}
	if value == nil && trimmed == "cursor" {
		return "", nil
	}
	return value, nil
}

// resolutionError builds the rich, masked context handed to healing.
func (r *Resolver) resolutionError(reason, expr string, cause error, scope map[string]interface{}, credentials map[string]string) error {
	keys := make([]string, 0, len(scope))
	for k := range scope {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msg string
	if reason == core.ReasonUndefinedVariable {
		msg = fmt.Sprintf("%s: variable %q is not defined (available variables: %s)",
			reason, expr, strings.Join(keys, ", "))
	} else {
		msg = fmt.Sprintf("%s: evaluating %q failed: %v (available variables: %s)",
			reason, expr, cause, strings.Join(keys, ", "))
	}

	ee := &core.EngineError{
		Kind:    core.KindVarResolution,
		Message: core.MaskCredentials(msg, credentials),
		Err:     core.ErrUndefinedVariable,
	}
	if reason == core.ReasonCodeExecution {
		ee.Err = core.ErrCodeExecution
	}
	return ee
}

// ResolveRequest resolves a full endpoint into a dispatchable request:
// url parts, headers, query parameters and body, with authentication
// normalization and empty-value dropping applied afterwards.
func (r *Resolver) ResolveRequest(ctx context.Context, ep *core.Endpoint, scope map[string]interface{}, credentials map[string]string, opts core.RequestOptions) (*transport.Request, error) {
	host, err := r.ResolveString(ctx, ep.URLHost, scope, credentials)
	if err != nil {
		return nil, err
	}
	urlPath, err := r.ResolveString(ctx, ep.URLPath, scope, credentials)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(ep.Headers))
	for k, v := range ep.Headers {
		resolved, err := r.ResolveString(ctx, v, scope, credentials)
		if err != nil {
			return nil, err
		}
		if droppedValues[resolved] {
			continue
		}
		headers[k] = resolved
	}
	normalizeAuthorization(headers)

	queryParams := make(map[string]string, len(ep.QueryParams))
	for k, v := range ep.QueryParams {
		resolved, err := r.ResolveString(ctx, v, scope, credentials)
		if err != nil {
			return nil, err
		}
		if droppedValues[resolved] {
			continue
		}
		queryParams[k] = resolved
	}

	var body interface{}
	if ep.Body != "" {
		resolved, err := r.ResolveString(ctx, ep.Body, scope, credentials)
		if err != nil {
			return nil, err
		}
		body = resolved
	}

	return &transport.Request{
		Method:      ep.Method,
		URLHost:     host,
		URLPath:     urlPath,
		Headers:     headers,
		QueryParams: queryParams,
		Body:        body,
		Options:     opts,
	}, nil
}

// normalizeAuthorization fixes the common LLM-generated Authorization
// mistakes: doubled scheme prefixes and unencoded Basic credentials.
func normalizeAuthorization(headers map[string]string) {
	for k, v := range headers {
		if !strings.EqualFold(k, "Authorization") {
			continue
		}
		v = strings.Replace(v, "Basic Basic ", "Basic ", 1)
		v = strings.Replace(v, "Bearer Bearer ", "Bearer ", 1)
		if rest, ok := strings.CutPrefix(v, "Basic "); ok {
			if !basicCredentialPattern.MatchString(rest) {
				v = "Basic " + base64.StdEncoding.EncodeToString([]byte(rest))
			}
		}
		headers[k] = v
	}
}

// BuildScope merges the variable layers for one pagination iteration.
// Later layers supersede earlier ones, so fresh pagination variables
// always win over stale payload keys.
func BuildScope(payload map[string]interface{}, credentials map[string]string, paginationVars map[string]interface{}, currentItem interface{}) map[string]interface{} {
	scope := make(map[string]interface{}, len(payload)+len(credentials)+len(paginationVars)+1)
	for k, v := range payload {
		scope[k] = v
	}
	for k, v := range credentials {
		scope[k] = v
	}
	for k, v := range paginationVars {
		scope[k] = v
	}
	if currentItem != nil {
		scope["currentItem"] = currentItem
	}
	return scope
}
