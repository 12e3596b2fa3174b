package healing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/superglue-ai/superglue-go/core"
	"github.com/superglue-ai/superglue-go/llm"
)

// Verdict is the evaluator's judgement of a successful response.
type Verdict struct {
	Success        bool   `json:"success"`
	RefactorNeeded bool   `json:"refactorNeeded"`
	ShortReason    string `json:"shortReason"`
}

// evaluatorPreviewLimit bounds the response sample shown to the judge.
const evaluatorPreviewLimit = 4096

const evaluatorSystemPrompt = `You judge whether an API response satisfies a step's instruction.

Leniency rules:
- Different field names than the instruction mentions are fine as long as the data is there.
- Missing sorting, grouping or aggregation does not make the response wrong and does not require refactoring.
- Set refactorNeeded only when the configuration fetches the wrong data entirely, not when the shape is merely inconvenient.

Answer with {"success": bool, "refactorNeeded": bool, "shortReason": string}.`

// retrievalVerbs and retrievalWords mark instructions whose empty
// responses count as failure.
var retrievalVerbs = map[string]bool{"GET": true, "": true}

var retrievalWords = []string{"get", "fetch", "list", "retrieve", "read", "search", "find", "load", "download", "query"}

// ResponseEvaluator judges 2xx responses against the instruction.
type ResponseEvaluator struct {
	Client llm.Client
	Logger core.Logger
}

// NewResponseEvaluator builds an evaluator over the given model client.
func NewResponseEvaluator(client llm.Client, logger core.Logger) *ResponseEvaluator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &ResponseEvaluator{Client: client, Logger: logger}
}

// Evaluate returns the verdict for data against ep's instruction. Empty
// bodies short-circuit without a model call: failure when the step has
// retrieval intent, success otherwise.
func (e *ResponseEvaluator) Evaluate(ctx context.Context, data interface{}, ep *core.Endpoint, documentation string) (Verdict, error) {
	if isEmptyBody(data) {
		if hasRetrievalIntent(ep) {
			return Verdict{
				Success:     false,
				ShortReason: "empty response for a retrieval step",
			}, nil
		}
		return Verdict{Success: true, ShortReason: "empty response acceptable for a non-retrieval step"}, nil
	}

	if ep.Instruction == "" {
		// Nothing to judge against.
		return Verdict{Success: true, ShortReason: "no instruction to evaluate against"}, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Instruction: %s\n\n", ep.Instruction)
	fmt.Fprintf(&sb, "Response sample:\n%s\n", core.Truncate(core.Serialize(data), evaluatorPreviewLimit))
	if documentation != "" {
		fmt.Fprintf(&sb, "\nDocumentation excerpt:\n%s\n", core.Truncate(documentation, 2048))
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: evaluatorSystemPrompt},
		{Role: llm.RoleUser, Content: sb.String()},
	}
	result, err := e.Client.GenerateObject(ctx, messages, verdictSchema, 0, nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("response evaluation failed: %w", err)
	}

	var verdict Verdict
	if err := json.Unmarshal(result.Object, &verdict); err != nil {
		return Verdict{}, fmt.Errorf("response evaluation returned invalid verdict: %w", err)
	}
	e.Logger.Debug("Response evaluated", map[string]interface{}{
		"operation":       "response_evaluate",
		"success":         verdict.Success,
		"refactor_needed": verdict.RefactorNeeded,
		"reason":          verdict.ShortReason,
	})
	return verdict, nil
}

func isEmptyBody(data interface{}) bool {
	switch t := data.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

// hasRetrievalIntent reports whether the step is expected to return
// data: a GET (or verb-less) endpoint, or an instruction phrased as a
// retrieval.
func hasRetrievalIntent(ep *core.Endpoint) bool {
	if retrievalVerbs[strings.ToUpper(ep.Method)] {
		return true
	}
	lower := strings.ToLower(ep.Instruction)
	for _, w := range retrievalWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
