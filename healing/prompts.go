package healing

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/superglue-ai/superglue-go/core"
)

// systemPrompt frames every healing episode. The model only ever
// answers through tool calls.
const systemPrompt = `You are an API configuration repair agent. A step in a data workflow failed and you must produce a corrected configuration.

Rules:
- Respond only through tool calls. Call submit with a complete corrected configuration, or abort with a reason if the failure cannot be fixed by reconfiguration.
- Reference credentials as <<credential_name>> placeholders. Never invent credential values and never inline secrets.
- Preserve the original intent of the instruction. Change only what the error indicates is wrong.
- Pagination variables available for substitution: <<page>>, <<offset>>, <<cursor>>, <<pageSize>>.
- If documentation is provided, prefer it over guesses about the API's shape.`

const (
	// payloadShapeMaxDepth bounds shape sampling recursion.
	payloadShapeMaxDepth = 3
	// payloadShapeSampleLimit bounds rendered sample values.
	payloadShapeSampleLimit = 120
)

// BuildInitialPrompt renders the first user message of an episode:
// instruction, failing config, masked error, a documentation excerpt,
// credential key names and the payload shape.
func BuildInitialPrompt(ep *core.Endpoint, failure error, payload map[string]interface{}, credentials map[string]string, documentation string, docBudget int) string {
	var sb strings.Builder

	sb.WriteString("Fix the following API step.\n\n")
	if ep.Instruction != "" {
		fmt.Fprintf(&sb, "Instruction: %s\n\n", ep.Instruction)
	}

	cfg := core.Serialize(map[string]interface{}{
		"method":         ep.Method,
		"urlHost":        ep.URLHost,
		"urlPath":        ep.URLPath,
		"headers":        ep.Headers,
		"queryParams":    ep.QueryParams,
		"body":           ep.Body,
		"authentication": string(ep.Authentication),
		"pagination":     ep.Pagination,
		"dataPath":       ep.DataPath,
	})
	fmt.Fprintf(&sb, "Failing configuration:\n%s\n\n", core.MaskCredentials(cfg, credentials))

	if failure != nil {
		fmt.Fprintf(&sb, "Error:\n%s\n\n", core.MaskCredentials(failure.Error(), credentials))
	}

	if len(credentials) > 0 {
		keys := make([]string, 0, len(credentials))
		for k := range credentials {
			keys = append(keys, "<<"+k+">>")
		}
		sort.Strings(keys)
		fmt.Fprintf(&sb, "Available credential placeholders: %s\n\n", strings.Join(keys, ", "))
	}

	if len(payload) > 0 {
		fmt.Fprintf(&sb, "Payload shape:\n%s\n\n", PayloadShape(payload))
	}

	if documentation != "" {
		excerpt := SelectDocumentation(documentation, ep.Instruction+" "+errText(failure), docBudget)
		if excerpt != "" {
			fmt.Fprintf(&sb, "Relevant documentation:\n%s\n", excerpt)
		}
	}

	return sb.String()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var wordPattern = regexp.MustCompile(`[a-zA-Z0-9_]{3,}`)

// stopWords are too common to discriminate documentation sections.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "are": true, "was": true, "you": true,
	"your": true, "can": true, "will": true, "not": true, "has": true,
	"have": true, "api": true, "request": true, "response": true,
	"error": true, "http": true, "https": true, "com": true,
	"returned": true, "status": true, "config": true,
}

// SelectDocumentation returns the most query-relevant slice of doc that
// fits within budget characters. The document is split on blank lines;
// paragraphs are scored by distinct keyword hits and taken greedily in
// document order among the scored set. An empty query or a doc already
// within budget is returned whole.
func SelectDocumentation(doc, query string, budget int) string {
	doc = strings.TrimSpace(doc)
	if doc == "" || budget <= 0 {
		return ""
	}
	if len(doc) <= budget {
		return doc
	}

	keywords := map[string]bool{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(query), -1) {
		if !stopWords[w] {
			keywords[w] = true
		}
	}

	paragraphs := strings.Split(doc, "\n\n")
	type scored struct {
		index int
		score int
		text  string
	}
	var candidates []scored
	for i, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		score := 0
		lower := strings.ToLower(p)
		for w := range keywords {
			if strings.Contains(lower, w) {
				score++
			}
		}
		candidates = append(candidates, scored{index: i, score: score, text: p})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var picked []scored
	used := 0
	for _, c := range candidates {
		cost := len(c.text) + 2
		if used+cost > budget {
			continue
		}
		picked = append(picked, c)
		used += cost
	}
	// Document order keeps the excerpt readable.
	sort.Slice(picked, func(i, j int) bool { return picked[i].index < picked[j].index })

	parts := make([]string, 0, len(picked))
	for _, c := range picked {
		parts = append(parts, c.text)
	}
	out := strings.Join(parts, "\n\n")
	if out == "" {
		// Fall back to the document head when no paragraph fits.
		out = core.Truncate(doc, budget)
	}
	return out
}

// PayloadShape renders a structural sample of the payload: key paths
// with types, scalar samples truncated. Values never include anything
// the caller did not already hand the model via the payload itself.
func PayloadShape(payload map[string]interface{}) string {
	return shapeOf(payload, payloadShapeMaxDepth)
}

func shapeOf(v interface{}, depth int) string {
	switch t := v.(type) {
	case map[string]interface{}:
		if depth <= 0 {
			return "{...}"
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%q: %s", k, shapeOf(t[k], depth-1)))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case []interface{}:
		if len(t) == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%s, ... %d items]", shapeOf(t[0], depth-1), len(t))
	case string:
		return fmt.Sprintf("%q", core.Truncate(t, payloadShapeSampleLimit))
	case nil:
		return "null"
	default:
		return core.Truncate(core.Serialize(t), payloadShapeSampleLimit)
	}
}
