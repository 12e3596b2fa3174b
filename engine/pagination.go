package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/superglue-ai/superglue-go/core"
	"github.com/superglue-ai/superglue-go/sandbox"
	"github.com/superglue-ai/superglue-go/transport"
)

// Paginator drives iterative fetching for one HTTP step. Iterations are
// strictly ordered: the stop condition sees iteration k's response
// before k+1 begins, and results are appended in iteration order.
type Paginator struct {
	Resolver   *Resolver
	Dispatcher *transport.Dispatcher
	Evaluator  *sandbox.Evaluator
	Config     *core.Config
	Logger     core.Logger
	Telemetry  core.Telemetry
}

// Execute runs the endpoint to exhaustion. Endpoints without pagination
// run exactly once.
func (p *Paginator) Execute(ctx context.Context, ep *core.Endpoint, baseScope map[string]interface{}, credentials map[string]string, opts core.RequestOptions) (*core.Response, error) {
	ctx, span := p.Telemetry.StartSpan(ctx, "engine.paginate")
	defer span.End()

	if ep.Pagination == nil {
		req, err := p.Resolver.ResolveRequest(ctx, ep, baseScope, credentials, opts)
		if err != nil {
			return nil, err
		}
		resp, err := p.Dispatcher.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := Interpret(resp, req, credentials); err != nil {
			return nil, err
		}
		if ep.DataPath != "" {
			data, ok := core.WalkDataPath(resp.Data, ep.DataPath)
			if !ok {
				return nil, p.configError(credentials, fmt.Sprintf("dataPath %q did not resolve in the response", ep.DataPath))
			}
			resp.Data = data
		}
		return resp, nil
	}

	pag := ep.Pagination
	if err := p.precheck(ep, pag, credentials); err != nil {
		return nil, err
	}

	pageSize := pag.PageSizeValue()
	pageSizeStr := pag.PageSize
	if pageSizeStr == "" {
		pageSizeStr = core.DefaultPageSize
	}
	stopSrc := strings.TrimSpace(pag.StopCondition)
	maxRequests := p.Config.Pagination.MaxRequestsWithoutStop
	if stopSrc != "" {
		maxRequests = p.Config.Pagination.MaxRequests
	}

	var (
		allResults   []interface{}
		page         = 1
		offset       = 0
		cursor       interface{}
		hasMore      = true
		loop         = 0
		seenHashes   = map[string]bool{}
		prevHash     string
		firstHash    string
		firstHasData bool
		lastResp     *core.Response
	)

	for hasMore && loop < maxRequests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Scope is rebuilt fresh per iteration so updated pagination
		// variables supersede anything in the payload.
		scope := BuildScope(baseScope, credentials, map[string]interface{}{
			"page":     page,
			"offset":   offset,
			"cursor":   cursor,
			"pageSize": pageSizeStr,
		}, nil)

		req, err := p.Resolver.ResolveRequest(ctx, ep, scope, credentials, opts)
		if err != nil {
			return nil, err
		}
		resp, err := p.Dispatcher.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := Interpret(resp, req, credentials); err != nil {
			return nil, err
		}
		lastResp = resp

		raw := resp.Data
		data, pathOK := core.WalkDataPath(raw, ep.DataPath)
		if !pathOK {
			if loop == 0 {
				// The very first page missing the data key is a dataPath
				// typo, not an exhausted collection. Never paginate over
				// the raw parent object.
				return nil, p.configError(credentials, fmt.Sprintf("dataPath %q did not resolve in the response", ep.DataPath))
			}
			p.Logger.Warn("dataPath stopped resolving, ending pagination", map[string]interface{}{
				"operation": "pagination_datapath_miss",
				"dataPath":  ep.DataPath,
				"iteration": loop,
			})
			loop++
			hasMore = false
			break
		}
		hash := core.StableHash(data)
		hasData := pageHasData(data)

		if loop == 0 {
			firstHash = hash
			firstHasData = hasData
		}

		if stopSrc != "" && loop == 1 {
			if hash == firstHash && firstHasData {
				return nil, p.configError(credentials,
					"pagination parameters are not being applied: the first two pages returned identical data; "+
						"check that the pagination variable is substituted into the request")
			}
			if !firstHasData && !hasData {
				return nil, p.configError(credentials,
					"stop condition should detect empty responses: two consecutive pages returned no data")
			}
		}

		if loop > 0 && hash == prevHash {
			// Natural termination: the server keeps returning the same
			// page. The duplicate is not appended.
			hasMore = false
			break
		}

		switch d := data.(type) {
		case []interface{}:
			allResults = append(allResults, d...)
		case map[string]interface{}:
			if len(d) > 0 {
				allResults = append(allResults, d)
			}
		default:
			if d != nil {
				allResults = append(allResults, d)
			}
		}

		if stopSrc != "" {
			verdict := p.Evaluator.EvaluateStopCondition(ctx, stopSrc, raw, sandbox.PageInfo{
				Page:         page,
				Offset:       offset,
				Cursor:       cursor,
				TotalFetched: len(allResults),
			})
			if verdict.Error != "" {
				// The evaluator boundary defaults to not stopping, but a
				// broken stop condition is a configuration defect the
				// healing agent must see.
				return nil, p.configError(credentials, fmt.Sprintf("stop condition failed to evaluate: %s", verdict.Error))
			}
			if verdict.ShouldStop {
				hasMore = false
			}
		} else if pag.Type == core.CursorBased {
			// Cursor presence governs termination; short pages are normal
			// mid-stream. Repeated pages still mean a cursor cycle.
			if seenHashes[hash] {
				hasMore = false
			}
		} else {
			switch d := data.(type) {
			case []interface{}:
				if len(d) < pageSize || seenHashes[hash] {
					hasMore = false
				}
			default:
				// Object pages do not paginate: one iteration only.
				hasMore = false
			}
		}

		seenHashes[hash] = true
		prevHash = hash

		switch pag.Type {
		case core.PageBased:
			if hasMore {
				page++
			}
		case core.OffsetBased:
			if hasMore {
				offset += pageSize
			}
		case core.CursorBased:
			next, ok := core.WalkDataPath(raw, pag.CursorPath)
			if !ok {
				cursor = nil
				hasMore = false
			} else {
				cursor = next
				if next == nil || core.ToString(next) == "" {
					hasMore = false
				}
			}
		}
		loop++
	}

	if hasMore && loop >= maxRequests {
		span.RecordError(core.ErrPaginationCap)
		p.Logger.Warn("Pagination request cap reached", map[string]interface{}{
			"operation": "pagination_cap",
			"requests":  loop,
			"cap":       maxRequests,
		})
	}

	p.Telemetry.RecordMetric("pagination.requests", float64(loop), map[string]string{
		"type": string(pag.Type),
	})

	if lastResp == nil {
		return &core.Response{Data: nil, StatusCode: 200}, nil
	}
	return &core.Response{
		Data:       p.mergeResults(pag, allResults, cursor),
		StatusCode: lastResp.StatusCode,
		Headers:    lastResp.Headers,
	}, nil
}

// precheck enforces the invariant that the chosen pagination strategy is
// actually substituted somewhere in the request surface. Violations are
// configuration errors raised before any request is issued.
func (p *Paginator) precheck(ep *core.Endpoint, pag *core.PaginationConfig, credentials map[string]string) error {
	varName := pag.VariableName()
	if varName == "" {
		return p.configError(credentials, fmt.Sprintf("unknown pagination type %q", pag.Type))
	}
	if pag.Type == core.CursorBased && strings.TrimSpace(pag.CursorPath) == "" {
		return p.configError(credentials, "cursor-based pagination requires cursorPath")
	}
	if !strings.Contains(ep.RequestSurface(), varName) {
		return p.configError(credentials, fmt.Sprintf(
			"pagination type %s requires a <<%s>> substitution in the url, headers, query params or body, but none was found",
			pag.Type, varName))
	}
	return nil
}

func (p *Paginator) configError(credentials map[string]string, msg string) error {
	return &core.EngineError{
		Kind:    core.KindPaginationConfig,
		Message: core.MaskCredentials(msg, credentials),
	}
}

// mergeResults builds the final data shape: cursor-based responses wrap
// the collected data with next_cursor; otherwise a single collected
// element is returned alone and multiple elements as the concatenation.
func (p *Paginator) mergeResults(pag *core.PaginationConfig, allResults []interface{}, cursor interface{}) interface{} {
	if pag.Type == core.CursorBased {
		if len(allResults) == 1 {
			if obj, ok := allResults[0].(map[string]interface{}); ok {
				out := make(map[string]interface{}, len(obj)+1)
				for k, v := range obj {
					out[k] = v
				}
				out["next_cursor"] = cursor
				return out
			}
		}
		return map[string]interface{}{
			"next_cursor": cursor,
			"results":     append([]interface{}{}, allResults...),
		}
	}
	if len(allResults) == 1 {
		return allResults[0]
	}
	return append([]interface{}{}, allResults...)
}

func pageHasData(data interface{}) bool {
	switch d := data.(type) {
	case nil:
		return false
	case []interface{}:
		return len(d) > 0
	case map[string]interface{}:
		return len(d) > 0
	case string:
		return d != ""
	default:
		return true
	}
}
