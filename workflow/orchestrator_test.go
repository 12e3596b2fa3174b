package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/superglue-ai/superglue-go/core"
	"github.com/superglue-ai/superglue-go/engine"
	"github.com/superglue-ai/superglue-go/healing"
	"github.com/superglue-ai/superglue-go/llm"
	"github.com/superglue-ai/superglue-go/llm/mock"
	"github.com/superglue-ai/superglue-go/sandbox"
	"github.com/superglue-ai/superglue-go/transport"
)

func endpointFor(host string) core.Endpoint {
	return core.Endpoint{Method: "GET", URLHost: host}
}

func runOptions() core.RequestOptions {
	return core.RequestOptions{
		Timeout:          5 * time.Second,
		Retries:          1,
		RetryDelay:       10 * time.Millisecond,
		MaxRateLimitWait: time.Second,
	}
}

func newTestOrchestrator(agent *healing.Agent, store RunStore) (*Orchestrator, *engine.StepRunner) {
	cfg := core.DefaultConfig()
	evaluator := sandbox.NewEvaluator(cfg, nil)
	dispatcher := transport.NewDispatcher(cfg, nil, nil, nil)
	runner := engine.NewStepRunner(cfg, dispatcher, evaluator, nil, nil)
	return NewOrchestrator(runner, agent, evaluator, store, nil, nil), runner
}

// Step results become variables for the steps after them.
func TestWorkflowStepChaining(t *testing.T) {
	var gotToken string
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"token":"tok-123","ids":[1,2]}`)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.URL.Query().Get("t")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"order":1}]`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	wf := &Workflow{
		ID: "chain",
		Steps: []Step{
			{ID: "fetch", Endpoint: core.Endpoint{Method: "GET", URLHost: server.URL, URLPath: "/token"}},
			{
				ID: "orders",
				Endpoint: core.Endpoint{
					Method:      "GET",
					URLHost:     server.URL,
					URLPath:     "/orders",
					QueryParams: map[string]string{"t": "<<fetch.token>>"},
				},
			},
		},
	}

	o, _ := newTestOrchestrator(nil, nil)
	run, err := o.Execute(context.Background(), wf, nil, nil, runOptions())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !run.Success {
		t.Errorf("run not marked successful: %+v", run)
	}
	if gotToken != "tok-123" {
		t.Errorf("second step saw token %q, want tok-123", gotToken)
	}
	if _, ok := run.StepResults["fetch"]; !ok {
		t.Errorf("step result missing: %#v", run.StepResults)
	}
	data, ok := run.Data.(map[string]interface{})
	if !ok || len(data) != 2 {
		t.Errorf("run data without transform should be the step-result map: %#v", run.Data)
	}
}

func TestWorkflowLoopStep(t *testing.T) {
	var gotIDs []string
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"users":[{"id":1},{"id":2},{"id":3}]}`)
	})
	mux.HandleFunc("/detail", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		gotIDs = append(gotIDs, id)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":%s,"active":true}`, id)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	wf := &Workflow{
		ID: "loop",
		Steps: []Step{
			{ID: "fetch", Endpoint: core.Endpoint{Method: "GET", URLHost: server.URL, URLPath: "/users"}},
			{
				ID:           "detail",
				Mode:         ModeLoop,
				LoopSelector: "fetch.users",
				LoopMaxIters: 2,
				Endpoint: core.Endpoint{
					Method:      "GET",
					URLHost:     server.URL,
					URLPath:     "/detail",
					QueryParams: map[string]string{"id": "<<currentItem.id>>"},
				},
			},
		},
	}

	o, _ := newTestOrchestrator(nil, nil)
	run, err := o.Execute(context.Background(), wf, nil, nil, runOptions())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// LoopMaxIters truncates the third user.
	if len(gotIDs) != 2 || gotIDs[0] != "1" || gotIDs[1] != "2" {
		t.Errorf("loop requests = %v, want [1 2]", gotIDs)
	}
	results, ok := run.StepResults["detail"].([]interface{})
	if !ok || len(results) != 2 {
		t.Errorf("loop results = %#v", run.StepResults["detail"])
	}
}

func TestWorkflowFinalTransform(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ids":[1,2,3]}`)
	}))
	defer server.Close()

	wf := &Workflow{
		ID: "transform",
		Steps: []Step{
			{ID: "fetch", Endpoint: endpointFor(server.URL)},
		},
		FinalTransform: `(data) => data.fetch.ids.join("-")`,
	}

	o, _ := newTestOrchestrator(nil, nil)
	run, err := o.Execute(context.Background(), wf, nil, nil, runOptions())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Data != "1-2-3" {
		t.Errorf("transformed data = %#v, want 1-2-3", run.Data)
	}
}

func TestWorkflowFailurePersisted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	wf := &Workflow{
		ID:    "failing",
		Steps: []Step{{ID: "broken", Endpoint: endpointFor(server.URL)}},
	}

	store := NewInMemoryRunStore()
	o, _ := newTestOrchestrator(nil, store)
	run, err := o.Execute(context.Background(), wf, nil, nil, runOptions())
	if err == nil {
		t.Fatalf("expected step failure")
	}
	if !strings.Contains(err.Error(), `step "broken"`) {
		t.Errorf("error does not name the step: %v", err)
	}
	if run.Success || run.Error == "" {
		t.Errorf("failed run recorded as %+v", run)
	}

	saved, getErr := store.Get(context.Background(), run.ID)
	if getErr != nil {
		t.Fatalf("failed run not persisted: %v", getErr)
	}
	if saved.Error == "" {
		t.Errorf("persisted run lost the error")
	}
}

// A healable step failure is repaired in place and the workflow
// continues with the corrected configuration.
func TestWorkflowHealsFailingStep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k-123456" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"missing key"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":1}]`)
	}))
	defer server.Close()

	proposal := fmt.Sprintf(`{"urlHost":%q,"headers":{"X-Api-Key":"<<api_key>>"}}`, server.URL)
	client := mock.NewClient(mock.Reply{Call: &llm.ToolCall{
		ID:        "call-1",
		Name:      llm.ToolSubmit,
		Arguments: json.RawMessage(proposal),
	}})

	o, runner := newTestOrchestrator(nil, nil)
	agent := &healing.Agent{
		Client:    client,
		Runner:    runner,
		Logger:    &core.NoOpLogger{},
		Telemetry: &core.NoOpTelemetry{},
		Config:    core.DefaultConfig(),
	}
	o.Agent = agent

	wf := &Workflow{
		ID:    "healed",
		Steps: []Step{{ID: "fetch", Endpoint: endpointFor(server.URL)}},
	}
	run, err := o.Execute(context.Background(), wf, nil, map[string]string{"api_key": "k-123456"}, runOptions())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !run.Success {
		t.Errorf("run = %+v", run)
	}
	if wf.Steps[0].Endpoint.Headers["X-Api-Key"] != "<<api_key>>" {
		t.Errorf("healed configuration not written back: %#v", wf.Steps[0].Endpoint.Headers)
	}
}

func TestWorkflowLoopSelectorMustResolve(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	wf := &Workflow{
		ID: "badloop",
		Steps: []Step{
			{ID: "fetch", Endpoint: endpointFor(server.URL)},
			{
				ID:           "loop",
				Mode:         ModeLoop,
				LoopSelector: "fetch.missing",
				Endpoint:     endpointFor(server.URL),
			},
		},
	}

	o, _ := newTestOrchestrator(nil, nil)
	_, err := o.Execute(context.Background(), wf, nil, nil, runOptions())
	if err == nil || !strings.Contains(err.Error(), "loopSelector") {
		t.Errorf("unresolved selector error = %v", err)
	}
}
