// Package workflow executes ordered sequences of steps, threading each
// step's result into the variable scope of the steps after it.
package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/superglue-ai/superglue-go/core"
)

// ExecutionMode selects how a step consumes its input.
type ExecutionMode string

const (
	// ModeDirect runs the endpoint once.
	ModeDirect ExecutionMode = "DIRECT"
	// ModeLoop runs the endpoint once per item selected by LoopSelector,
	// with the item bound as currentItem.
	ModeLoop ExecutionMode = "LOOP"
)

// Step is one unit of a workflow. ID keys the step's result in the
// scope of later steps.
type Step struct {
	ID           string        `json:"id" yaml:"id"`
	Endpoint     core.Endpoint `json:"endpoint" yaml:"endpoint"`
	Mode         ExecutionMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	LoopSelector string        `json:"loopSelector,omitempty" yaml:"loopSelector,omitempty"`
	LoopMaxIters int           `json:"loopMaxIters,omitempty" yaml:"loopMaxIters,omitempty"`
}

// Workflow is an ordered list of steps plus an optional final transform
// applied to the map of step results.
type Workflow struct {
	ID             string `json:"id" yaml:"id"`
	Steps          []Step `json:"steps" yaml:"steps"`
	FinalTransform string `json:"finalTransform,omitempty" yaml:"finalTransform,omitempty"`
}

// ParseYAML decodes and validates a workflow definition.
func ParseYAML(data []byte) (*Workflow, error) {
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Validate checks structural requirements: at least one step, unique
// non-empty IDs, a urlHost per step, and LOOP steps with a selector.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("workflow has no id")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", w.ID)
	}
	seen := make(map[string]bool, len(w.Steps))
	for i := range w.Steps {
		s := &w.Steps[i]
		if s.ID == "" {
			return fmt.Errorf("workflow %q: step %d has no id", w.ID, i)
		}
		if seen[s.ID] {
			return fmt.Errorf("workflow %q: duplicate step id %q", w.ID, s.ID)
		}
		seen[s.ID] = true
		if s.Endpoint.URLHost == "" {
			return fmt.Errorf("workflow %q: step %q has no urlHost", w.ID, s.ID)
		}
		switch s.Mode {
		case "", ModeDirect:
		case ModeLoop:
			if s.LoopSelector == "" {
				return fmt.Errorf("workflow %q: LOOP step %q has no loopSelector", w.ID, s.ID)
			}
		default:
			return fmt.Errorf("workflow %q: step %q has unknown mode %q", w.ID, s.ID, s.Mode)
		}
	}
	return nil
}
