// Package pipeline describes multi-stage tool pipelines: ordered stages, each a
// batch of independent tool requests run in parallel.
package pipeline

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"mcpreview/internal/domain"
)

// StructuredReviewName is the built-in pipeline used when a review names none.
const StructuredReviewName = "structured_review"

// Step is one tool request inside a stage. String parameters may reference task
// fields as ${repository}, ${author}, ${source_branch} and so on.
type Step struct {
	Tool   string         `yaml:"tool" json:"tool"`
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// Stage is a batch of steps with no ordering between them.
type Stage struct {
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Definition is a named, ordered list of stages.
type Definition struct {
	Name        string  `yaml:"name" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Stages      []Stage `yaml:"stages" json:"stages"`
}

// StructuredReview gathers context, analyzes the change, then looks for
// quality and security findings.
func StructuredReview() Definition {
	return Definition{
		Name:        StructuredReviewName,
		Description: "Three-stage review: context, change analysis, findings",
		Stages: []Stage{
			{Name: "context", Steps: []Step{
				{Tool: "git", Params: map[string]any{"command": "status", "repository": "${repository}"}},
				{Tool: "database", Params: map[string]any{"query": "recent_reviews"}},
			}},
			{Name: "analysis", Steps: []Step{
				{Tool: "filesystem", Params: map[string]any{"operation": "analyze_structure", "path": "${repository}"}},
				{Tool: "git", Params: map[string]any{"command": "diff", "repository": "${repository}"}},
			}},
			{Name: "findings", Steps: []Step{
				{Tool: "database", Params: map[string]any{"query": "security_findings"}},
				{Tool: "database", Params: map[string]any{"query": "quality_trends"}},
			}},
		},
	}
}

// Validate checks the definition is runnable.
func (d Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("pipeline name is required"))
	}
	if len(d.Stages) == 0 {
		errs = append(errs, fmt.Errorf("pipeline %q has no stages", d.Name))
	}
	for i, st := range d.Stages {
		if len(st.Steps) == 0 {
			errs = append(errs, fmt.Errorf("pipeline %q stage %d (%s) has no steps", d.Name, i, st.Name))
		}
		for j, step := range st.Steps {
			if step.Tool == "" {
				errs = append(errs, fmt.Errorf("pipeline %q stage %d step %d: tool is required", d.Name, i, j))
			}
		}
	}
	return errors.Join(errs...)
}

// StageName returns the stage's name, or "stage-<n>" (1-based) when unnamed.
func (d Definition) StageName(i int) string {
	if name := d.Stages[i].Name; name != "" {
		return name
	}
	return fmt.Sprintf("stage-%d", i+1)
}

// Requests materializes a stage into tool requests with placeholders expanded.
func (s Stage) Requests(vars map[string]string) []domain.ToolInvocationRequest {
	reqs := make([]domain.ToolInvocationRequest, 0, len(s.Steps))
	for _, step := range s.Steps {
		params, _ := Substitute(step.Params, vars).(map[string]any)
		reqs = append(reqs, domain.NewRequest(step.Tool, params))
	}
	return reqs
}

// Substitute expands ${name} references in every string reachable from v.
// Unknown names expand to the empty string. Maps and slices are copied.
func Substitute(v any, vars map[string]string) any {
	switch t := v.(type) {
	case string:
		if !strings.Contains(t, "$") {
			return t
		}
		return os.Expand(t, func(k string) string { return vars[k] })
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Substitute(val, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Substitute(val, vars)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = Substitute(val, vars).(string)
		}
		return out
	default:
		return v
	}
}
