package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/martinemde/autopr/llm"
	"github.com/martinemde/autopr/sandbox"
)

// Plan is the contract between planning and execution.
type Plan struct {
	Approach      string   `json:"approach"`
	FilesToModify []string `json:"filesToModify"`
	NewFiles      []string `json:"newFiles"`
	Complexity    string   `json:"complexity"`
	Technologies  []string `json:"technologies"`
	Fallback      bool     `json:"-"`
}

// Valid reports whether the plan names at least one file to touch.
func (p *Plan) Valid() bool {
	return p != nil && len(p.FilesToModify)+len(p.NewFiles) > 0
}

// intent biases fallback file selection toward the request's apparent
// target layer.
type intent int

const (
	intentGeneric intent = iota
	intentBackend
	intentFrontend
)

var backendKeywords = []string{"backend", "server", "api", "database", "endpoint", "route", "migration", "query"}
var frontendKeywords = []string{"frontend", "ui", "client", "react", "vue", "component", "page", "css", "style", "button", "form"}

func classifyIntent(prompt string) intent {
	lower := strings.ToLower(prompt)
	backend, frontend := 0, 0
	for _, kw := range backendKeywords {
		if strings.Contains(lower, kw) {
			backend++
		}
	}
	for _, kw := range frontendKeywords {
		if strings.Contains(lower, kw) {
			frontend++
		}
	}
	switch {
	case backend > frontend:
		return intentBackend
	case frontend > backend:
		return intentFrontend
	default:
		return intentGeneric
	}
}

// Planner turns an Analysis plus a request into a Plan.
type Planner struct {
	client   *llm.Client
	provider string
	model    string
}

// NewPlanner creates a Planner.
func NewPlanner(client *llm.Client, provider, model string) *Planner {
	return &Planner{client: client, provider: provider, model: model}
}

const planSystemPrompt = `You are a senior engineer planning a code change. You may use the list_files and read_file tools to inspect the repository before deciding.

When done, return ONLY a JSON object (no markdown fencing) with fields:
- "approach": prose description of the change
- "filesToModify": array of existing file paths to edit
- "newFiles": array of file paths to create
- "complexity": one of "low", "medium", "high"
- "technologies": array of relevant technologies`

const maxFallbackFiles = 3

// planTokenBudget caps the planning loop; planning is an inspection
// pass and should stay far cheaper than implementation.
const planTokenBudget = 30000

// BuildPlan produces a valid Plan or an error when even the fallback
// yields no files. Planning is read-only: the model gets list_files and
// read_file and nothing else.
func (p *Planner) BuildPlan(ctx context.Context, sb sandbox.Sandbox, analysis *Analysis, request string) (*Plan, error) {
	in := classifyIntent(request)

	plan, err := p.planWithModel(ctx, sb, analysis, request)
	if err != nil || !plan.Valid() {
		plan = fallbackPlan(analysis, request, in)
	}
	if !plan.Valid() {
		return nil, fmt.Errorf("planning produced no files to modify or create for request %q", request)
	}
	return plan, nil
}

func (p *Planner) planWithModel(ctx context.Context, sb sandbox.Sandbox, analysis *Analysis, request string) (*Plan, error) {
	if p.client == nil {
		return nil, fmt.Errorf("no model client configured")
	}

	tools := readOnlyTools(sb)
	user := fmt.Sprintf("Repository analysis:\n%s\nRequest: %s\n\nInspect what you need, then return the plan JSON.", analysis.Summary(), request)

	result, err := llm.RunToolLoop(ctx, llm.ToolLoopOptions{
		Client:      p.client,
		Provider:    p.provider,
		Model:       p.model,
		System:      planSystemPrompt,
		User:        user,
		Tools:       tools,
		MaxRounds:   5,
		TokenBudget: planTokenBudget,
		MaxTokens:   4096,
		Execute: func(ctx context.Context, name string, args json.RawMessage) (string, bool) {
			var params map[string]any
			if err := json.Unmarshal(args, &params); err != nil {
				return "invalid tool arguments: " + err.Error(), true
			}
			res, err := sb.CallTool(ctx, name, params)
			if err != nil {
				return err.Error(), true
			}
			return res.Output(), !res.Success
		},
	})
	if err != nil {
		return nil, err
	}

	plan, err := normalizePlanJSON(result.Text)
	if err != nil {
		return nil, err
	}
	plan.FilesToModify = keepKnown(plan.FilesToModify, analysis.AllFiles)
	return plan, nil
}

// readOnlyTools filters the sandbox catalogue down to inspection tools.
func readOnlyTools(sb sandbox.Sandbox) []llm.ToolDefinition {
	allowed := map[string]bool{"list_files": true, "read_file": true}
	var out []llm.ToolDefinition
	for _, t := range sb.AvailableTools() {
		if allowed[t.Name] {
			out = append(out, llm.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
	}
	return out
}

// normalizePlanJSON parses the enumerated response shapes models
// actually produce: a flat plan object, one nested under
// "implementation_plan", or a "steps" array of per-file actions. All
// are flattened into the canonical Plan.
func normalizePlanJSON(text string) (*Plan, error) {
	text = stripFences(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in planner response")
	}
	raw := []byte(text[start : end+1])

	var flat Plan
	if err := json.Unmarshal(raw, &flat); err == nil && flat.Valid() {
		return &flat, nil
	}

	var nested struct {
		ImplementationPlan *Plan `json:"implementation_plan"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.ImplementationPlan.Valid() {
		return nested.ImplementationPlan, nil
	}

	var stepped struct {
		Approach string `json:"approach"`
		Steps    []struct {
			File   string `json:"file"`
			Path   string `json:"path"`
			Action string `json:"action"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(raw, &stepped); err == nil && len(stepped.Steps) > 0 {
		plan := &Plan{Approach: stepped.Approach, Complexity: "medium"}
		for _, step := range stepped.Steps {
			file := step.File
			if file == "" {
				file = step.Path
			}
			if file == "" {
				continue
			}
			if strings.EqualFold(step.Action, "create") {
				plan.NewFiles = append(plan.NewFiles, file)
			} else {
				plan.FilesToModify = append(plan.FilesToModify, file)
			}
		}
		if plan.Valid() {
			return plan, nil
		}
	}

	return nil, fmt.Errorf("planner response did not match any known plan shape")
}

// fallbackPlan selects files heuristically when the model path fails.
func fallbackPlan(analysis *Analysis, request string, in intent) *Plan {
	var pool []string
	switch in {
	case intentBackend:
		pool = analysis.BackendFiles
	case intentFrontend:
		pool = analysis.FrontendFiles
	}
	if len(pool) == 0 {
		pool = analysis.KeyFiles
	}
	if len(pool) == 0 {
		pool = analysis.BackendFiles
	}
	if len(pool) == 0 {
		pool = analysis.FrontendFiles
	}
	if len(pool) > maxFallbackFiles {
		pool = pool[:maxFallbackFiles]
	}

	return &Plan{
		Approach:      fmt.Sprintf("Modify the most relevant files to satisfy: %s", request),
		FilesToModify: append([]string{}, pool...),
		Complexity:    "medium",
		Fallback:      true,
	}
}
