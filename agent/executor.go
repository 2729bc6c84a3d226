package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/martinemde/autopr/llm"
	"github.com/martinemde/autopr/sandbox"
)

// Strategy selects how the Executor realizes a plan.
type Strategy string

const (
	// StrategyAutonomous gives the model the read/write/git tool subset
	// and trusts it to edit, stage, and commit within the round budget.
	StrategyAutonomous Strategy = "autonomous"
	// StrategyDirect rewrites each target file with a single-shot
	// generation, validating and retrying on contaminated output.
	StrategyDirect Strategy = "direct"
)

// ExecResult reports what the Executor did.
type ExecResult struct {
	Summary      string
	ChangedFiles []string
	Committed    bool
	Usage        llm.Usage
}

// Executor realizes an Implementation Plan against a sandbox.
type Executor struct {
	client   *llm.Client
	provider string
	model    string
	strategy Strategy

	// OnToolCall and OnDebug surface progress to the orchestrator.
	OnToolCall func(record llm.ToolCallRecord)
	OnDebug    func(message string)

	// TokenBudget caps cumulative model usage for the implementation
	// loop. Zero applies defaultImplementBudget.
	TokenBudget int
}

const defaultImplementBudget = 120000

// NewExecutor creates an Executor. An empty strategy defaults to
// autonomous.
func NewExecutor(client *llm.Client, provider, model string, strategy Strategy) *Executor {
	if strategy == "" {
		strategy = StrategyAutonomous
	}
	return &Executor{client: client, provider: provider, model: model, strategy: strategy}
}

// Execute runs the configured strategy. Failure is fatal to the run.
func (e *Executor) Execute(ctx context.Context, sb sandbox.Sandbox, analysis *Analysis, plan *Plan, request string) (*ExecResult, error) {
	if !plan.Valid() {
		return nil, fmt.Errorf("refusing to execute an empty plan")
	}
	switch e.strategy {
	case StrategyDirect:
		return e.executeDirect(ctx, sb, plan, request)
	default:
		return e.executeAutonomous(ctx, sb, analysis, plan, request)
	}
}

var implementToolNames = map[string]bool{
	"list_files": true, "read_file": true, "write_file": true,
	"delete_file": true, "create_directory": true,
	"git_status": true, "git_add": true, "git_commit": true, "git_diff": true,
}

const implementSystemPrompt = `You are an expert software engineer making a focused code change. Use the tools to read the relevant files, write your changes, and verify with git_status and git_diff. Stage and commit when the change is complete, with a clear conventional commit message. Keep the change minimal: touch only what the task requires.`

func (e *Executor) executeAutonomous(ctx context.Context, sb sandbox.Sandbox, analysis *Analysis, plan *Plan, request string) (*ExecResult, error) {
	var tools []llm.ToolDefinition
	for _, t := range sb.AvailableTools() {
		if implementToolNames[t.Name] {
			tools = append(tools, llm.ToolDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Task: %s\n\nApproach: %s\n", request, plan.Approach)
	if len(plan.FilesToModify) > 0 {
		fmt.Fprintf(&user, "Files to modify: %s\n", strings.Join(plan.FilesToModify, ", "))
	}
	if len(plan.NewFiles) > 0 {
		fmt.Fprintf(&user, "Files to create: %s\n", strings.Join(plan.NewFiles, ", "))
	}
	fmt.Fprintf(&user, "\nRepository context:\n%s", analysis.Summary())

	changed := map[string]bool{}
	committed := false

	budget := e.TokenBudget
	if budget <= 0 {
		budget = defaultImplementBudget
	}

	result, err := llm.RunToolLoop(ctx, llm.ToolLoopOptions{
		Client:      e.client,
		Provider:    e.provider,
		Model:       e.model,
		System:      implementSystemPrompt,
		User:        user.String(),
		Tools:       tools,
		MaxRounds:   12,
		TokenBudget: budget,
		MaxTokens:   8192,
		Execute: func(ctx context.Context, name string, args json.RawMessage) (string, bool) {
			var params map[string]any
			if err := json.Unmarshal(args, &params); err != nil {
				return "invalid tool arguments: " + err.Error(), true
			}
			res, err := sb.CallTool(ctx, name, params)
			if err != nil {
				return err.Error(), true
			}
			if res.Success {
				switch name {
				case "write_file", "delete_file":
					if p, ok := params["path"].(string); ok {
						changed[p] = true
					}
				case "git_commit":
					committed = true
				}
			}
			return res.Output(), !res.Success
		},
		OnToolCall: e.OnToolCall,
	})
	if err != nil {
		return nil, fmt.Errorf("implementation loop: %w", err)
	}
	if len(changed) == 0 {
		return nil, fmt.Errorf("implementation made no file changes")
	}

	files := make([]string, 0, len(changed))
	for f := range changed {
		files = append(files, f)
	}
	return &ExecResult{
		Summary:      result.Text,
		ChangedFiles: files,
		Committed:    committed,
		Usage:        result.Usage,
	}, nil
}

const maxGenerateRetries = 3

func (e *Executor) executeDirect(ctx context.Context, sb sandbox.Sandbox, plan *Plan, request string) (*ExecResult, error) {
	var changed []string
	var usage llm.Usage

	targets := append(append([]string{}, plan.FilesToModify...), plan.NewFiles...)
	for _, file := range targets {
		existing := ""
		if res, err := sb.CallTool(ctx, "read_file", map[string]any{"path": file}); err == nil && res.Success {
			existing, _ = res.Data.(string)
		}

		content, err := e.generateFile(ctx, file, existing, request, plan.Approach, &usage)
		if err != nil {
			return nil, fmt.Errorf("generating %s: %w", file, err)
		}

		res, err := sb.CallTool(ctx, "write_file", map[string]any{"path": file, "content": content})
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, fmt.Errorf("writing %s: %s", file, res.Error)
		}
		changed = append(changed, file)
	}

	if len(changed) == 0 {
		return nil, fmt.Errorf("implementation made no file changes")
	}
	return &ExecResult{
		Summary:      fmt.Sprintf("Rewrote %d file(s) per plan", len(changed)),
		ChangedFiles: changed,
		Usage:        usage,
	}, nil
}

// generateFile produces a full replacement for one file, retrying with a
// stricter instruction while validation rejects the output. After the
// retry cap the best-effort output is accepted anyway.
func (e *Executor) generateFile(ctx context.Context, file, existing, request, approach string, usage *llm.Usage) (string, error) {
	prompt := fmt.Sprintf("Task: %s\nApproach: %s\nFile: %s\n", request, approach, file)
	if existing != "" {
		prompt += "\nCurrent contents:\n" + existing + "\nProduce the complete updated file."
	} else {
		prompt += "\nThis is a new file. Produce its complete contents."
	}

	var content string
	var err error
	for attempt := 0; attempt < maxGenerateRetries; attempt++ {
		p := prompt
		if attempt > 0 {
			p += "\n\nIMPORTANT: output raw file contents only. No markdown fences, no prose, no headings. Start directly with code."
		}
		content, err = llm.GenerateCode(ctx, e.client, p, llm.GenerateOptions{
			Provider:  e.provider,
			Model:     e.model,
			MaxTokens: 8192,
		})
		if err != nil {
			return "", err
		}
		if err := ValidateGeneratedCode(content); err == nil {
			return content, nil
		} else if e.OnDebug != nil {
			e.OnDebug(fmt.Sprintf("generated %s failed validation (attempt %d): %v", file, attempt+1, err))
		}
	}
	// Cap exhausted: proceed with the last output.
	if e.OnDebug != nil {
		e.OnDebug(fmt.Sprintf("accepting best-effort output for %s after %d attempts", file, maxGenerateRetries))
	}
	return content, nil
}

var explanationPatterns = []string{
	"here is", "here's", "to modify", "to add", "to implement",
	"i've updated", "i have updated", "this change", "the following code",
}

// ValidateGeneratedCode is a cheap syntactic gate against explanation
// contaminated output. It is not a compiler; false verdicts are an
// accepted tradeoff.
func ValidateGeneratedCode(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("empty output")
	}
	if strings.Contains(content, "```") {
		return fmt.Errorf("contains markdown fencing")
	}

	firstLine := strings.TrimSpace(strings.SplitN(trimmed, "\n", 2)[0])
	lower := strings.ToLower(firstLine)
	for _, pat := range explanationPatterns {
		if strings.HasPrefix(lower, pat) {
			return fmt.Errorf("starts with explanatory prose")
		}
	}
	if strings.HasPrefix(firstLine, "# ") || strings.HasPrefix(firstLine, "## ") {
		return fmt.Errorf("starts with a markdown heading")
	}

	if !startsLikeCode(firstLine) {
		return fmt.Errorf("does not start with a recognizable code token")
	}
	return nil
}

var codeStartTokens = []string{
	"import", "export", "package", "from", "function", "func", "class",
	"const", "let", "var", "def", "use", "require", "module", "public",
	"private", "interface", "type", "enum", "async", "return", "#include",
	"#!/", "//", "/*", "--", "'", "\"",
}

func startsLikeCode(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case '<', '{', '[', '(', '.', '#', '@', '$', '*', ':', ';', '}':
		return true
	}
	lower := strings.ToLower(line)
	for _, tok := range codeStartTokens {
		if strings.HasPrefix(lower, tok) {
			return true
		}
	}
	// CSS selector shape: "name {" somewhere on the first line.
	if strings.Contains(line, "{") {
		return true
	}
	return false
}
