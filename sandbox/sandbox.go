package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ToolResult is the uniform envelope returned by every tool invocation.
// Callers branch on Success, never on errors, for expected failure modes.
type ToolResult struct {
	Success  bool          `json:"success"`
	Data     any           `json:"data,omitempty"`
	Error    string        `json:"error,omitempty"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ToolName string        `json:"tool_name"`
	Duration time.Duration `json:"duration"`
}

// Output returns the most useful textual representation of the result for
// feeding back to a model: the error for failures, otherwise data or stdout.
func (r *ToolResult) Output() string {
	if !r.Success {
		return r.Error
	}
	if s, ok := r.Data.(string); ok && s != "" {
		return s
	}
	if r.Data != nil {
		if b, err := json.Marshal(r.Data); err == nil {
			return string(b)
		}
	}
	return r.Stdout
}

// ToolDefinition describes a tool for the LLM (serializable metadata).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// toolFunc executes a tool against the bound workspace. It always returns a
// ToolResult; domain failures are encoded in the envelope.
type toolFunc func(ctx context.Context, args map[string]any) *ToolResult

type registeredTool struct {
	def toolFunc
	td  ToolDefinition
}

// Sandbox is the capability interface the orchestrator depends on.
type Sandbox interface {
	// Initialize provisions the execution environment. Idempotent.
	Initialize(ctx context.Context) error
	// CallTool invokes a catalogue tool. It returns an error only for
	// unknown tool names; domain failures travel inside the ToolResult.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	// Cleanup terminates the environment. Idempotent and safe to call
	// even when the orchestration path failed.
	Cleanup(ctx context.Context) error
	// AvailableTools returns the fixed tool catalogue.
	AvailableTools() []ToolDefinition
	// WorkingDirectory returns the sandbox root path.
	WorkingDirectory() string
}

// ExecResult holds the outcome of a command execution inside a workspace.
type ExecResult struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration"`
}

// Workspace abstracts where tool operations run. Paths passed in are
// already resolved against the workspace root by the Surface.
type Workspace interface {
	Init(ctx context.Context) error
	Close(ctx context.Context) error
	Root() string
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	DeleteFile(ctx context.Context, path string) error
	MakeDir(ctx context.Context, path string) error
	// ListFiles returns all regular files under the root as relative
	// paths, skipping VCS internals and vendored dependency trees.
	ListFiles(ctx context.Context) ([]string, error)
	// Exec runs a shell command in the workspace root.
	Exec(ctx context.Context, command string, timeout time.Duration, env map[string]string) (*ExecResult, error)
}

// Options configures a Surface.
type Options struct {
	// MaxRepoSize caps the post-clone repository size in bytes.
	// clone_repository discards the clone and fails when exceeded.
	MaxRepoSize int64
	// AuthToken is used for remote git operations. It reaches git only
	// through a per-operation credential helper environment, never a
	// stored URL, and is redacted from all tool output.
	AuthToken string
	// AllowRawExec enables the execute_command passthrough used by the
	// external terminal bridge. Off in production.
	AllowRawExec bool
	// CommandTimeout bounds individual tool commands.
	CommandTimeout time.Duration
	// GitUserName and GitUserEmail identify commits made by the agent.
	GitUserName  string
	GitUserEmail string
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxRepoSize <= 0 {
		out.MaxRepoSize = 500 << 20 // 500 MiB
	}
	if out.CommandTimeout <= 0 {
		out.CommandTimeout = 2 * time.Minute
	}
	if out.GitUserName == "" {
		out.GitUserName = "autopr-agent"
	}
	if out.GitUserEmail == "" {
		out.GitUserEmail = "agent@autopr.invalid"
	}
	return out
}

// Surface binds a Workspace to the fixed tool catalogue.
type Surface struct {
	ws   Workspace
	opts Options

	tools map[string]*registeredTool
	order []string

	mu          sync.Mutex
	initialized bool
	cleaned     bool
}

// New constructs a Surface over the given workspace. The catalogue is
// registered once here and never changes during a session.
func New(ws Workspace, opts Options) *Surface {
	s := &Surface{
		ws:    ws,
		opts:  opts.withDefaults(),
		tools: make(map[string]*registeredTool),
	}
	s.registerFileTools()
	s.registerGitTools()
	s.registerExecTool()
	return s
}

func (s *Surface) register(td ToolDefinition, fn toolFunc) {
	s.tools[td.Name] = &registeredTool{def: fn, td: td}
	s.order = append(s.order, td.Name)
}

// Initialize provisions the workspace. Safe to call more than once.
func (s *Surface) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.ws.Init(ctx); err != nil {
		return fmt.Errorf("initialize sandbox: %w", err)
	}
	s.initialized = true
	s.cleaned = false
	return nil
}

// Cleanup tears the workspace down. Safe to call more than once and after
// a failed Initialize.
func (s *Surface) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleaned {
		return nil
	}
	s.cleaned = true
	s.initialized = false
	if err := s.ws.Close(ctx); err != nil {
		return fmt.Errorf("cleanup sandbox: %w", err)
	}
	return nil
}

// CallTool dispatches a catalogue tool by name.
func (s *Surface) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	tool, ok := s.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()
	res := tool.def(ctx, args)
	if res == nil {
		res = failure("tool %s returned no result", name)
	}
	res.ToolName = name
	res.Duration = time.Since(start)
	return res, nil
}

// AvailableTools returns the catalogue in registration order.
func (s *Surface) AvailableTools() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(s.order))
	for _, name := range s.order {
		defs = append(defs, s.tools[name].td)
	}
	return defs
}

// WorkingDirectory returns the workspace root.
func (s *Surface) WorkingDirectory() string {
	return s.ws.Root()
}

func success(data any) *ToolResult {
	return &ToolResult{Success: true, Data: data}
}

func failure(format string, a ...any) *ToolResult {
	return &ToolResult{Success: false, Error: fmt.Sprintf(format, a...)}
}
