package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/martinemde/autopr/llm"
	"github.com/martinemde/autopr/sandbox"
)

// ===========================================================================
// fakeSandbox — in-memory Sandbox with scriptable failures
// ===========================================================================

type fakeSandbox struct {
	mu           sync.Mutex
	files        map[string]string
	dirty        bool
	branch       string
	initialized  bool
	cleanupCalls int
	pushCalls    int
	commitCalls  int

	// failTool makes the named tool return a failure envelope.
	failTool map[string]string
	// initErr makes Initialize fail.
	initErr error

	toolLog []string
}

func newFakeSandbox(files map[string]string) *fakeSandbox {
	if files == nil {
		files = map[string]string{}
	}
	return &fakeSandbox{
		files:    files,
		branch:   "main",
		failTool: map[string]string{},
	}
}

func (f *fakeSandbox) Initialize(ctx context.Context) error {
	if f.initErr != nil {
		return f.initErr
	}
	f.initialized = true
	return nil
}

func (f *fakeSandbox) Cleanup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupCalls++
	f.initialized = false
	return nil
}

func (f *fakeSandbox) WorkingDirectory() string { return "/fake" }

func (f *fakeSandbox) AvailableTools() []sandbox.ToolDefinition {
	names := []string{
		"list_files", "read_file", "write_file", "delete_file", "create_directory",
		"clone_repository", "git_status", "git_add", "git_commit", "git_branch",
		"git_push", "git_diff", "git_apply_patch", "git_revert",
	}
	defs := make([]sandbox.ToolDefinition, 0, len(names))
	for _, n := range names {
		defs = append(defs, sandbox.ToolDefinition{
			Name:       n,
			Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}
	return defs
}

func (f *fakeSandbox) CallTool(ctx context.Context, name string, args map[string]any) (*sandbox.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolLog = append(f.toolLog, name)

	if msg, ok := f.failTool[name]; ok {
		return &sandbox.ToolResult{Success: false, Error: msg, ToolName: name}, nil
	}

	ok := func(data any) (*sandbox.ToolResult, error) {
		return &sandbox.ToolResult{Success: true, Data: data, ToolName: name}, nil
	}
	fail := func(format string, a ...any) (*sandbox.ToolResult, error) {
		return &sandbox.ToolResult{Success: false, Error: fmt.Sprintf(format, a...), ToolName: name}, nil
	}

	switch name {
	case "clone_repository":
		return ok(map[string]any{"url": args["url"], "defaultBranch": "main"})
	case "list_files":
		var out []string
		for p := range f.files {
			out = append(out, p)
		}
		sort.Strings(out)
		return ok(map[string]any{"files": out, "count": len(out)})
	case "read_file":
		path, _ := args["path"].(string)
		content, exists := f.files[path]
		if !exists {
			return fail("read %s: no such file", path)
		}
		return ok(content)
	case "write_file":
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		f.files[path] = content
		f.dirty = true
		return ok(map[string]any{"path": path, "bytes": len(content)})
	case "delete_file":
		path, _ := args["path"].(string)
		delete(f.files, path)
		f.dirty = true
		return ok("deleted " + path)
	case "create_directory":
		return ok("created")
	case "git_status":
		return ok(map[string]any{"branch": f.branch, "clean": !f.dirty, "files": []string{}})
	case "git_add":
		return ok("changes staged")
	case "git_commit":
		if !f.dirty {
			return fail("git commit failed: nothing to commit")
		}
		f.dirty = false
		f.commitCalls++
		return ok("committed")
	case "git_branch":
		prev := f.branch
		f.branch, _ = args["name"].(string)
		return ok(map[string]any{"branch": f.branch, "previousBranch": prev})
	case "git_push":
		f.pushCalls++
		return ok("pushed")
	case "git_diff":
		return ok("diff --git a/x b/x\n")
	case "git_apply_patch":
		return ok("patch applied")
	case "git_revert":
		f.dirty = false
		return ok("working tree restored")
	}
	return nil, fmt.Errorf("unknown tool %q", name)
}

// ===========================================================================
// scriptedProvider — canned model responses in call order
// ===========================================================================

type scriptedProvider struct {
	mu        sync.Mutex
	responses []*llm.Response
	calls     int
}

func (p *scriptedProvider) Name() string { return "fake" }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.responses) {
		resp := p.responses[i]
		resp.Provider = "fake"
		return resp, nil
	}
	return &llm.Response{Text: "done", StopReason: "stop", Provider: "fake"}, nil
}

func textResp(text string) *llm.Response {
	return &llm.Response{Text: text, StopReason: "stop", Usage: llm.Usage{TotalTokens: 10}}
}

func toolResp(calls ...llm.ToolCall) *llm.Response {
	return &llm.Response{ToolCalls: calls, StopReason: "tool_calls", Usage: llm.Usage{TotalTokens: 10}}
}

// ===========================================================================
// fakeGitHub — records PR creation
// ===========================================================================

type fakeGitHub struct {
	mu            sync.Mutex
	prs           []PullRequest
	defaultBranch string
	prErr         error
}

func (g *fakeGitHub) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	branch := g.defaultBranch
	if branch == "" {
		branch = "main"
	}
	return &Repository{Owner: owner, Name: repo, DefaultBranch: branch}, nil
}

func (g *fakeGitHub) CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*PullRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.prErr != nil {
		return nil, g.prErr
	}
	pr := PullRequest{
		URL:    fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, len(g.prs)+1),
		Number: len(g.prs) + 1,
	}
	g.prs = append(g.prs, pr)
	return &pr, nil
}

func (g *fakeGitHub) prCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prs)
}

// ===========================================================================
// test orchestrator wiring
// ===========================================================================

type testRig struct {
	orch     *Orchestrator
	sandbox  *fakeSandbox
	provider *scriptedProvider
	github   *fakeGitHub
	registry *Registry
}

func newTestRig(files map[string]string, responses []*llm.Response) *testRig {
	sb := newFakeSandbox(files)
	provider := &scriptedProvider{responses: responses}
	github := &fakeGitHub{}
	registry := NewRegistry(DefaultIdleTimeout)

	orch, err := New(Config{
		Client:     llm.NewClient(llm.WithProvider(provider)),
		Provider:   "fake",
		GitHub:     github,
		Registry:   registry,
		NewSandbox: func(sessionID string) sandbox.Sandbox { return sb },
	})
	if err != nil {
		panic(err)
	}
	return &testRig{orch: orch, sandbox: sb, provider: provider, github: github, registry: registry}
}

func collectEvents(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

// happyResponses scripts the full model conversation for a successful
// run: analysis, plan, one implementation round, summary, PR details.
func happyResponses() []*llm.Response {
	return []*llm.Response{
		textResp(`{"project_type": "backend", "backend_files": ["server.py"], "frontend_files": [], "config_files": []}`),
		textResp(`{"approach": "add a health endpoint", "filesToModify": ["server.py"], "newFiles": [], "complexity": "low", "technologies": ["python"]}`),
		toolResp(llm.ToolCall{ID: "c1", Name: "write_file", Arguments: []byte(`{"path": "server.py", "content": "# updated\n"}`)}),
		textResp("Added the health endpoint."),
		textResp(`{"title": "Add health check endpoint", "body": "Adds /health."}`),
	}
}

func testFiles() map[string]string {
	return map[string]string{
		"server.py":        "print('hi')\n",
		"requirements.txt": "flask\n",
		"README.md":        "readme\n",
	}
}
