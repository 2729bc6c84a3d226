package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/autopr/llm"
	"github.com/martinemde/autopr/sandbox"
)

// SandboxFactory builds a sandbox for a new session.
type SandboxFactory func(sessionID string) sandbox.Sandbox

// Config wires an Orchestrator's collaborators.
type Config struct {
	Client     *llm.Client
	Provider   string
	Model      string
	GitHub     GitHubClient
	Registry   *Registry
	NewSandbox SandboxFactory
	Strategy   Strategy

	// BranchPrefix prefixes generated branch names. Default "autopr".
	BranchPrefix string

	// TokenBudget caps model usage for the implementation loop. Zero
	// applies the executor default.
	TokenBudget int
}

// Orchestrator owns the session lifecycle and the phase state machine.
type Orchestrator struct {
	cfg Config
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("orchestrator requires a model client")
	}
	if cfg.GitHub == nil {
		return nil, fmt.Errorf("orchestrator requires a GitHub client")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("orchestrator requires a session registry")
	}
	if cfg.NewSandbox == nil {
		return nil, fmt.Errorf("orchestrator requires a sandbox factory")
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "autopr"
	}
	return &Orchestrator{cfg: cfg}, nil
}

// Run starts a full agent run and returns its ordered event stream. The
// stream terminates with complete or error, or suspends at
// pause_for_verification with the session parked in the registry.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		o.run(ctx, req, &emitter{ctx: ctx, ch: ch})
	}()
	return ch
}

func (o *Orchestrator) run(ctx context.Context, req Request, em *emitter) {
	em.emitf(EventStart, "Starting agent run for %s", req.RepoURL)

	session := NewSession(req, nil)
	sb := o.cfg.NewSandbox(session.ID)
	session.Sandbox = sb
	paused := false
	defer func() {
		if !paused {
			_ = sb.Cleanup(context.WithoutCancel(ctx))
		}
	}()

	// start -> sandbox_ready
	if err := sb.Initialize(ctx); err != nil {
		em.emitf(EventError, "sandbox initialization failed: %v", err)
		return
	}
	em.emit(EventSandboxCreate, "Sandbox ready")

	// sandbox_ready -> cloned
	em.progress(10, "Cloning repository")
	cloneRes, err := sb.CallTool(ctx, "clone_repository", map[string]any{"url": req.RepoURL})
	if err != nil {
		em.emitf(EventError, "clone failed: %v", err)
		return
	}
	if !cloneRes.Success {
		em.emitf(EventError, "clone failed: %s", cloneRes.Error)
		return
	}
	if data, ok := cloneRes.Data.(map[string]any); ok {
		if branch, ok := data["defaultBranch"].(string); ok && branch != "" {
			session.DefaultBranch = branch
		}
	}
	em.progress(20, "Repository cloned")

	// cloned -> analyzed
	analyzer := NewAnalyzer(o.cfg.Client, o.cfg.Provider, o.cfg.Model)
	analysis, err := analyzer.Analyze(ctx, sb)
	if err != nil {
		em.emitf(EventError, "analysis failed: %v", err)
		return
	}
	em.emitf(EventAnalyze, "Analyzed %d files (%s)", analysis.TotalFiles, analysis.ProjectType)

	// analyzed -> planned
	em.progress(35, "Planning implementation")
	planner := NewPlanner(o.cfg.Client, o.cfg.Provider, o.cfg.Model)
	plan, err := planner.BuildPlan(ctx, sb, analysis, req.Prompt)
	if err != nil {
		// Planning failure is recoverable here: try the heuristic
		// selection one more time before giving up.
		plan = fallbackPlan(analysis, req.Prompt, classifyIntent(req.Prompt))
		if !plan.Valid() {
			em.emitf(EventError, "planning failed: %v", err)
			return
		}
	}
	session.Plan = plan
	em.emitf(EventPlan, "Plan ready: %d file(s) to modify, %d to create", len(plan.FilesToModify), len(plan.NewFiles))

	// planned -> branch_created
	session.Branch = o.branchName()
	branchRes, err := sb.CallTool(ctx, "git_branch", map[string]any{"name": session.Branch})
	if err != nil {
		em.emitf(EventError, "branch creation failed: %v", err)
		return
	}
	if !branchRes.Success {
		em.emitf(EventError, "branch creation failed: %s", branchRes.Error)
		return
	}
	if data, ok := branchRes.Data.(map[string]any); ok {
		if prev, ok := data["previousBranch"].(string); ok && prev != "" {
			session.DefaultBranch = prev
		}
	}
	em.progress(45, "Created branch "+session.Branch)

	// branch_created -> implemented
	executor := NewExecutor(o.cfg.Client, o.cfg.Provider, o.cfg.Model, o.cfg.Strategy)
	executor.TokenBudget = o.cfg.TokenBudget
	executor.OnToolCall = func(record llm.ToolCallRecord) {
		if record.IsError {
			em.emitf(EventToolError, "%s failed: %s", record.Name, firstLine(record.Result))
		} else {
			em.emitf(EventToolCall, "%s", record.Name)
		}
	}
	executor.OnDebug = func(msg string) { em.emit(EventDebug, msg) }

	execResult, err := executor.Execute(ctx, sb, analysis, plan, req.Prompt)
	if err != nil {
		em.emitf(EventError, "implementation failed: %v", err)
		return
	}
	session.ChangedFiles = execResult.ChangedFiles
	for _, f := range execResult.ChangedFiles {
		em.emit(EventFileChange, f)
	}
	em.emitf(EventImplement, "Implementation complete: %d file(s) changed", len(execResult.ChangedFiles))

	// implemented -> committed
	em.progress(75, "Committing changes")
	skipped, err := o.commitIfNeeded(ctx, sb, req.Prompt)
	if err != nil {
		em.emitf(EventError, "commit failed: %v", err)
		return
	}
	if skipped {
		em.emit(EventDebug, "commit skipped: working tree already clean")
	}

	if req.Verify {
		// committed -> paused_for_verification. Teardown is deferred
		// to the resume path or idle eviction.
		paused = true
		o.cfg.Registry.Put(session)
		em.payload(EventPauseForVerification, "Paused for verification", map[string]any{
			"sessionId":    session.ID,
			"branchName":   session.Branch,
			"filesChanged": session.ChangedFiles,
		})
		return
	}

	// committed -> pushed_and_pr_created
	o.pushAndCreatePR(ctx, session, execResult.Summary, em)
}

// Resume picks a paused session back up and runs the push/PR tail. The
// sandbox is always torn down and the registry entry evicted afterward,
// whatever the outcome.
func (o *Orchestrator) Resume(ctx context.Context, sessionID, branch string) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		em := &emitter{ctx: ctx, ch: ch}

		session, err := o.cfg.Registry.Acquire(sessionID)
		if err != nil {
			em.emitf(EventError, "resume failed: %v", err)
			return
		}
		defer o.cfg.Registry.Remove(context.WithoutCancel(ctx), sessionID)

		if branch != "" {
			session.Branch = branch
		}
		em.emitf(EventStart, "Resuming session %s on branch %s", session.ID, session.Branch)

		o.pushAndCreatePR(ctx, session, "", em)
	}()
	return ch
}

// pushAndCreatePR is the shared tail: push the branch, generate PR
// details, resolve the true base branch, create the PR.
func (o *Orchestrator) pushAndCreatePR(ctx context.Context, session *Session, summary string, em *emitter) {
	em.progress(85, "Pushing branch")
	pushRes, err := session.Sandbox.CallTool(ctx, "git_push", map[string]any{"branch": session.Branch})
	if err != nil {
		em.emitf(EventError, "push failed: %v", err)
		return
	}
	if !pushRes.Success {
		em.emitf(EventError, "push failed: %s", pushRes.Error)
		return
	}

	em.emit(EventPRCreate, "Creating pull request")

	owner, repo, err := ParseRepoURL(session.RepoURL)
	if err != nil {
		em.emitf(EventError, "cannot determine repository for PR: %v", err)
		return
	}

	title, body := GeneratePRDetails(ctx, o.cfg.Client, o.cfg.Provider, o.cfg.Model,
		session.Request, summary, session.ChangedFiles)

	// The clone-time default branch guess may be wrong; re-query the
	// host and fall back to the recorded value.
	base := session.DefaultBranch
	if info, err := o.cfg.GitHub.GetRepository(ctx, owner, repo); err == nil && info.DefaultBranch != "" {
		base = info.DefaultBranch
	}

	pr, err := o.cfg.GitHub.CreatePullRequest(ctx, owner, repo, title, body, session.Branch, base)
	if err != nil {
		em.emitf(EventError, "pull request creation failed: %v", err)
		return
	}

	em.payload(EventPRCreated, "Pull request created", map[string]any{
		"prUrl":    pr.URL,
		"prNumber": pr.Number,
	})
	em.payload(EventComplete, fmt.Sprintf("Done: %s", pr.URL), map[string]any{
		"prUrl":        pr.URL,
		"prNumber":     pr.Number,
		"filesChanged": len(session.ChangedFiles),
		"summary":      summary,
	})
}

// commitIfNeeded stages and commits pending changes. Returns true when
// nothing was pending, which includes the executor having committed
// autonomously.
func (o *Orchestrator) commitIfNeeded(ctx context.Context, sb sandbox.Sandbox, request string) (skipped bool, err error) {
	statusRes, err := sb.CallTool(ctx, "git_status", map[string]any{})
	if err != nil {
		return false, err
	}
	if !statusRes.Success {
		return false, fmt.Errorf("checking working tree: %s", statusRes.Error)
	}
	clean := false
	if data, ok := statusRes.Data.(map[string]any); ok {
		clean, _ = data["clean"].(bool)
	}
	if clean {
		return true, nil
	}

	addRes, err := sb.CallTool(ctx, "git_add", map[string]any{})
	if err != nil {
		return false, err
	}
	if !addRes.Success {
		return false, fmt.Errorf("staging changes: %s", addRes.Error)
	}

	message := commitMessage(request)
	commitRes, err := sb.CallTool(ctx, "git_commit", map[string]any{"message": message})
	if err != nil {
		return false, err
	}
	if !commitRes.Success {
		// "nothing to commit" surfaces as a skip, not a failure.
		if strings.Contains(strings.ToLower(commitRes.Error), "nothing to commit") {
			return true, nil
		}
		return false, fmt.Errorf("committing changes: %s", commitRes.Error)
	}
	return false, nil
}

func commitMessage(request string) string {
	msg := strings.TrimSpace(request)
	if len(msg) > 72 {
		msg = msg[:69] + "..."
	}
	return msg
}

func (o *Orchestrator) branchName() string {
	return fmt.Sprintf("%s/%s-%s",
		o.cfg.BranchPrefix,
		time.Now().Format("20060102-150405"),
		uuid.New().String()[:8])
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
