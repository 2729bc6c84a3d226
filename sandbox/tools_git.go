package sandbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

func (s *Surface) registerGitTools() {
	s.register(ToolDefinition{
		Name:        "clone_repository",
		Description: "Clone a remote git repository into the sandbox working directory.",
		Parameters: objectSchema(map[string]any{
			"url":    prop("string", "HTTPS URL of the repository to clone."),
			"branch": prop("string", "Branch to check out. Default: the remote default branch."),
		}, "url"),
	}, s.cloneRepository)

	s.register(ToolDefinition{
		Name:        "git_status",
		Description: "Show the working tree status. Returns the current branch and changed files.",
		Parameters:  objectSchema(map[string]any{}),
	}, s.gitStatus)

	s.register(ToolDefinition{
		Name:        "git_add",
		Description: "Stage changes for commit.",
		Parameters: objectSchema(map[string]any{
			"paths": prop("string", "Space-separated paths to stage. Default: all changes."),
		}),
	}, s.gitAdd)

	s.register(ToolDefinition{
		Name:        "git_commit",
		Description: "Commit staged changes with the given message.",
		Parameters: objectSchema(map[string]any{
			"message": prop("string", "The commit message."),
		}, "message"),
	}, s.gitCommit)

	s.register(ToolDefinition{
		Name:        "git_branch",
		Description: "Create and switch to a new branch.",
		Parameters: objectSchema(map[string]any{
			"name": prop("string", "Name of the branch to create."),
		}, "name"),
	}, s.gitBranch)

	s.register(ToolDefinition{
		Name:        "git_push",
		Description: "Push a branch to the origin remote.",
		Parameters: objectSchema(map[string]any{
			"branch": prop("string", "Branch to push."),
		}, "branch"),
	}, s.gitPush)

	s.register(ToolDefinition{
		Name:        "git_diff",
		Description: "Show the diff of uncommitted or branch changes as unified diff text.",
		Parameters: objectSchema(map[string]any{
			"base": prop("string", "Base ref to diff against. Default: working tree vs HEAD."),
		}),
	}, s.gitDiff)

	s.register(ToolDefinition{
		Name:        "git_apply_patch",
		Description: "Apply a unified diff patch to the working tree.",
		Parameters: objectSchema(map[string]any{
			"patch": prop("string", "The patch content in unified diff format."),
		}, "patch"),
	}, s.gitApplyPatch)

	s.register(ToolDefinition{
		Name:        "git_revert",
		Description: "Discard all uncommitted changes and untracked files, restoring the last commit.",
		Parameters:  objectSchema(map[string]any{}),
	}, s.gitRevert)
}

// runGit executes a git command in the workspace root and converts the
// outcome into a ToolResult. Credential material is redacted from output.
func (s *Surface) runGit(ctx context.Context, command string) (*ExecResult, error) {
	return s.runGitEnv(ctx, command, nil)
}

func (s *Surface) runGitEnv(ctx context.Context, command string, extra map[string]string) (*ExecResult, error) {
	env := map[string]string{
		"GIT_TERMINAL_PROMPT": "0",
	}
	for k, v := range extra {
		env[k] = v
	}
	res, err := s.ws.Exec(ctx, command, s.opts.CommandTimeout, env)
	if err != nil {
		return nil, err
	}
	res.Stdout = s.redact(res.Stdout)
	res.Stderr = s.redact(res.Stderr)
	return res, nil
}

func (s *Surface) redact(out string) string {
	if s.opts.AuthToken == "" {
		return out
	}
	return strings.ReplaceAll(out, s.opts.AuthToken, "***")
}

// credentialed prefixes git arguments with a one-shot credential helper
// that reads the token from the command's environment. The token never
// appears in a URL, so git records only the clean remote in .git/config
// and nothing credentialed outlives the single Exec.
func (s *Surface) credentialed(gitArgs string) (string, map[string]string) {
	if s.opts.AuthToken == "" {
		return "git " + gitArgs, nil
	}
	helper := `!f() { echo "username=x-access-token"; echo "password=${AUTOPR_GIT_TOKEN}"; }; f`
	return "git -c credential.helper= -c credential.helper=" + shellQuote(helper) + " " + gitArgs,
		map[string]string{"AUTOPR_GIT_TOKEN": s.opts.AuthToken}
}

func gitFailure(op string, res *ExecResult) *ToolResult {
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(res.Stdout)
	}
	if msg == "" {
		msg = fmt.Sprintf("exit code %d", res.ExitCode)
	}
	if res.TimedOut {
		msg = "command timed out"
	}
	return &ToolResult{
		Success: false,
		Error:   fmt.Sprintf("%s failed: %s", op, msg),
		Stdout:  res.Stdout,
		Stderr:  res.Stderr,
	}
}

func (s *Surface) cloneRepository(ctx context.Context, args map[string]any) *ToolResult {
	url, ok := stringArg(args, "url")
	if !ok || url == "" {
		return failure("url is required")
	}
	branchFlag := ""
	if branch, ok := stringArg(args, "branch"); ok && branch != "" {
		branchFlag = " --branch " + shellQuote(branch)
	}

	cmd, env := s.credentialed("clone --depth 50" + branchFlag + " " + shellQuote(url) + " .")
	res, err := s.runGitEnv(ctx, cmd, env)
	if err != nil {
		return failure("clone failed: %v", err)
	}
	if res.ExitCode != 0 {
		return gitFailure("clone", res)
	}

	if tr := s.checkRepoSize(ctx); tr != nil {
		return tr
	}

	defaultBranch := ""
	if head, err := s.runGit(ctx, "git symbolic-ref --short HEAD"); err == nil && head.ExitCode == 0 {
		defaultBranch = strings.TrimSpace(head.Stdout)
	}
	return success(map[string]any{
		"url":           url,
		"defaultBranch": defaultBranch,
	})
}

// checkRepoSize enforces the post-clone size cap. On violation the clone
// is removed so the environment holds no oversized tree.
func (s *Surface) checkRepoSize(ctx context.Context) *ToolResult {
	res, err := s.runGit(ctx, "du -sk .")
	if err != nil || res.ExitCode != 0 {
		return nil // size probe is best-effort
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) == 0 {
		return nil
	}
	kb, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil
	}
	if kb*1024 > s.opts.MaxRepoSize {
		_, _ = s.runGit(ctx, "rm -rf ./* ./.git")
		return failure("clone failed: repository size %d KiB exceeds the %d MiB limit",
			kb, s.opts.MaxRepoSize>>20)
	}
	return nil
}

func (s *Surface) gitStatus(ctx context.Context, args map[string]any) *ToolResult {
	res, err := s.runGit(ctx, "git status --porcelain --branch")
	if err != nil {
		return failure("git status failed: %v", err)
	}
	if res.ExitCode != 0 {
		return gitFailure("git status", res)
	}

	branch := ""
	var files []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			branch = strings.TrimPrefix(line, "## ")
			if idx := strings.Index(branch, "..."); idx >= 0 {
				branch = branch[:idx]
			}
			continue
		}
		if len(line) > 3 {
			files = append(files, strings.TrimSpace(line[3:]))
		}
	}
	return &ToolResult{
		Success: true,
		Data: map[string]any{
			"branch": branch,
			"clean":  len(files) == 0,
			"files":  files,
		},
		Stdout: res.Stdout,
	}
}

func (s *Surface) gitAdd(ctx context.Context, args map[string]any) *ToolResult {
	target := "-A"
	if paths, ok := stringArg(args, "paths"); ok && paths != "" {
		parts := strings.Fields(paths)
		quoted := make([]string, len(parts))
		for i, p := range parts {
			if _, _, err := resolvePath(s.ws.Root(), p); err != nil {
				return failure("%v", err)
			}
			quoted[i] = shellQuote(p)
		}
		target = strings.Join(quoted, " ")
	}
	res, err := s.runGit(ctx, "git add "+target)
	if err != nil {
		return failure("git add failed: %v", err)
	}
	if res.ExitCode != 0 {
		return gitFailure("git add", res)
	}
	return success("changes staged")
}

func (s *Surface) gitCommit(ctx context.Context, args map[string]any) *ToolResult {
	message, ok := stringArg(args, "message")
	if !ok || message == "" {
		return failure("message is required")
	}
	cmd := fmt.Sprintf("git -c user.name=%s -c user.email=%s commit -m %s",
		shellQuote(s.opts.GitUserName), shellQuote(s.opts.GitUserEmail), shellQuote(message))
	res, err := s.runGit(ctx, cmd)
	if err != nil {
		return failure("git commit failed: %v", err)
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Stdout, "nothing to commit") {
			return failure("git commit failed: nothing to commit")
		}
		return gitFailure("git commit", res)
	}
	return &ToolResult{Success: true, Data: "committed", Stdout: res.Stdout}
}

func (s *Surface) gitBranch(ctx context.Context, args map[string]any) *ToolResult {
	name, ok := stringArg(args, "name")
	if !ok || name == "" {
		return failure("name is required")
	}

	// The branch we are leaving is the repository's default branch when
	// this runs right after clone; record it for the PR base.
	previous := ""
	if head, err := s.runGit(ctx, "git symbolic-ref --short HEAD"); err == nil && head.ExitCode == 0 {
		previous = strings.TrimSpace(head.Stdout)
	}

	res, err := s.runGit(ctx, "git checkout -b "+shellQuote(name))
	if err != nil {
		return failure("git branch failed: %v", err)
	}
	if res.ExitCode != 0 {
		return gitFailure("git branch", res)
	}
	return success(map[string]any{
		"branch":         name,
		"previousBranch": previous,
	})
}

func (s *Surface) gitPush(ctx context.Context, args map[string]any) *ToolResult {
	branch, ok := stringArg(args, "branch")
	if !ok || branch == "" {
		return failure("branch is required")
	}

	cmd, env := s.credentialed(fmt.Sprintf("push origin %s:refs/heads/%s",
		shellQuote(branch), branch))
	res, err := s.runGitEnv(ctx, cmd, env)
	if err != nil {
		return failure("git push failed: %v", err)
	}
	if res.ExitCode != 0 {
		return gitFailure("git push", res)
	}
	return success(fmt.Sprintf("pushed %s", branch))
}

func (s *Surface) gitDiff(ctx context.Context, args map[string]any) *ToolResult {
	cmd := "git diff HEAD"
	if base, ok := stringArg(args, "base"); ok && base != "" {
		cmd = "git diff " + shellQuote(base)
	}
	res, err := s.runGit(ctx, cmd)
	if err != nil {
		return failure("git diff failed: %v", err)
	}
	if res.ExitCode != 0 {
		return gitFailure("git diff", res)
	}
	return success(res.Stdout)
}

func (s *Surface) gitApplyPatch(ctx context.Context, args map[string]any) *ToolResult {
	patch, ok := stringArg(args, "patch")
	if !ok || patch == "" {
		return failure("patch is required")
	}
	// Feed the patch through a heredoc; the Exec contract has no stdin.
	cmd := "git apply --whitespace=nowarn - <<'AUTOPR_PATCH_EOF'\n" + patch + "\nAUTOPR_PATCH_EOF"
	res, err := s.runGit(ctx, cmd)
	if err != nil {
		return failure("git apply failed: %v", err)
	}
	if res.ExitCode != 0 {
		return gitFailure("git apply", res)
	}
	return success("patch applied")
}

func (s *Surface) gitRevert(ctx context.Context, args map[string]any) *ToolResult {
	res, err := s.runGit(ctx, "git checkout -- . && git clean -fd")
	if err != nil {
		return failure("git revert failed: %v", err)
	}
	if res.ExitCode != 0 {
		return gitFailure("git revert", res)
	}
	return success("working tree restored")
}

func (s *Surface) registerExecTool() {
	if !s.opts.AllowRawExec {
		return
	}
	s.register(ToolDefinition{
		Name:        "execute_command",
		Description: "Execute a raw shell command in the sandbox. Non-production only.",
		Parameters: objectSchema(map[string]any{
			"command":    prop("string", "The command to run."),
			"timeout_ms": prop("integer", "Override the default command timeout in milliseconds."),
		}, "command"),
	}, s.executeCommand)
}

func (s *Surface) executeCommand(ctx context.Context, args map[string]any) *ToolResult {
	command, ok := stringArg(args, "command")
	if !ok || command == "" {
		return failure("command is required")
	}
	timeout := s.opts.CommandTimeout
	if ms, ok := intArg(args, "timeout_ms"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	res, err := s.ws.Exec(ctx, command, timeout, nil)
	if err != nil {
		return failure("exec failed: %v", err)
	}
	return &ToolResult{
		Success: res.ExitCode == 0 && !res.TimedOut,
		Data:    map[string]any{"exit_code": res.ExitCode, "timed_out": res.TimedOut},
		Stdout:  s.redact(res.Stdout),
		Stderr:  s.redact(res.Stderr),
		Error: func() string {
			if res.TimedOut {
				return "command timed out"
			}
			if res.ExitCode != 0 {
				return fmt.Sprintf("exit code %d", res.ExitCode)
			}
			return ""
		}(),
	}
}
