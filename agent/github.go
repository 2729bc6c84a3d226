package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/martinemde/autopr/llm"
)

// Repository is the GitHub metadata the orchestrator needs.
type Repository struct {
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
}

// PullRequest is a created pull request.
type PullRequest struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
}

// GitHubClient is the remote-host boundary. Implementations must report
// success or failure per call; the orchestrator never inspects transport
// details.
type GitHubClient interface {
	GetRepository(ctx context.Context, owner, repo string) (*Repository, error)
	CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*PullRequest, error)
}

// GHCLIClient implements GitHubClient through the gh CLI, which carries
// its own credential handling.
type GHCLIClient struct{}

// NewGitHubClient returns a GHCLIClient.
func NewGitHubClient() *GHCLIClient {
	return &GHCLIClient{}
}

func ghCmd(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "gh", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *GHCLIClient) GetRepository(ctx context.Context, owner, repo string) (*Repository, error) {
	out, err := ghCmd(ctx, "repo", "view",
		fmt.Sprintf("%s/%s", owner, repo),
		"--json", "name,owner,defaultBranchRef,isPrivate",
	)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Name  string `json:"name"`
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
		DefaultBranchRef struct {
			Name string `json:"name"`
		} `json:"defaultBranchRef"`
		IsPrivate bool `json:"isPrivate"`
	}
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parse repo info: %w", err)
	}
	return &Repository{
		Owner:         raw.Owner.Login,
		Name:          raw.Name,
		DefaultBranch: raw.DefaultBranchRef.Name,
		Private:       raw.IsPrivate,
	}, nil
}

func (c *GHCLIClient) CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*PullRequest, error) {
	out, err := ghCmd(ctx, "pr", "create",
		"--repo", fmt.Sprintf("%s/%s", owner, repo),
		"--title", title,
		"--body", body,
		"--head", head,
		"--base", base,
	)
	if err != nil {
		return nil, err
	}

	// gh prints the PR URL on success.
	prURL := out
	if idx := strings.LastIndex(out, "https://"); idx >= 0 {
		prURL = strings.TrimSpace(out[idx:])
	}
	number := 0
	if idx := strings.LastIndex(prURL, "/"); idx >= 0 {
		fmt.Sscanf(prURL[idx+1:], "%d", &number)
	}
	return &PullRequest{URL: prURL, Number: number}, nil
}

// ParseRepoURL extracts owner and repo from an HTTPS GitHub URL.
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", fmt.Errorf("parsing repository URL: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository URL %q does not look like host/owner/repo", repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

const prSystemPrompt = `You write pull request descriptions. Return ONLY a JSON object with "title" (one line, conventional commit style) and "body" (markdown, a short summary plus a bullet list of changes). No fencing.`

// GeneratePRDetails asks the model for a PR title and body, with a
// templated fallback when generation fails.
func GeneratePRDetails(ctx context.Context, client *llm.Client, provider, model, request, summary string, files []string) (title, body string) {
	title, body = fallbackPRDetails(request, files)
	if client == nil {
		return title, body
	}

	prompt := fmt.Sprintf("Task: %s\n\nWhat was done: %s\n\nFiles changed: %s",
		request, summary, strings.Join(files, ", "))
	text, err := llm.Generate(ctx, client, prompt, llm.GenerateOptions{
		Provider:  provider,
		Model:     model,
		System:    prSystemPrompt,
		MaxTokens: 1024,
	})
	if err != nil {
		return title, body
	}

	var parsed struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &parsed); err != nil {
		return title, body
	}
	if parsed.Title != "" {
		title = parsed.Title
	}
	if parsed.Body != "" {
		body = parsed.Body
	}
	return title, body
}

func fallbackPRDetails(request string, files []string) (string, string) {
	title := request
	if len(title) > 70 {
		title = title[:67] + "..."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Automated change for the request:\n\n> %s\n\n", request)
	if len(files) > 0 {
		b.WriteString("Files changed:\n")
		for _, f := range files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
	}
	return title, b.String()
}
