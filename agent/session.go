package agent

import (
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/autopr/sandbox"
)

// Request is the transport-boundary input for a run.
type Request struct {
	RepoURL string
	Prompt  string
	Verify  bool
}

// Session binds one run's sandbox, plan, and branch across a possibly
// paused lifetime.
type Session struct {
	ID            string
	RepoURL       string
	Request       string
	Verify        bool
	Sandbox       sandbox.Sandbox
	DefaultBranch string
	Plan          *Plan
	Branch        string
	ChangedFiles  []string
	CreatedAt     time.Time
}

// NewSession creates a Session for a run request with a fresh id.
func NewSession(req Request, sb sandbox.Sandbox) *Session {
	return &Session{
		ID:            "sess_" + uuid.New().String()[:12],
		RepoURL:       req.RepoURL,
		Request:       req.Prompt,
		Verify:        req.Verify,
		Sandbox:       sb,
		DefaultBranch: "main",
		CreatedAt:     time.Now(),
	}
}
