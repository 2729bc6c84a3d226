package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/martinemde/autopr/sandbox"
)

// FileDiff is one file's worth of a parsed diff.
type FileDiff struct {
	Path   string `json:"path"`
	Status string `json:"status"` // added, modified, deleted
	Hunk   string `json:"hunk"`
}

// CurrentDiff returns the raw working-tree diff for a sandbox, used by
// the verification diff viewer.
func CurrentDiff(ctx context.Context, sb sandbox.Sandbox) (string, error) {
	res, err := sb.CallTool(ctx, "git_diff", map[string]any{})
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("reading diff: %s", res.Error)
	}
	text, _ := res.Data.(string)
	if text == "" {
		text = res.Stdout
	}
	return text, nil
}

// ParseDiff splits unified diff text into per-file entries.
func ParseDiff(diff string) []FileDiff {
	var out []FileDiff
	var current *FileDiff
	var hunk strings.Builder

	flush := func() {
		if current != nil {
			current.Hunk = hunk.String()
			out = append(out, *current)
		}
		hunk.Reset()
	}

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flush()
			current = &FileDiff{Status: "modified"}
			current.Path = parseDiffHeader(strings.TrimPrefix(line, "diff --git "))
		case current == nil:
			continue
		case strings.HasPrefix(line, "new file mode"):
			current.Status = "added"
		case strings.HasPrefix(line, "deleted file mode"):
			current.Status = "deleted"
			// For deletions the b/ side is /dev/null; keep the a/ path.
		case strings.HasPrefix(line, "--- a/"):
			if current.Status == "deleted" {
				current.Path = strings.TrimPrefix(line, "--- a/")
			}
		default:
			hunk.WriteString(line)
			hunk.WriteString("\n")
		}
	}
	flush()
	return out
}

// parseDiffHeader extracts the b-side path from an "a/path b/path"
// header. The two sides are identical for non-rename diffs, so the
// header splits at its midpoint even when the path contains spaces;
// splitting on whitespace would truncate such paths.
func parseDiffHeader(header string) string {
	body, ok := strings.CutPrefix(header, "a/")
	if ok {
		if n := (len(body) - 3) / 2; n > 0 && n+3 <= len(body) && body[n:n+3] == " b/" {
			return body[n+3:]
		}
	}
	if idx := strings.Index(header, " b/"); idx >= 0 {
		return header[idx+3:]
	}
	return ""
}
