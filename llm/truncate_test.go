package llm

import (
	"strings"
	"testing"
)

func TestTruncateToolResultPassthrough(t *testing.T) {
	content := "short content"
	if got := TruncateToolResult("read_file", content); got != content {
		t.Errorf("short content must pass through unchanged, got %q", got)
	}
}

func TestTruncateToolResultKeepsHeadAndTail(t *testing.T) {
	content := strings.Repeat("a", 5000) + "MIDDLE" + strings.Repeat("z", 5000)
	got := TruncateToolResult("git_status", content) // limit 8000

	if len(got) >= len(content) {
		t.Fatal("oversized content was not truncated")
	}
	if !strings.HasPrefix(got, "aaaa") {
		t.Error("head of content lost")
	}
	if !strings.HasSuffix(got, "zzzz") {
		t.Error("tail of content lost")
	}
	if !strings.Contains(got, "characters truncated") {
		t.Error("missing truncation marker")
	}
}

func TestTruncateToolResultUnknownToolUsesDefault(t *testing.T) {
	content := strings.Repeat("x", defaultToolResultLimit+1000)
	got := TruncateToolResult("mystery_tool", content)
	if len(got) >= len(content) {
		t.Error("unknown tools should still be bounded by the default limit")
	}
}

func TestTruncateToolResultPerToolLimits(t *testing.T) {
	content := strings.Repeat("x", 25000)
	read := TruncateToolResult("read_file", content) // limit 30000
	status := TruncateToolResult("git_status", content)

	if read != content {
		t.Error("read_file allows larger results")
	}
	if len(status) >= len(content) {
		t.Error("git_status should truncate at its smaller limit")
	}
}
