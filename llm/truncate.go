package llm

import "fmt"

// Per-tool character limits for tool results fed back into the
// conversation. Oversized results get head/tail truncation so the model
// keeps both the opening context and the trailing error lines.
var toolResultLimits = map[string]int{
	"read_file":       30000,
	"list_files":      15000,
	"execute_command": 20000,
	"git_diff":        40000,
	"git_status":      8000,
}

const defaultToolResultLimit = 10000

// TruncateToolResult bounds a tool result before it re-enters the
// conversation. Content under the limit passes through unchanged.
func TruncateToolResult(toolName, content string) string {
	limit, ok := toolResultLimits[toolName]
	if !ok {
		limit = defaultToolResultLimit
	}
	return truncateMiddle(content, limit)
}

func truncateMiddle(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	head := limit * 2 / 3
	tail := limit - head
	omitted := len(s) - head - tail
	return s[:head] +
		fmt.Sprintf("\n... [%d characters truncated] ...\n", omitted) +
		s[len(s)-tail:]
}
