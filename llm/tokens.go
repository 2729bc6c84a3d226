package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	encoder *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of text. It uses the
// cl100k_base encoding when available and falls back to a chars/4
// heuristic if the encoding cannot be loaded.
func EstimateTokens(text string) int {
	encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// EstimateMessagesTokens approximates the token count of a conversation,
// including a small per-message overhead for role framing.
func EstimateMessagesTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content) + 4
		for _, tc := range m.ToolCalls {
			total += EstimateTokens(tc.Name) + EstimateTokens(string(tc.Arguments))
		}
	}
	return total
}
