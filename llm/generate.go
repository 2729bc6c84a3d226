package llm

import (
	"context"
	"strings"
)

// GenerateOptions configures a single-shot generation.
type GenerateOptions struct {
	Provider    string
	Model       string
	System      string
	MaxTokens   int
	Temperature *float64
	Retry       *RetryPolicy
}

// Generate performs a single-shot completion with no tools.
func Generate(ctx context.Context, client *Client, prompt string, opts GenerateOptions) (string, error) {
	policy := DefaultRetryPolicy()
	if opts.Retry != nil {
		policy = *opts.Retry
	}

	messages := []Message{UserMessage(prompt)}
	if opts.System != "" {
		messages = append([]Message{SystemMessage(opts.System)}, messages...)
	}

	resp, err := Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		return client.Complete(ctx, Request{
			Provider:    opts.Provider,
			Model:       opts.Model,
			Messages:    messages,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		})
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// GenerateCode asks for the full contents of a single file and cleans
// the output so it can be written verbatim.
func GenerateCode(ctx context.Context, client *Client, prompt string, opts GenerateOptions) (string, error) {
	if opts.System == "" {
		opts.System = "You are an expert software engineer. Output ONLY the complete file contents. No markdown fences, no commentary, no explanation before or after the code."
	}
	text, err := Generate(ctx, client, prompt, opts)
	if err != nil {
		return "", err
	}
	return CleanGeneratedCode(text), nil
}

// CleanGeneratedCode strips markdown fences and leading prose from raw
// model output, leaving file contents suitable for writing to disk.
func CleanGeneratedCode(text string) string {
	text = strings.TrimSpace(text)

	// Extract the first fenced block if the whole answer is fenced or
	// prose-then-fence.
	if idx := strings.Index(text, "```"); idx != -1 {
		rest := text[idx+3:]
		// Drop the language tag line.
		if nl := strings.Index(rest, "\n"); nl != -1 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end != -1 {
			rest = rest[:end]
		}
		candidate := strings.TrimRight(rest, "\n") + "\n"
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}

	// No fences: strip leading prose lines until something that looks
	// like code.
	lines := strings.Split(text, "\n")
	start := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if looksLikeProse(trimmed) {
			start = i + 1
			continue
		}
		start = i
		break
	}
	if start >= len(lines) {
		return text + "\n"
	}
	out := strings.Join(lines[start:], "\n")
	return strings.TrimRight(out, "\n") + "\n"
}

func looksLikeProse(line string) bool {
	lower := strings.ToLower(line)
	for _, prefix := range []string{
		"here is", "here's", "sure,", "certainly", "below is",
		"this file", "the following", "i've", "i have",
	} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
