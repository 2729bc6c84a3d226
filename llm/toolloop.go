package llm

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolExecutor runs one tool invocation on behalf of the model and
// returns the content to feed back. Failures are reported via isError,
// never as a Go error, so the model can see them and self-correct.
type ToolExecutor func(ctx context.Context, name string, args json.RawMessage) (content string, isError bool)

// ToolCallRecord is one executed tool call in a loop transcript.
type ToolCallRecord struct {
	Round     int
	Name      string
	Arguments json.RawMessage
	Result    string
	IsError   bool
}

// ToolLoopOptions configures RunToolLoop.
type ToolLoopOptions struct {
	Client   *Client
	Provider string
	Model    string

	System string
	User   string
	Tools  []ToolDefinition

	Execute ToolExecutor

	// MaxRounds bounds the number of model calls. Zero means the
	// default of 8.
	MaxRounds int

	// TokenBudget caps cumulative usage across the loop. At 80% the
	// model is nudged to wrap up; past 100% the loop stops after the
	// current round. Budgets under lowBudgetTokens also halve the round
	// cap. Zero disables budgeting.
	TokenBudget int

	MaxTokens   int
	Temperature *float64

	// OnToolCall observes each executed call, for progress reporting.
	OnToolCall func(record ToolCallRecord)

	// Retry wraps each model call. Nil uses DefaultRetryPolicy.
	Retry *RetryPolicy
}

// ToolLoopResult is the outcome of a completed loop.
type ToolLoopResult struct {
	Text            string
	Calls           []ToolCallRecord
	Usage           Usage
	Rounds          int
	BudgetExhausted bool
}

const defaultMaxRounds = 8

// lowBudgetTokens is the budget below which the round cap is halved. A
// tight budget cannot sustain a full-length loop plus the wrap-up call.
const lowBudgetTokens = 20000

const budgetNudge = "Note: you are close to your token budget. Finish up now: make at most one more tool call if strictly necessary, then give your final answer."

// RunToolLoop drives a bounded multi-round tool-calling conversation.
// Each round sends the full transcript, executes any requested tool
// calls sequentially in order, and appends truncated results. The loop
// ends when the model answers without tool calls or a bound is hit.
func RunToolLoop(ctx context.Context, opts ToolLoopOptions) (*ToolLoopResult, error) {
	if opts.Client == nil {
		return nil, &ConfigError{clientError{message: "tool loop requires a client"}}
	}
	if opts.Execute == nil {
		return nil, &ConfigError{clientError{message: "tool loop requires a tool executor"}}
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	if opts.TokenBudget > 0 && opts.TokenBudget < lowBudgetTokens {
		maxRounds /= 2
		if maxRounds < 1 {
			maxRounds = 1
		}
	}
	policy := DefaultRetryPolicy()
	if opts.Retry != nil {
		policy = *opts.Retry
	}

	messages := []Message{UserMessage(opts.User)}
	if opts.System != "" {
		messages = append([]Message{SystemMessage(opts.System)}, messages...)
	}

	result := &ToolLoopResult{}
	nudged := false

	for round := 1; round <= maxRounds; round++ {
		result.Rounds = round

		req := Request{
			Provider:    opts.Provider,
			Model:       opts.Model,
			Messages:    messages,
			Tools:       opts.Tools,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		}

		resp, err := Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
			return opts.Client.Complete(ctx, req)
		})
		if err != nil {
			return nil, fmt.Errorf("tool loop round %d: %w", round, err)
		}
		result.Usage = result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Text
			return result, nil
		}

		messages = append(messages, AssistantMessage(resp.Text, resp.ToolCalls))

		for _, tc := range resp.ToolCalls {
			content, isError := opts.Execute(ctx, tc.Name, tc.Arguments)
			content = TruncateToolResult(tc.Name, content)

			record := ToolCallRecord{
				Round:     round,
				Name:      tc.Name,
				Arguments: tc.Arguments,
				Result:    content,
				IsError:   isError,
			}
			result.Calls = append(result.Calls, record)
			if opts.OnToolCall != nil {
				opts.OnToolCall(record)
			}

			messages = append(messages, ToolResultMessage(tc.ID, content, isError))
		}

		if opts.TokenBudget > 0 {
			used := result.Usage.TotalTokens
			if used >= opts.TokenBudget {
				result.BudgetExhausted = true
				break
			}
			if !nudged && used >= opts.TokenBudget*8/10 {
				messages = append(messages, UserMessage(budgetNudge))
				nudged = true
			}
		}
	}

	// Out of rounds or budget: one final call without tools to get a
	// closing answer from the transcript so far.
	messages = append(messages, UserMessage("Summarize what you accomplished and what remains. Do not call any more tools."))
	req := Request{
		Provider:  opts.Provider,
		Model:     opts.Model,
		Messages:  messages,
		MaxTokens: opts.MaxTokens,
	}
	resp, err := Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		return opts.Client.Complete(ctx, req)
	})
	if err != nil {
		// The work already done still counts; report it without text.
		return result, nil
	}
	result.Usage = result.Usage.Add(resp.Usage)
	result.Text = resp.Text
	return result, nil
}
