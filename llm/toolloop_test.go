package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
)

// scriptedProvider returns canned responses in order and records the
// requests it saw.
type scriptedProvider struct {
	name      string
	responses []*Response
	errs      []error
	requests  []Request
}

func (p *scriptedProvider) Name() string {
	if p.name == "" {
		return "scripted"
	}
	return p.name
}

func (p *scriptedProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	i := len(p.requests)
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.responses) {
		return &Response{Text: "done", StopReason: "stop"}, nil
	}
	return p.responses[i], nil
}

func toolCallResponse(calls ...ToolCall) *Response {
	return &Response{
		ToolCalls:  calls,
		StopReason: "tool_calls",
		Usage:      Usage{InputTokens: 10, OutputTokens: 10, TotalTokens: 20},
	}
}

func textResponse(text string) *Response {
	return &Response{
		Text:       text,
		StopReason: "stop",
		Usage:      Usage{InputTokens: 10, OutputTokens: 10, TotalTokens: 20},
	}
}

func noRetry() *RetryPolicy {
	p := RetryPolicy{MaxRetries: 0}
	return &p
}

func TestToolLoopExecutesCallsThenReturnsText(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*Response{
			toolCallResponse(
				ToolCall{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.txt"}`)},
				ToolCall{ID: "c2", Name: "list_files", Arguments: json.RawMessage(`{}`)},
			),
			textResponse("all done"),
		},
	}
	client := NewClient(WithProvider(provider))

	var executed []string
	result, err := RunToolLoop(context.Background(), ToolLoopOptions{
		Client: client,
		User:   "do the thing",
		Execute: func(ctx context.Context, name string, args json.RawMessage) (string, bool) {
			executed = append(executed, name)
			return "content of " + name, false
		},
		Retry: noRetry(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Text != "all done" {
		t.Errorf("expected final text, got %q", result.Text)
	}
	if len(executed) != 2 || executed[0] != "read_file" || executed[1] != "list_files" {
		t.Errorf("tools executed out of order: %v", executed)
	}
	if len(result.Calls) != 2 {
		t.Fatalf("expected 2 call records, got %d", len(result.Calls))
	}
	if result.Calls[0].Round != 1 || result.Calls[1].Round != 1 {
		t.Error("call records should carry the round index")
	}
	if result.Rounds != 2 {
		t.Errorf("expected 2 rounds, got %d", result.Rounds)
	}
	if result.Usage.TotalTokens != 40 {
		t.Errorf("usage should accumulate across rounds, got %d", result.Usage.TotalTokens)
	}
}

func TestToolLoopFeedsErrorsBackToModel(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*Response{
			toolCallResponse(ToolCall{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"missing"}`)}),
			textResponse("recovered"),
		},
	}
	client := NewClient(WithProvider(provider))

	result, err := RunToolLoop(context.Background(), ToolLoopOptions{
		Client: client,
		User:   "go",
		Execute: func(ctx context.Context, name string, args json.RawMessage) (string, bool) {
			return "file not found", true
		},
		Retry: noRetry(),
	})
	if err != nil {
		t.Fatalf("tool failure must not propagate: %v", err)
	}
	if result.Text != "recovered" {
		t.Errorf("expected the model to keep going, got %q", result.Text)
	}
	if !result.Calls[0].IsError {
		t.Error("call record should be flagged as an error")
	}

	// The second request must contain the error as a tool turn.
	second := provider.requests[1]
	found := false
	for _, m := range second.Messages {
		if m.Role == RoleTool && m.IsError && m.Content == "file not found" {
			found = true
		}
	}
	if !found {
		t.Error("error content was not fed back as a tool message")
	}
}

func TestToolLoopStopsAtMaxRounds(t *testing.T) {
	// Every round requests another tool call; the loop must stop and
	// ask for a wrap-up.
	var responses []*Response
	for i := 0; i < 10; i++ {
		responses = append(responses, toolCallResponse(
			ToolCall{ID: fmt.Sprintf("c%d", i), Name: "list_files", Arguments: json.RawMessage(`{}`)},
		))
	}
	provider := &scriptedProvider{responses: responses}
	client := NewClient(WithProvider(provider))

	result, err := RunToolLoop(context.Background(), ToolLoopOptions{
		Client:    client,
		User:      "loop forever",
		MaxRounds: 3,
		Execute: func(ctx context.Context, name string, args json.RawMessage) (string, bool) {
			return "ok", false
		},
		Retry: noRetry(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Rounds != 3 {
		t.Errorf("expected 3 rounds, got %d", result.Rounds)
	}
	if len(result.Calls) != 3 {
		t.Errorf("expected 3 calls, got %d", len(result.Calls))
	}
	// The wrap-up call is made without tools.
	last := provider.requests[len(provider.requests)-1]
	if len(last.Tools) != 0 {
		t.Error("final wrap-up request should not offer tools")
	}
}

func TestToolLoopTokenBudgetHardStop(t *testing.T) {
	var responses []*Response
	for i := 0; i < 10; i++ {
		responses = append(responses, toolCallResponse(
			ToolCall{ID: fmt.Sprintf("c%d", i), Name: "list_files", Arguments: json.RawMessage(`{}`)},
		))
	}
	provider := &scriptedProvider{responses: responses}
	client := NewClient(WithProvider(provider))

	result, err := RunToolLoop(context.Background(), ToolLoopOptions{
		Client:      client,
		User:        "go",
		TokenBudget: 50, // 20 tokens per round: stops during round 3
		Execute: func(ctx context.Context, name string, args json.RawMessage) (string, bool) {
			return "ok", false
		},
		Retry: noRetry(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.BudgetExhausted {
		t.Error("expected budget exhaustion to be reported")
	}
	if result.Rounds != 3 {
		t.Errorf("expected hard stop in round 3, got %d", result.Rounds)
	}
}

func TestToolLoopBudgetNudge(t *testing.T) {
	provider := &scriptedProvider{
		responses: []*Response{
			toolCallResponse(ToolCall{ID: "c1", Name: "list_files", Arguments: json.RawMessage(`{}`)}),
			textResponse("wrapping up"),
		},
	}
	client := NewClient(WithProvider(provider))

	_, err := RunToolLoop(context.Background(), ToolLoopOptions{
		Client:      client,
		User:        "go",
		TokenBudget: 25, // one round (20 tokens) crosses the 80% line
		Execute: func(ctx context.Context, name string, args json.RawMessage) (string, bool) {
			return "ok", false
		},
		Retry: noRetry(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := provider.requests[1]
	found := false
	for _, m := range second.Messages {
		if m.Role == RoleUser && m.Content == budgetNudge {
			found = true
		}
	}
	if !found {
		t.Error("expected a wrap-up nudge after crossing 80% of the budget")
	}
}

func TestToolLoopLowBudgetHalvesRoundCap(t *testing.T) {
	// Responses cheap enough that the budget itself never trips; only
	// the reduced round cap can stop the loop.
	var responses []*Response
	for i := 0; i < 10; i++ {
		responses = append(responses, &Response{
			ToolCalls:  []ToolCall{{ID: fmt.Sprintf("c%d", i), Name: "list_files", Arguments: json.RawMessage(`{}`)}},
			StopReason: "tool_calls",
			Usage:      Usage{TotalTokens: 1},
		})
	}
	provider := &scriptedProvider{responses: responses}
	client := NewClient(WithProvider(provider))

	result, err := RunToolLoop(context.Background(), ToolLoopOptions{
		Client:      client,
		User:        "go",
		MaxRounds:   6,
		TokenBudget: 1000, // well under lowBudgetTokens
		Execute: func(ctx context.Context, name string, args json.RawMessage) (string, bool) {
			return "ok", false
		},
		Retry: noRetry(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Rounds != 3 {
		t.Errorf("a low budget should halve the round cap: got %d rounds", result.Rounds)
	}
	if result.BudgetExhausted {
		t.Error("the budget itself was never exhausted")
	}
}

func TestToolLoopTransportErrorPropagates(t *testing.T) {
	provider := &scriptedProvider{
		errs: []error{&AuthError{ProviderError{clientError: clientError{message: "bad key"}, StatusCode: 401}}},
	}
	client := NewClient(WithProvider(provider))

	_, err := RunToolLoop(context.Background(), ToolLoopOptions{
		Client: client,
		User:   "go",
		Execute: func(ctx context.Context, name string, args json.RawMessage) (string, bool) {
			return "", false
		},
		Retry: noRetry(),
	})
	if err == nil {
		t.Fatal("transport-level failures must propagate to the caller")
	}
}
