package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmProvider adapts the gollm library to the Provider interface. It
// serves any provider gollm speaks (openai, anthropic, groq, ollama and
// friends) behind a single code path.
type GollmProvider struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmOption configures a GollmProvider.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithGollmModel sets the default model.
func WithGollmModel(model string) GollmOption {
	return func(c *gollmConfig) { c.model = model }
}

// WithGollmMaxTokens sets the default max tokens.
func WithGollmMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithGollmTemperature sets the default temperature.
func WithGollmTemperature(t float64) GollmOption {
	return func(c *gollmConfig) { c.temperature = t }
}

// WithGollmOptions appends raw gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmProvider creates an adapter for the named provider. An empty
// apiKey defers to gollm's environment variable lookup.
func NewGollmProvider(provider, apiKey string, opts ...GollmOption) (*GollmProvider, error) {
	cfg := &gollmConfig{
		maxTokens:   4096,
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		switch provider {
		case "anthropic":
			model = "claude-sonnet-4-5-20250929"
		default:
			model = "gpt-4o-mini"
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries are handled by Retry
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	inner, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, &ConfigError{clientError{message: "creating gollm client for " + provider, cause: err}}
	}

	return &GollmProvider{provider: provider, llm: inner, model: model}, nil
}

// Name returns the provider identifier.
func (p *GollmProvider) Name() string { return p.provider }

// Complete sends a blocking request and returns the full response.
func (p *GollmProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := p.translateRequest(req)

	if req.Model != "" {
		p.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		p.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens > 0 {
		p.llm.SetOption("max_tokens", req.MaxTokens)
	}

	text, err := p.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, classifyProviderError(p.provider, err)
	}

	return p.buildResponse(req, text), nil
}

// translateRequest flattens the conversation into gollm's single-prompt
// shape. gollm has no native multi-turn tool protocol, so assistant and
// tool turns are inlined as labeled context.
func (p *GollmProvider) translateRequest(req Request) *gollm.Prompt {
	var systemPrompt string
	var userParts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.Content + "\n"
		case RoleUser:
			userParts = append(userParts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				userParts = append(userParts, "[Assistant]: "+msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				userParts = append(userParts, "[Assistant called "+tc.Name+"]: "+string(tc.Arguments))
			}
		case RoleTool:
			prefix := "[Tool Result]"
			if msg.IsError {
				prefix = "[Tool Error]"
			}
			userParts = append(userParts, prefix+": "+msg.Content)
		}
	}

	promptText := strings.Join(userParts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	promptOpts := []gollm.PromptOption{}
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens > 0 {
		promptOpts = append(promptOpts, gollm.WithMaxLength(req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
		promptOpts = append(promptOpts, gollm.WithToolChoice("auto"))
	}

	return gollm.NewPrompt(promptText, promptOpts...)
}

func (p *GollmProvider) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = p.model
	}

	toolCalls := parseEmbeddedToolCalls(text)
	cleaned := text
	if len(toolCalls) > 0 {
		cleaned = stripToolCallJSON(text)
	}

	stop := "stop"
	if len(toolCalls) > 0 {
		stop = "tool_calls"
	}

	in := EstimateMessagesTokens(req.Messages)
	out := EstimateTokens(text)

	return &Response{
		ID:         "resp_" + uuid.New().String()[:8],
		Model:      model,
		Provider:   p.provider,
		Text:       cleaned,
		ToolCalls:  toolCalls,
		StopReason: stop,
		// gollm does not surface provider usage, so estimate.
		Usage: Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
	}
}

// parseEmbeddedToolCalls extracts tool calls that gollm providers embed
// as JSON in the response text.
func parseEmbeddedToolCalls(text string) []ToolCall {
	start := strings.Index(text, `{"tool_calls"`)
	if start >= 0 {
		var wrapper struct {
			ToolCalls []struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"tool_calls"`
		}
		if err := json.Unmarshal([]byte(text[start:]), &wrapper); err == nil {
			return buildToolCalls(len(wrapper.ToolCalls), func(i int) (string, json.RawMessage) {
				return wrapper.ToolCalls[i].Name, wrapper.ToolCalls[i].Arguments
			})
		}
		return nil
	}

	start = strings.Index(text, `[{"name"`)
	if start < 0 {
		return nil
	}
	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err != nil {
		return nil
	}
	return buildToolCalls(len(rawCalls), func(i int) (string, json.RawMessage) {
		return rawCalls[i].Name, rawCalls[i].Arguments
	})
}

func buildToolCalls(n int, at func(i int) (string, json.RawMessage)) []ToolCall {
	calls := make([]ToolCall, 0, n)
	for i := 0; i < n; i++ {
		name, args := at(i)
		if name == "" {
			continue
		}
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		calls = append(calls, ToolCall{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      name,
			Arguments: args,
		})
	}
	return calls
}

func stripToolCallJSON(text string) string {
	result := text
	for _, pattern := range []string{`{"tool_calls"`, `[{"name"`} {
		if idx := strings.Index(result, pattern); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}
