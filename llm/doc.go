// Package llm wraps the chat-completion protocol behind a provider-agnostic
// client and implements the bounded tool-calling loop the agent drives its
// work through.
//
// Provider adapters implement the Provider interface; GollmProvider wraps
// the gollm library for OpenAI-compatible providers and AnthropicProvider
// talks to the Anthropic API natively. The Client routes requests by
// provider name with a default-provider fallback.
//
// RunToolLoop runs a bounded multi-round conversation in which the model
// may request zero or more tool invocations per round before producing a
// final textual answer. Individual tool failures are reported back to the
// model as error content so it can self-correct; only transport-level
// failures propagate to the caller. Generate and GenerateCode provide the
// non-tool single-shot mode, with a heuristic cleanup pass that makes raw
// model output safe to write verbatim to a file.
package llm
