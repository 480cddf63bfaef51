// Package llm provides clients for the language-model backend.
//
// The backend is a black box reached through two narrow operations: a
// plain-text Ask and a streaming variant that emits content chunks as they
// arrive. Provider-specific clients (Gemini, OpenAI-compatible, Anthropic)
// all satisfy the same interfaces; callers never see provider details.
package llm

import "context"

// Client is the plain-text contract with the LLM backend.
type Client interface {
	// Ask sends a question and returns the full text response.
	Ask(ctx context.Context, question string) (string, error)

	// AskWithContext sends a question with additional context that the
	// backend treats as a system prompt.
	AskWithContext(ctx context.Context, question, contextInfo string) (string, error)
}

// StreamingClient is implemented by backends that can stream responses.
// Content chunks arrive on the first channel; a terminal error, if any, on
// the second. Both channels are closed when the stream ends.
type StreamingClient interface {
	Client

	// AskStreaming sends a question and streams the response incrementally.
	AskStreaming(ctx context.Context, question, contextInfo string) (<-chan string, <-chan error)
}

// Provider identifies an LLM backend implementation.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)
