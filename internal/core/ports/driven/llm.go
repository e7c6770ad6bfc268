package driven

import "context"

// LLMService provides language model operations for document analysis and chat.
// The core depends only on "send prompt, receive text"; provider tuning is
// opaque configuration passed through the option structs.
//
// Implementations may include:
//   - OpenAI (GPT-4o, GPT-4o mini)
//   - Anthropic (Claude)
//   - Ollama (local models)
type LLMService interface {
	// Generate produces text completion from a prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// Chat conducts a multi-turn conversation.
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error)

	// ModelName returns the name of the LLM model being used.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight test request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// GenerateOptions configures text generation behaviour.
type GenerateOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic, 1.0 = creative).
	Temperature float64

	// TopP is the nucleus sampling threshold (0 = provider default).
	TopP float64

	// TopK limits sampling to the K most likely tokens (0 = provider default).
	TopK int

	// JSON asks providers that support it to constrain output to JSON.
	JSON bool

	// StopWords are sequences that stop generation when encountered.
	StopWords []string
}

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// ChatOptions configures chat behaviour.
type ChatOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic, 1.0 = creative).
	Temperature float64

	// TopP is the nucleus sampling threshold (0 = provider default).
	TopP float64

	// TopK limits sampling to the K most likely tokens (0 = provider default).
	TopK int

	// JSON asks providers that support it to constrain output to JSON.
	JSON bool
}
