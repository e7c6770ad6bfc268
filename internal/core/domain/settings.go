package domain

import "time"

const unknownDescription = "Unknown"

// AIProvider identifies an LLM service provider.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOllama is local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is OpenAI cloud API.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderAnthropic is Anthropic cloud API.
	AIProviderAnthropic AIProvider = "anthropic"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI, AIProviderAnthropic:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI || p == AIProviderAnthropic
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	case AIProviderAnthropic:
		return "Anthropic (cloud)"
	default:
		return unknownDescription
	}
}

// LLMSettings holds LLM provider configuration.
type LLMSettings struct {
	// Provider is the LLM service provider. Empty means unconfigured.
	Provider AIProvider `validate:"omitempty,ai_provider"`

	// Model is the fast primary model.
	Model string

	// FallbackModel is tried when the primary call fails.
	// Empty disables the fallback path.
	FallbackModel string

	// BaseURL is the API endpoint (for Ollama or compatible APIs).
	BaseURL string

	// APIKey is the API key (for OpenAI/Anthropic).
	APIKey string

	// Timeout bounds a single provider call.
	Timeout time.Duration `validate:"gte=0"`
}

// IsConfigured returns true if the LLM provider is set up.
func (l LLMSettings) IsConfigured() bool {
	if !l.Provider.IsValid() {
		return false
	}
	if l.Provider.RequiresAPIKey() && l.APIKey == "" {
		return false
	}
	return true
}

// GenerationSettings are the sampling parameters forwarded to providers.
// Providers ignore the parameters they do not support.
type GenerationSettings struct {
	Temperature float64 `validate:"gte=0,lte=2"`
	TopP        float64 `validate:"gte=0,lte=1"`
	TopK        int     `validate:"gte=0"`
	MaxTokens   int     `validate:"gte=0"`
}

// PipelineSettings configures chunking and the batch pipeline.
type PipelineSettings struct {
	// BatchSize is the number of chunks sent in one prompt.
	BatchSize int `validate:"gte=1,lte=10"`

	// FallbackChunkSize bounds every chunk's length in characters.
	FallbackChunkSize int `validate:"gte=200"`

	// SummaryMaxLength bounds the refined aggregate summary.
	SummaryMaxLength int `validate:"gte=100"`
}

// AgentSettings bounds the conversational agent.
type AgentSettings struct {
	MaxTurns      int `validate:"gte=1"`
	MaxAPICalls   int `validate:"gte=0"`
	SearchResults int `validate:"gte=1"`
	HistoryLimit  int `validate:"gte=1"`
}

// CacheSettings configures the best-effort eviction of the context and search caches.
// Zero values mean unbounded and never expiring.
type CacheSettings struct {
	TTL        time.Duration `validate:"gte=0"`
	MaxEntries int           `validate:"gte=0"`
}

// AppSettings holds all application settings.
type AppSettings struct {
	// UserID is the local user the CLI acts as.
	UserID string `validate:"required"`

	// Tier is the default service level for analysis runs.
	Tier Tier `validate:"required,tier"`

	LLM        LLMSettings
	Generation GenerationSettings
	Tiers      map[Tier]TierLimits `validate:"dive"`
	Pipeline   PipelineSettings
	Agent      AgentSettings
	Cache      CacheSettings
}

// DefaultAppSettings returns settings with sensible defaults.
// The LLM is left unconfigured; users must set a provider first.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		UserID: "local",
		Tier:   TierFree,
		LLM: LLMSettings{
			Timeout: 120 * time.Second,
		},
		Generation: GenerationSettings{
			Temperature: 0.3,
			TopP:        0.8,
			TopK:        40,
			MaxTokens:   2048,
		},
		Tiers: DefaultTierLimits(),
		Pipeline: PipelineSettings{
			BatchSize:         3,
			FallbackChunkSize: 4000,
			SummaryMaxLength:  1200,
		},
		Agent: AgentSettings{
			MaxTurns:      5,
			MaxAPICalls:   3,
			SearchResults: 5,
			HistoryLimit:  10,
		},
		Cache: CacheSettings{},
	}
}

// AllLLMProviders returns providers that support LLM operations.
func AllLLMProviders() []AIProvider {
	return []AIProvider{
		AIProviderOllama,
		AIProviderOpenAI,
		AIProviderAnthropic,
	}
}

// DefaultLLMModels returns default fast models for each LLM provider.
func DefaultLLMModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:    "llama3.2",
		AIProviderOpenAI:    "gpt-4o-mini",
		AIProviderAnthropic: "claude-3-5-haiku-latest",
	}
}

// DefaultFallbackModels returns default fallback models for each LLM provider.
func DefaultFallbackModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:    "llama3.1",
		AIProviderOpenAI:    "gpt-4o",
		AIProviderAnthropic: "claude-3-5-sonnet-latest",
	}
}
