package driving

import "github.com/custodia-labs/lectern/internal/core/domain"

// SettingsService manages application settings.
type SettingsService interface {
	// Get retrieves current application settings.
	Get() (*domain.AppSettings, error)

	// Save validates and persists application settings.
	Save(settings *domain.AppSettings) error

	// SetValue parses and stores a single dotted key ("agent.max_turns").
	// The change is rejected when the resulting settings fail validation.
	SetValue(key, value string) error

	// Entries returns every settable key with its current value in display
	// order. Secrets are masked.
	Entries() ([]SettingEntry, error)

	// SetLLMProvider configures the LLM provider.
	SetLLMProvider(provider domain.AIProvider, model, apiKey string) error

	// SetTier changes the default tier.
	SetTier(tier domain.Tier) error

	// Validate checks the current settings.
	Validate() error

	// GetDefaults returns default settings.
	GetDefaults() domain.AppSettings

	// ValidateLLMConfig validates the current LLM configuration by pinging the provider.
	ValidateLLMConfig() error
}

// SettingEntry is one key of the flattened settings view.
type SettingEntry struct {
	Key   string
	Value any
}
