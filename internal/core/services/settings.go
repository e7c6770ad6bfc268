package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
	"github.com/custodia-labs/lectern/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyUserID        = "user.id"
	keyUserTier      = "user.tier"
	keyLLMProvider   = "llm.provider"
	keyLLMModel      = "llm.model"
	keyLLMFallback   = "llm.fallback_model"
	keyLLMBaseURL    = "llm.base_url"
	keyLLMAPIKey     = "llm.api_key"
	keyLLMTimeout    = "llm.timeout_seconds"
	keyTemperature   = "generation.temperature"
	keyTopP          = "generation.top_p"
	keyTopK          = "generation.top_k"
	keyMaxTokens     = "generation.max_tokens"
	keyBatchSize     = "pipeline.batch_size"
	keyFallbackSize  = "pipeline.fallback_chunk_size"
	keySummaryLength = "pipeline.summary_max_length"
	keyMaxTurns      = "agent.max_turns"
	keyMaxAPICalls   = "agent.max_api_calls"
	keySearchResults = "agent.search_results"
	keyHistoryLimit  = "agent.history_limit"
	keyCacheTTL      = "cache.ttl_seconds"
	keyCacheEntries  = "cache.max_entries"
)

const defaultOllamaURL = "http://localhost:11434"

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindFloat
)

// settingField binds one config key to a field of domain.AppSettings.
// write receives a string, int or float64 according to kind.
type settingField struct {
	key    string
	kind   valueKind
	secret bool
	read   func(a *domain.AppSettings) any
	write  func(a *domain.AppSettings, v any)
}

// settingFields lists every persisted key in display order.
func settingFields() []settingField {
	fields := []settingField{
		stringField(keyUserID, func(a *domain.AppSettings) *string { return &a.UserID }),
		{
			key: keyUserTier, kind: kindString,
			read:  func(a *domain.AppSettings) any { return a.Tier.String() },
			write: func(a *domain.AppSettings, v any) { a.Tier = domain.Tier(v.(string)) },
		},
		{
			key: keyLLMProvider, kind: kindString,
			read:  func(a *domain.AppSettings) any { return a.LLM.Provider.String() },
			write: func(a *domain.AppSettings, v any) { a.LLM.Provider = domain.AIProvider(v.(string)) },
		},
		stringField(keyLLMModel, func(a *domain.AppSettings) *string { return &a.LLM.Model }),
		stringField(keyLLMFallback, func(a *domain.AppSettings) *string { return &a.LLM.FallbackModel }),
		stringField(keyLLMBaseURL, func(a *domain.AppSettings) *string { return &a.LLM.BaseURL }),
		{
			key: keyLLMAPIKey, kind: kindString, secret: true,
			read:  func(a *domain.AppSettings) any { return a.LLM.APIKey },
			write: func(a *domain.AppSettings, v any) { a.LLM.APIKey = v.(string) },
		},
		durationField(keyLLMTimeout, time.Second, func(a *domain.AppSettings) *time.Duration { return &a.LLM.Timeout }),
		floatField(keyTemperature, func(a *domain.AppSettings) *float64 { return &a.Generation.Temperature }),
		floatField(keyTopP, func(a *domain.AppSettings) *float64 { return &a.Generation.TopP }),
		intField(keyTopK, func(a *domain.AppSettings) *int { return &a.Generation.TopK }),
		intField(keyMaxTokens, func(a *domain.AppSettings) *int { return &a.Generation.MaxTokens }),
	}

	for _, tier := range domain.AllTiers() {
		fields = append(fields, tierFields(tier)...)
	}

	return append(fields,
		intField(keyBatchSize, func(a *domain.AppSettings) *int { return &a.Pipeline.BatchSize }),
		intField(keyFallbackSize, func(a *domain.AppSettings) *int { return &a.Pipeline.FallbackChunkSize }),
		intField(keySummaryLength, func(a *domain.AppSettings) *int { return &a.Pipeline.SummaryMaxLength }),
		intField(keyMaxTurns, func(a *domain.AppSettings) *int { return &a.Agent.MaxTurns }),
		intField(keyMaxAPICalls, func(a *domain.AppSettings) *int { return &a.Agent.MaxAPICalls }),
		intField(keySearchResults, func(a *domain.AppSettings) *int { return &a.Agent.SearchResults }),
		intField(keyHistoryLimit, func(a *domain.AppSettings) *int { return &a.Agent.HistoryLimit }),
		durationField(keyCacheTTL, time.Second, func(a *domain.AppSettings) *time.Duration { return &a.Cache.TTL }),
		intField(keyCacheEntries, func(a *domain.AppSettings) *int { return &a.Cache.MaxEntries }),
	)
}

// tierFields maps tiers.<tier>.requests|per_minutes|delay_ms.
func tierFields(tier domain.Tier) []settingField {
	prefix := "tiers." + tier.String() + "."
	update := func(a *domain.AppSettings, fn func(l *domain.TierLimits)) {
		if a.Tiers == nil {
			a.Tiers = domain.DefaultTierLimits()
		}
		l := a.Tiers[tier]
		fn(&l)
		a.Tiers[tier] = l
	}

	return []settingField{
		{
			key: prefix + "requests", kind: kindInt,
			read: func(a *domain.AppSettings) any { return a.Tiers[tier].Requests },
			write: func(a *domain.AppSettings, v any) {
				update(a, func(l *domain.TierLimits) { l.Requests = v.(int) })
			},
		},
		{
			key: prefix + "per_minutes", kind: kindInt,
			read: func(a *domain.AppSettings) any { return a.Tiers[tier].PerMinutes },
			write: func(a *domain.AppSettings, v any) {
				update(a, func(l *domain.TierLimits) { l.PerMinutes = v.(int) })
			},
		},
		{
			key: prefix + "delay_ms", kind: kindInt,
			read: func(a *domain.AppSettings) any { return int(a.Tiers[tier].DelayBetweenChunks / time.Millisecond) },
			write: func(a *domain.AppSettings, v any) {
				update(a, func(l *domain.TierLimits) { l.DelayBetweenChunks = time.Duration(v.(int)) * time.Millisecond })
			},
		},
	}
}

func stringField(key string, ptr func(a *domain.AppSettings) *string) settingField {
	return settingField{
		key: key, kind: kindString,
		read:  func(a *domain.AppSettings) any { return *ptr(a) },
		write: func(a *domain.AppSettings, v any) { *ptr(a) = v.(string) },
	}
}

func intField(key string, ptr func(a *domain.AppSettings) *int) settingField {
	return settingField{
		key: key, kind: kindInt,
		read:  func(a *domain.AppSettings) any { return *ptr(a) },
		write: func(a *domain.AppSettings, v any) { *ptr(a) = v.(int) },
	}
}

func floatField(key string, ptr func(a *domain.AppSettings) *float64) settingField {
	return settingField{
		key: key, kind: kindFloat,
		read:  func(a *domain.AppSettings) any { return *ptr(a) },
		write: func(a *domain.AppSettings, v any) { *ptr(a) = v.(float64) },
	}
}

// durationField stores a duration as a whole number of units.
func durationField(key string, unit time.Duration, ptr func(a *domain.AppSettings) *time.Duration) settingField {
	return settingField{
		key: key, kind: kindInt,
		read:  func(a *domain.AppSettings) any { return int(*ptr(a) / unit) },
		write: func(a *domain.AppSettings, v any) { *ptr(a) = time.Duration(v.(int)) * unit },
	}
}

// newSettingsValidator registers the enum checks used by the domain tags.
func newSettingsValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("tier", func(fl validator.FieldLevel) bool {
		return domain.Tier(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("ai_provider", func(fl validator.FieldLevel) bool {
		return domain.AIProvider(fl.Field().String()).IsValid()
	})
	return v
}

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
	aiValidator driven.AIConfigValidator
	validate    *validator.Validate
	fields      []settingField
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore, aiValidator driven.AIConfigValidator) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		aiValidator: aiValidator,
		validate:    newSettingsValidator(),
		fields:      settingFields(),
	}
}

// Get retrieves current application settings. Keys missing from the config
// keep their defaults; unrecognised tier or provider names fall back too.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	defaults := domain.DefaultAppSettings()
	settings := domain.DefaultAppSettings()

	for _, f := range s.fields {
		if _, exists := s.configStore.Get(f.key); !exists {
			continue
		}
		switch f.kind {
		case kindString:
			f.write(&settings, s.configStore.GetString(f.key))
		case kindInt:
			f.write(&settings, s.configStore.GetInt(f.key))
		case kindFloat:
			f.write(&settings, s.configStore.GetFloat(f.key))
		}
	}

	if !settings.Tier.IsValid() {
		settings.Tier = defaults.Tier
	}
	if settings.LLM.Provider != "" && !settings.LLM.Provider.IsValid() {
		settings.LLM.Provider = defaults.LLM.Provider
	}

	return &settings, nil
}

// Save validates and persists application settings.
// An empty API key leaves the stored key untouched.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	if err := s.check(settings); err != nil {
		return err
	}

	for _, f := range s.fields {
		value := f.read(settings)
		if f.secret && value == "" {
			continue
		}
		if err := s.configStore.Set(f.key, value); err != nil {
			return fmt.Errorf("save %s: %w", f.key, err)
		}
	}
	return nil
}

// SetValue parses and stores a single key.
func (s *SettingsService) SetValue(key, value string) error {
	field, ok := s.field(key)
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}

	parsed, err := parseValue(field.kind, value)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, key, err)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}
	field.write(settings, parsed)
	if err := s.check(settings); err != nil {
		return err
	}

	if err := s.configStore.Set(key, parsed); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Entries returns every key with its current value.
func (s *SettingsService) Entries() ([]driving.SettingEntry, error) {
	settings, err := s.Get()
	if err != nil {
		return nil, err
	}

	entries := make([]driving.SettingEntry, 0, len(s.fields))
	for _, f := range s.fields {
		value := f.read(settings)
		if f.secret {
			value = maskSecret(value.(string))
		}
		entries = append(entries, driving.SettingEntry{Key: f.key, Value: value})
	}
	return entries, nil
}

// SetLLMProvider configures the LLM provider.
func (s *SettingsService) SetLLMProvider(provider domain.AIProvider, model, apiKey string) error {
	if !provider.IsValid() {
		return fmt.Errorf("invalid LLM provider: %s", provider)
	}
	if provider.RequiresAPIKey() && apiKey == "" {
		return fmt.Errorf("API key required for %s", provider)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}

	changed := settings.LLM.Provider != provider
	settings.LLM.Provider = provider

	if model != "" {
		settings.LLM.Model = model
	} else if defaultModel, ok := domain.DefaultLLMModels()[provider]; ok {
		settings.LLM.Model = defaultModel
	}
	if changed || settings.LLM.FallbackModel == "" {
		settings.LLM.FallbackModel = domain.DefaultFallbackModels()[provider]
	}

	// Only the local provider needs a base URL.
	if provider == domain.AIProviderOllama {
		if settings.LLM.BaseURL == "" {
			settings.LLM.BaseURL = defaultOllamaURL
		}
	} else {
		settings.LLM.BaseURL = ""
	}

	settings.LLM.APIKey = apiKey

	return s.Save(settings)
}

// SetTier changes the default tier.
func (s *SettingsService) SetTier(tier domain.Tier) error {
	if !tier.IsValid() {
		return fmt.Errorf("%w: invalid tier %q", domain.ErrInvalidInput, tier)
	}
	return s.SetValue(keyUserTier, tier.String())
}

// Validate checks the current settings.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.check(settings)
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// ValidateLLMConfig validates the current LLM configuration by pinging the provider.
func (s *SettingsService) ValidateLLMConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateLLM(&settings.LLM)
}

func (s *SettingsService) check(settings *domain.AppSettings) error {
	if err := s.validate.Struct(settings); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func (s *SettingsService) field(key string) (settingField, bool) {
	for _, f := range s.fields {
		if f.key == key {
			return f, true
		}
	}
	return settingField{}, false
}

func parseValue(kind valueKind, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch kind {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", value)
		}
		return n, nil
	case kindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", value)
		}
		return f, nil
	default:
		return value, nil
	}
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
