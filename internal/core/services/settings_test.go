package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lectern/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/lectern/internal/core/domain"
)

type stubAIValidator struct {
	err    error
	called *domain.LLMSettings
}

func (v *stubAIValidator) ValidateLLM(settings *domain.LLMSettings) error {
	v.called = settings
	return v.err
}

func TestSettingsService_Get_ReturnsDefaults(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore(), nil)

	settings, err := service.Get()

	require.NoError(t, err)
	defaults := domain.DefaultAppSettings()
	assert.Equal(t, defaults.Tier, settings.Tier)
	assert.Equal(t, defaults.UserID, settings.UserID)
	assert.Equal(t, defaults.Pipeline, settings.Pipeline)
	assert.Equal(t, defaults.Agent, settings.Agent)
	assert.Equal(t, defaults.Tiers, settings.Tiers)
}

func TestSettingsService_Get_ReturnsStoredValues(t *testing.T) {
	store := memory.NewConfigStore()
	_ = store.Set("llm.provider", "openai")
	_ = store.Set("llm.model", "gpt-4o-mini")
	_ = store.Set("llm.timeout_seconds", 30)
	_ = store.Set("generation.temperature", 0.5)
	_ = store.Set("tiers.pro.requests", 90)
	_ = store.Set("tiers.pro.delay_ms", 250)
	_ = store.Set("pipeline.batch_size", 5)
	_ = store.Set("agent.max_api_calls", 2)
	_ = store.Set("cache.ttl_seconds", 600)
	_ = store.Set("user.tier", "pro")

	settings, err := NewSettingsService(store, nil).Get()

	require.NoError(t, err)
	assert.Equal(t, domain.AIProviderOpenAI, settings.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", settings.LLM.Model)
	assert.Equal(t, 30*time.Second, settings.LLM.Timeout)
	assert.InDelta(t, 0.5, settings.Generation.Temperature, 1e-9)
	assert.Equal(t, 90, settings.Tiers[domain.TierPro].Requests)
	assert.Equal(t, 250*time.Millisecond, settings.Tiers[domain.TierPro].DelayBetweenChunks)
	assert.Equal(t, 1, settings.Tiers[domain.TierPro].PerMinutes)
	assert.Equal(t, 5, settings.Pipeline.BatchSize)
	assert.Equal(t, 2, settings.Agent.MaxAPICalls)
	assert.Equal(t, 10*time.Minute, settings.Cache.TTL)
	assert.Equal(t, domain.TierPro, settings.Tier)
}

func TestSettingsService_Get_InvalidEnumsFallBack(t *testing.T) {
	store := memory.NewConfigStore()
	_ = store.Set("llm.provider", "invalid_provider")
	_ = store.Set("user.tier", "platinum")

	settings, err := NewSettingsService(store, nil).Get()

	require.NoError(t, err)
	assert.Equal(t, domain.AIProvider(""), settings.LLM.Provider)
	assert.Equal(t, domain.TierFree, settings.Tier)
}

func TestSettingsService_Save_RoundTrips(t *testing.T) {
	store := memory.NewConfigStore()
	service := NewSettingsService(store, nil)

	settings := domain.DefaultAppSettings()
	settings.LLM.Provider = domain.AIProviderOllama
	settings.LLM.Model = "llama3.2"
	settings.Agent.MaxTurns = 7

	require.NoError(t, service.Save(&settings))

	loaded, err := service.Get()
	require.NoError(t, err)
	assert.Equal(t, domain.AIProviderOllama, loaded.LLM.Provider)
	assert.Equal(t, 7, loaded.Agent.MaxTurns)
	assert.Equal(t, settings.Tiers, loaded.Tiers)
}

func TestSettingsService_Save_RejectsInvalid(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore(), nil)

	settings := domain.DefaultAppSettings()
	settings.Pipeline.BatchSize = 0

	err := service.Save(&settings)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSettingsService_Save_KeepsStoredAPIKey(t *testing.T) {
	store := memory.NewConfigStore()
	_ = store.Set("llm.api_key", "sk-existing")
	service := NewSettingsService(store, nil)

	settings := domain.DefaultAppSettings()
	require.NoError(t, service.Save(&settings))

	assert.Equal(t, "sk-existing", store.GetString("llm.api_key"))
}

func TestSettingsService_SetValue(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr bool
		check   func(t *testing.T, s *domain.AppSettings)
	}{
		{
			name:  "integer",
			key:   "pipeline.batch_size",
			value: "4",
			check: func(t *testing.T, s *domain.AppSettings) { assert.Equal(t, 4, s.Pipeline.BatchSize) },
		},
		{
			name:  "float",
			key:   "generation.top_p",
			value: "0.95",
			check: func(t *testing.T, s *domain.AppSettings) { assert.InDelta(t, 0.95, s.Generation.TopP, 1e-9) },
		},
		{
			name:  "tier limit",
			key:   "tiers.free.requests",
			value: "20",
			check: func(t *testing.T, s *domain.AppSettings) { assert.Equal(t, 20, s.Tiers[domain.TierFree].Requests) },
		},
		{
			name:  "provider",
			key:   "llm.provider",
			value: "anthropic",
			check: func(t *testing.T, s *domain.AppSettings) {
				assert.Equal(t, domain.AIProviderAnthropic, s.LLM.Provider)
			},
		},
		{name: "unknown key", key: "search.mode", value: "hybrid", wantErr: true},
		{name: "not a number", key: "agent.max_turns", value: "many", wantErr: true},
		{name: "out of range", key: "pipeline.batch_size", value: "0", wantErr: true},
		{name: "invalid provider", key: "llm.provider", value: "gemini", wantErr: true},
		{name: "invalid tier", key: "user.tier", value: "platinum", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewConfigStore()
			service := NewSettingsService(store, nil)

			err := service.SetValue(tt.key, tt.value)

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
				_, stored := store.Get(tt.key)
				assert.False(t, stored)
				return
			}
			require.NoError(t, err)
			settings, err := service.Get()
			require.NoError(t, err)
			tt.check(t, settings)
		})
	}
}

func TestSettingsService_Entries_MasksAPIKey(t *testing.T) {
	store := memory.NewConfigStore()
	_ = store.Set("llm.api_key", "sk-1234567890abcdef")
	service := NewSettingsService(store, nil)

	entries, err := service.Entries()

	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "user.id", entries[0].Key)

	var found bool
	for _, e := range entries {
		if e.Key == "llm.api_key" {
			found = true
			assert.Equal(t, "sk-1****cdef", e.Value)
		}
	}
	assert.True(t, found)
}

func TestSettingsService_SetLLMProvider(t *testing.T) {
	t.Run("ollama gets default base url and models", func(t *testing.T) {
		service := NewSettingsService(memory.NewConfigStore(), nil)

		require.NoError(t, service.SetLLMProvider(domain.AIProviderOllama, "", ""))

		settings, err := service.Get()
		require.NoError(t, err)
		assert.Equal(t, domain.AIProviderOllama, settings.LLM.Provider)
		assert.Equal(t, "llama3.2", settings.LLM.Model)
		assert.Equal(t, "llama3.1", settings.LLM.FallbackModel)
		assert.Equal(t, "http://localhost:11434", settings.LLM.BaseURL)
	})

	t.Run("cloud provider requires api key", func(t *testing.T) {
		service := NewSettingsService(memory.NewConfigStore(), nil)

		err := service.SetLLMProvider(domain.AIProviderOpenAI, "", "")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key required")
	})

	t.Run("invalid provider", func(t *testing.T) {
		service := NewSettingsService(memory.NewConfigStore(), nil)

		err := service.SetLLMProvider(domain.AIProvider("bogus"), "", "")

		require.Error(t, err)
	})

	t.Run("custom model kept", func(t *testing.T) {
		store := memory.NewConfigStore()
		service := NewSettingsService(store, nil)

		require.NoError(t, service.SetLLMProvider(domain.AIProviderOpenAI, "gpt-4.1-mini", "sk-test"))

		settings, err := service.Get()
		require.NoError(t, err)
		assert.Equal(t, "gpt-4.1-mini", settings.LLM.Model)
		assert.Equal(t, "gpt-4o", settings.LLM.FallbackModel)
		assert.Empty(t, settings.LLM.BaseURL)
		assert.Equal(t, "sk-test", store.GetString("llm.api_key"))
	})
}

func TestSettingsService_SetTier(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore(), nil)

	require.NoError(t, service.SetTier(domain.TierEnterprise))
	settings, err := service.Get()
	require.NoError(t, err)
	assert.Equal(t, domain.TierEnterprise, settings.Tier)

	assert.ErrorIs(t, service.SetTier("gold"), domain.ErrInvalidInput)
}

func TestSettingsService_Validate(t *testing.T) {
	store := memory.NewConfigStore()
	service := NewSettingsService(store, nil)

	require.NoError(t, service.Validate())

	_ = store.Set("agent.max_turns", 0)
	assert.ErrorIs(t, service.Validate(), domain.ErrInvalidInput)
}

func TestSettingsService_ValidateLLMConfig(t *testing.T) {
	t.Run("nil validator is a no-op", func(t *testing.T) {
		service := NewSettingsService(memory.NewConfigStore(), nil)
		assert.NoError(t, service.ValidateLLMConfig())
	})

	t.Run("delegates current settings", func(t *testing.T) {
		store := memory.NewConfigStore()
		_ = store.Set("llm.provider", "ollama")
		validator := &stubAIValidator{err: errors.New("connection refused")}
		service := NewSettingsService(store, validator)

		err := service.ValidateLLMConfig()

		require.Error(t, err)
		require.NotNil(t, validator.called)
		assert.Equal(t, domain.AIProviderOllama, validator.called.Provider)
	})
}

func TestSettingsService_GetDefaults(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore(), nil)

	assert.Equal(t, domain.DefaultAppSettings(), service.GetDefaults())
}
