package ai

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

func TestCreateLLMService(t *testing.T) {
	tests := []struct {
		name     string
		settings *domain.LLMSettings
		wantErr  bool
		model    string
	}{
		{name: "nil settings", settings: nil, wantErr: true},
		{name: "unconfigured settings", settings: &domain.LLMSettings{}, wantErr: true},
		{
			name:     "ollama",
			settings: &domain.LLMSettings{Provider: domain.AIProviderOllama, Model: "llama3.2"},
			model:    "llama3.2",
		},
		{
			name:     "openai",
			settings: &domain.LLMSettings{Provider: domain.AIProviderOpenAI, APIKey: "sk", Model: "gpt-4o-mini"},
			model:    "gpt-4o-mini",
		},
		{
			name:     "anthropic",
			settings: &domain.LLMSettings{Provider: domain.AIProviderAnthropic, APIKey: "sk", Model: "claude"},
			model:    "claude",
		},
		{
			name:     "openai without key",
			settings: &domain.LLMSettings{Provider: domain.AIProviderOpenAI},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := CreateLLMService(tt.settings)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.model, svc.ModelName())
		})
	}
}

func TestCreateModels(t *testing.T) {
	t.Run("unconfigured", func(t *testing.T) {
		_, err := CreateModels(&domain.LLMSettings{})
		assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
	})

	t.Run("with fallback", func(t *testing.T) {
		models, err := CreateModels(&domain.LLMSettings{
			Provider:      domain.AIProviderOllama,
			Model:         "llama3.2",
			FallbackModel: "llama3.1",
		})
		require.NoError(t, err)
		defer models.Close()

		assert.Equal(t, "llama3.2", models.Primary.ModelName())
		require.NotNil(t, models.Fallback)
		assert.Equal(t, "llama3.1", models.Fallback.ModelName())
	})

	t.Run("same fallback model is skipped", func(t *testing.T) {
		models, err := CreateModels(&domain.LLMSettings{
			Provider:      domain.AIProviderOllama,
			Model:         "llama3.2",
			FallbackModel: "llama3.2",
		})
		require.NoError(t, err)
		assert.Nil(t, models.Fallback)
	})
}

func TestModels_CloseNil(t *testing.T) {
	assert.NotPanics(t, func() { (&Models{}).Close() })
}

func TestValidateLLMConfig(t *testing.T) {
	assert.NoError(t, ValidateLLMConfig(nil))
	assert.NoError(t, ValidateLLMConfig(&domain.LLMSettings{}))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	settings := &domain.LLMSettings{Provider: domain.AIProviderOllama, BaseURL: server.URL, Model: "m"}
	assert.NoError(t, ValidateLLMConfig(settings))
}

func TestValidateLLMConfig_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := ValidateLLMConfig(&domain.LLMSettings{Provider: domain.AIProviderOllama, BaseURL: url, Model: "m"})
	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
}
