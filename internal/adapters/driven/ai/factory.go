// Package ai provides factory functions for creating AI service adapters.
package ai

import (
	"context"
	"fmt"
	"time"

	anthropicllm "github.com/custodia-labs/lectern/internal/adapters/driven/llm/anthropic"
	ollamallm "github.com/custodia-labs/lectern/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/lectern/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/lectern/internal/adapters/driven/llm/transport"
	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// Models holds the primary and fallback model services.
type Models struct {
	// Primary is the fast model tried first.
	Primary driven.LLMService

	// Fallback is tried when the primary fails. May be nil.
	Fallback driven.LLMService
}

// Close releases all resources held by the models.
func (m *Models) Close() {
	if m.Primary != nil {
		m.Primary.Close()
	}
	if m.Fallback != nil {
		m.Fallback.Close()
	}
}

// CreateModels creates the primary and fallback services from settings.
// The fallback uses the same provider with FallbackModel and is nil when no
// fallback model is configured or it equals the primary model.
func CreateModels(settings *domain.LLMSettings) (*Models, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, fmt.Errorf("%w: no provider configured. Run 'lectern settings set llm.provider <provider>' to fix",
			domain.ErrLLMUnavailable)
	}

	primary, err := CreateLLMService(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrLLMUnavailable, err)
	}

	models := &Models{Primary: primary}
	if settings.FallbackModel != "" && settings.FallbackModel != settings.Model {
		fb := *settings
		fb.Model = settings.FallbackModel
		fallback, err := CreateLLMService(&fb)
		if err != nil {
			primary.Close()
			return nil, fmt.Errorf("%w: fallback: %w", domain.ErrLLMUnavailable, err)
		}
		models.Fallback = fallback
	}
	return models, nil
}

// ValidateLLMConfig validates an LLM configuration by creating a service and pinging it.
func ValidateLLMConfig(settings *domain.LLMSettings) error {
	if settings == nil || !settings.IsConfigured() {
		return nil
	}

	svc, err := CreateLLMService(settings)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrLLMUnavailable, err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := svc.Ping(ctx); err != nil {
		return fmt.Errorf("%w: service unreachable (%w)", domain.ErrLLMUnavailable, err)
	}
	return nil
}

// CreateLLMService creates the appropriate LLM service based on settings.
func CreateLLMService(settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, fmt.Errorf("LLM provider not configured")
	}

	retry := transport.DefaultRetryConfig()

	switch settings.Provider {
	case domain.AIProviderOllama:
		return ollamallm.NewLLMService(ollamallm.LLMConfig{
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
			Timeout: settings.Timeout,
			Retry:   retry,
		}), nil

	case domain.AIProviderOpenAI:
		return openaillm.NewLLMService(openaillm.LLMConfig{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
			Timeout: settings.Timeout,
			Retry:   retry,
		})

	case domain.AIProviderAnthropic:
		return anthropicllm.NewLLMService(anthropicllm.Config{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
			Timeout: settings.Timeout,
			Retry:   retry,
		})

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", settings.Provider)
	}
}
