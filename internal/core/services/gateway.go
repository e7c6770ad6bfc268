package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
	"github.com/custodia-labs/lectern/internal/logger"
	"github.com/custodia-labs/lectern/internal/salvage"
)

// errEmptyResponse marks a call that succeeded but produced no text.
var errEmptyResponse = errors.New("empty response")

// Gateway sends prompts to the primary model and retries once on the
// fallback model. Structured calls run the reply through the salvage chain;
// an unparseable primary reply also triggers the fallback.
type Gateway struct {
	primary    driven.LLMService
	fallback   driven.LLMService
	generation domain.GenerationSettings
}

// NewGateway creates a gateway. fallback may be nil.
func NewGateway(primary, fallback driven.LLMService, generation domain.GenerationSettings) *Gateway {
	return &Gateway{
		primary:    primary,
		fallback:   fallback,
		generation: generation,
	}
}

// Available reports whether a primary model is configured.
func (g *Gateway) Available() bool {
	return g != nil && g.primary != nil
}

// Generate returns the text completion of a prompt.
func (g *Gateway) Generate(ctx context.Context, prompt string) (string, error) {
	var text string
	err := g.each(ctx, func(svc driven.LLMService) error {
		out, err := svc.Generate(ctx, prompt, g.generateOptions(false))
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return errEmptyResponse
		}
		text = strings.TrimSpace(out)
		return nil
	})
	return text, err
}

// GenerateStructured asks for a JSON object and salvages the reply.
// The error is non-nil only when no model produced any text.
func (g *Gateway) GenerateStructured(ctx context.Context, prompt string) (salvage.Result, error) {
	return g.structured(ctx, func(svc driven.LLMService) (string, error) {
		return svc.Generate(ctx, prompt, g.generateOptions(true))
	})
}

// ChatStructured runs a conversation and salvages the reply as a JSON object.
func (g *Gateway) ChatStructured(ctx context.Context, turns []domain.ChatTurn) (salvage.Result, error) {
	messages := make([]driven.ChatMessage, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		if role == domain.RoleTool {
			role = domain.RoleUser
		}
		messages = append(messages, driven.ChatMessage{Role: role.String(), Content: t.Content})
	}

	opts := driven.ChatOptions{
		MaxTokens:   g.generation.MaxTokens,
		Temperature: g.generation.Temperature,
		TopP:        g.generation.TopP,
		TopK:        g.generation.TopK,
		JSON:        true,
	}
	return g.structured(ctx, func(svc driven.LLMService) (string, error) {
		return svc.Chat(ctx, messages, opts)
	})
}

// structured keeps the first reply that salvages to an object. When neither
// model produced one, the primary's fallback result is returned.
func (g *Gateway) structured(ctx context.Context, call func(driven.LLMService) (string, error)) (salvage.Result, error) {
	var (
		best    salvage.Result
		hasBest bool
	)
	err := g.each(ctx, func(svc driven.LLMService) error {
		out, err := call(svc)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return errEmptyResponse
		}

		res := salvage.Parse(out)
		if !hasBest || res.OK() {
			best, hasBest = res, true
		}
		if !res.OK() {
			logger.Warn("model %s: unparseable reply: %q", svc.ModelName(), res.Preview)
			return res.Err
		}
		if res.Stage != salvage.StageDirect {
			logger.Debug("model %s: reply salvaged at stage %s", svc.ModelName(), res.Stage)
		}
		return nil
	})
	if hasBest {
		return best, nil
	}
	return salvage.Result{}, err
}

// each calls fn on the primary model and, when that fails, on the fallback.
func (g *Gateway) each(ctx context.Context, fn func(driven.LLMService) error) error {
	if !g.Available() {
		return fmt.Errorf("%w: %w", domain.ErrGenerationFailed, domain.ErrLLMUnavailable)
	}

	primaryErr := fn(g.primary)
	if primaryErr == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrGenerationFailed, ctxErr)
	}
	if g.fallback == nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrGenerationFailed, g.primary.ModelName(), primaryErr)
	}

	logger.Warn("primary model %s failed, trying %s: %v", g.primary.ModelName(), g.fallback.ModelName(), primaryErr)

	fallbackErr := fn(g.fallback)
	if fallbackErr == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrGenerationFailed, errors.Join(
		fmt.Errorf("%s: %w", g.primary.ModelName(), primaryErr),
		fmt.Errorf("%s: %w", g.fallback.ModelName(), fallbackErr),
	))
}

func (g *Gateway) generateOptions(json bool) driven.GenerateOptions {
	return driven.GenerateOptions{
		MaxTokens:   g.generation.MaxTokens,
		Temperature: g.generation.Temperature,
		TopP:        g.generation.TopP,
		TopK:        g.generation.TopK,
		JSON:        json,
	}
}
