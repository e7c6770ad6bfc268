// Command lectern analyses documents and answers questions about them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/custodia-labs/lectern/internal/adapters/driven/ai"
	"github.com/custodia-labs/lectern/internal/adapters/driven/config/file"
	"github.com/custodia-labs/lectern/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/lectern/internal/adapters/driving/cli"
	"github.com/custodia-labs/lectern/internal/cache"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
	"github.com/custodia-labs/lectern/internal/core/services"
	"github.com/custodia-labs/lectern/internal/logger"
	"github.com/custodia-labs/lectern/internal/normalisers/html"
	"github.com/custodia-labs/lectern/internal/normalisers/markdown"
	"github.com/custodia-labs/lectern/internal/normalisers/plaintext"
	"github.com/custodia-labs/lectern/internal/ratelimit"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := 0
	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		code = 1
	}
	stop()
	os.Exit(code)
}

func run(ctx context.Context) error {
	dir, err := file.DefaultDir()
	if err != nil {
		return fmt.Errorf("locating config directory: %w", err)
	}

	configStore, err := file.NewConfigStore(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	settingsSvc := services.NewSettingsService(configStore, ai.NewConfigValidator())
	settings, err := settingsSvc.Get()
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}

	store, err := sqlite.NewStore(filepath.Join(dir, "data"))
	if err != nil {
		return err
	}
	defer store.Close()

	prompts, err := file.NewPromptStore(filepath.Join(dir, "prompts"))
	if err != nil {
		return err
	}
	if err := prompts.Watch(ctx); err != nil {
		logger.Warn("prompt hot reload disabled: %v", err)
	}

	var primary, fallback driven.LLMService
	models, err := ai.CreateModels(&settings.LLM)
	if err != nil {
		logger.Debug("language model unavailable: %v", err)
	} else {
		defer models.Close()
		primary, fallback = models.Primary, models.Fallback
	}
	gateway := services.NewGateway(primary, fallback, settings.Generation)

	cacheSvc := cache.NewFromSettings(settings.Cache)
	limiter := ratelimit.New(settings.Tiers)
	docStore := store.DocumentStore()
	chatStore := store.ChatStore()

	normalisers := []driven.Normaliser{markdown.New(), html.New(), plaintext.New()}

	tools := services.NewToolsService(docStore, chatStore, cacheSvc, settings.Agent)
	cli.SetServices(cli.Services{
		Document: services.NewDocumentService(docStore, normalisers, cacheSvc),
		Analysis: services.NewAnalysisService(docStore, gateway, limiter, prompts, cacheSvc, settings.Pipeline, settings.Tier),
		Chat:     services.NewChatService(tools, gateway, chatStore, cacheSvc, prompts, settings.Agent),
		Tools:    tools,
		Settings: settingsSvc,
	})

	return cli.Execute(ctx)
}
