package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lectern/internal/adapters/driven/config/file"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
)

// MockLLMService is a scripted driven.LLMService.
type MockLLMService struct {
	mock.Mock
	name string
}

func newMockLLM(name string) *MockLLMService {
	return &MockLLMService{name: name}
}

func (m *MockLLMService) Generate(ctx context.Context, prompt string, opts driven.GenerateOptions) (string, error) {
	args := m.Called(ctx, prompt, opts)
	return args.String(0), args.Error(1)
}

func (m *MockLLMService) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (string, error) {
	args := m.Called(ctx, messages, opts)
	return args.String(0), args.Error(1)
}

func (m *MockLLMService) ModelName() string {
	return m.name
}

func (m *MockLLMService) Ping(_ context.Context) error {
	return nil
}

func (m *MockLLMService) Close() error {
	return nil
}

// newTestPrompts returns a prompt store seeded with the default templates.
func newTestPrompts(t *testing.T) driven.PromptStore {
	t.Helper()
	store, err := file.NewPromptStore(t.TempDir())
	require.NoError(t, err)
	return store
}
