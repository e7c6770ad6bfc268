package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
	"github.com/custodia-labs/lectern/internal/salvage"
)

func testGeneration() domain.GenerationSettings {
	return domain.DefaultAppSettings().Generation
}

func TestGateway_Generate_Primary(t *testing.T) {
	primary := newMockLLM("fast")
	primary.On("Generate", mock.Anything, "hello", mock.Anything).Return("  world  ", nil)
	fallback := newMockLLM("slow")

	gw := NewGateway(primary, fallback, testGeneration())
	text, err := gw.Generate(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, "world", text)
	fallback.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestGateway_Generate_FallsBack(t *testing.T) {
	primary := newMockLLM("fast")
	primary.On("Generate", mock.Anything, "hello", mock.Anything).Return("", errors.New("503"))
	fallback := newMockLLM("slow")
	fallback.On("Generate", mock.Anything, "hello", mock.Anything).Return("from fallback", nil)

	gw := NewGateway(primary, fallback, testGeneration())
	text, err := gw.Generate(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, "from fallback", text)
}

func TestGateway_Generate_BothFail(t *testing.T) {
	primary := newMockLLM("fast")
	primary.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("timeout"))
	fallback := newMockLLM("slow")
	fallback.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("   ", nil)

	gw := NewGateway(primary, fallback, testGeneration())
	_, err := gw.Generate(context.Background(), "hello")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Contains(t, err.Error(), "timeout")
	assert.Contains(t, err.Error(), "empty response")
}

func TestGateway_Generate_NoPrimary(t *testing.T) {
	gw := NewGateway(nil, nil, testGeneration())

	_, err := gw.Generate(context.Background(), "hello")

	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
	assert.False(t, gw.Available())
}

func TestGateway_Generate_CancelledSkipsFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := newMockLLM("fast")
	primary.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled)
	fallback := newMockLLM("slow")

	gw := NewGateway(primary, fallback, testGeneration())
	_, err := gw.Generate(ctx, "hello")

	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.ErrorIs(t, err, context.Canceled)
	fallback.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestGateway_GenerateStructured_RequestsJSON(t *testing.T) {
	primary := newMockLLM("fast")
	primary.On("Generate", mock.Anything, "p", mock.Anything).
		Return("```json\n{\"overview\": \"ok\"}\n```", nil)

	gw := NewGateway(primary, nil, testGeneration())
	res, err := gw.GenerateStructured(context.Background(), "p")

	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "ok", res.String("overview"))

	opts, ok := primary.Calls[0].Arguments.Get(2).(driven.GenerateOptions)
	require.True(t, ok)
	assert.True(t, opts.JSON)
	assert.Equal(t, testGeneration().MaxTokens, opts.MaxTokens)
}

func TestGateway_GenerateStructured_UnparseablePrimaryUsesFallback(t *testing.T) {
	primary := newMockLLM("fast")
	primary.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("I cannot do that.", nil)
	fallback := newMockLLM("slow")
	fallback.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(`{"overview": "rescued"}`, nil)

	gw := NewGateway(primary, fallback, testGeneration())
	res, err := gw.GenerateStructured(context.Background(), "p")

	require.NoError(t, err)
	assert.Equal(t, "rescued", res.String("overview"))
}

func TestGateway_GenerateStructured_BothUnparseableReturnsFallbackResult(t *testing.T) {
	primary := newMockLLM("fast")
	primary.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("plain prose from primary", nil)
	fallback := newMockLLM("slow")
	fallback.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("plain prose from fallback", nil)

	gw := NewGateway(primary, fallback, testGeneration())
	res, err := gw.GenerateStructured(context.Background(), "p")

	require.NoError(t, err)
	assert.Equal(t, salvage.StageFallback, res.Stage)
	assert.Equal(t, "plain prose from primary", res.Text)
	assert.ErrorIs(t, res.Err, domain.ErrParseFailed)
}

func TestGateway_ChatStructured_MapsToolRole(t *testing.T) {
	primary := newMockLLM("fast")
	primary.On("Chat", mock.Anything, mock.Anything, mock.Anything).Return(`{"type": "final_answer"}`, nil)

	gw := NewGateway(primary, nil, testGeneration())
	res, err := gw.ChatStructured(context.Background(), []domain.ChatTurn{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleTool, Content: "result"},
	})

	require.NoError(t, err)
	assert.Equal(t, "final_answer", res.String("type"))

	messages, ok := primary.Calls[0].Arguments.Get(1).([]driven.ChatMessage)
	require.True(t, ok)
	assert.Equal(t, []driven.ChatMessage{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "result"},
	}, messages)
}
