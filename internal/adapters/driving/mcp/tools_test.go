package mcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

func newTestServer(t *testing.T, ports *Ports) *Server {
	t.Helper()
	if ports.UserID == "" {
		ports.UserID = "alice"
	}
	server, err := NewServer(ports)
	require.NoError(t, err)
	return server
}

func TestServer_handlePaperDetails(t *testing.T) {
	ctx := context.Background()

	t.Run("returns paper with sections", func(t *testing.T) {
		tools := &mockToolService{
			paper: &domain.PaperContext{
				DocumentID: "doc-1",
				Title:      "Sparse Attention",
				Abstract:   "We study sparsity.",
				Keywords:   []string{"attention"},
				Hierarchical: &domain.HierarchicalSummary{
					Overview: "An overview.",
					Sections: []domain.Section{
						{Title: "Methods", Summary: "How."},
						{Title: "Results", Summary: "What."},
					},
				},
			},
		}
		server := newTestServer(t, &Ports{Tools: tools})

		_, output, err := server.handlePaperDetails(ctx, nil, PaperDetailsInput{DocumentID: "doc-1"})

		require.NoError(t, err)
		assert.Equal(t, "alice", tools.gotUser)
		assert.Equal(t, "Sparse Attention", output.Title)
		assert.Equal(t, "An overview.", output.Overview)
		require.Len(t, output.Sections, 2)
		assert.Equal(t, "Results", output.Sections[1].Title)
	})

	t.Run("paper without analysis has no sections", func(t *testing.T) {
		tools := &mockToolService{paper: &domain.PaperContext{DocumentID: "doc-1", Title: "Draft"}}
		server := newTestServer(t, &Ports{Tools: tools})

		_, output, err := server.handlePaperDetails(ctx, nil, PaperDetailsInput{DocumentID: "doc-1"})

		require.NoError(t, err)
		assert.Empty(t, output.Overview)
		assert.Nil(t, output.Sections)
	})

	t.Run("propagates not found", func(t *testing.T) {
		tools := &mockToolService{err: domain.ErrNotFound}
		server := newTestServer(t, &Ports{Tools: tools})

		_, _, err := server.handlePaperDetails(ctx, nil, PaperDetailsInput{DocumentID: "doc-2"})

		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestServer_handleSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("returns excerpts and stage", func(t *testing.T) {
		tools := &mockToolService{
			result: &domain.SearchResult{
				Query: "attention",
				Stage: domain.SearchStageFullText,
				Chunks: []domain.Chunk{
					{ID: "c1", Position: 1, Content: "attention heads", Summary: "heads"},
				},
			},
		}
		server := newTestServer(t, &Ports{Tools: tools})

		_, output, err := server.handleSearch(ctx, nil, SearchInput{DocumentID: "doc-1", Query: "attention", MaxResults: 3})

		require.NoError(t, err)
		assert.Equal(t, "attention", tools.gotQuery)
		assert.Equal(t, 3, tools.gotLimit)
		assert.Equal(t, "full_text", output.Match)
		assert.Equal(t, 1, output.Count)
		assert.Equal(t, "c1", output.Results[0].ChunkID)
		assert.Equal(t, "attention heads", output.Results[0].Content)
	})

	t.Run("returns error on search failure", func(t *testing.T) {
		tools := &mockToolService{err: errors.New("search failed")}
		server := newTestServer(t, &Ports{Tools: tools})

		_, _, err := server.handleSearch(ctx, nil, SearchInput{DocumentID: "doc-1", Query: "x"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "search failed")
	})
}

func TestServer_handleHistory(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	tools := &mockToolService{
		messages: []domain.ChatMessage{
			{Role: domain.RoleAssistant, Content: "It uses sparsity.", CreatedAt: now},
			{Role: domain.RoleUser, Content: "What does it do?", CreatedAt: now.Add(-time.Second)},
		},
	}
	server := newTestServer(t, &Ports{Tools: tools})

	_, output, err := server.handleHistory(ctx, nil, HistoryInput{DocumentID: "doc-1", Limit: 2})

	require.NoError(t, err)
	assert.Equal(t, 2, tools.gotLimit)
	assert.Equal(t, 2, output.Count)
	assert.Equal(t, "assistant", output.Messages[0].Role)
	assert.Equal(t, "What does it do?", output.Messages[1].Content)
}

func TestServer_handleAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("returns answer with metadata", func(t *testing.T) {
		chat := &mockChatService{
			reply: &domain.ChatMessage{
				Role:    domain.RoleAssistant,
				Content: "Main idea:\nSparsity.",
				Metadata: map[string]any{
					"termination":    "final_answer",
					"used_functions": []string{"searchKnowledgeBase"},
				},
			},
		}
		server := newTestServer(t, &Ports{Tools: &mockToolService{}, Chat: chat})

		_, output, err := server.handleAsk(ctx, nil, AskInput{DocumentID: "doc-1", Question: "Why?"})

		require.NoError(t, err)
		assert.Equal(t, "Why?", chat.gotQuestion)
		assert.Equal(t, "Main idea:\nSparsity.", output.Answer)
		assert.Equal(t, "final_answer", output.Termination)
		assert.Equal(t, []string{"searchKnowledgeBase"}, output.Functions)
	})

	t.Run("propagates errors", func(t *testing.T) {
		chat := &mockChatService{err: domain.ErrInvalidInput}
		server := newTestServer(t, &Ports{Tools: &mockToolService{}, Chat: chat})

		_, _, err := server.handleAsk(ctx, nil, AskInput{DocumentID: "doc-1"})

		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
