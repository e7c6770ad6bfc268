package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lectern/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/lectern/internal/cache"
	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/salvage"
)

type toolsFixture struct {
	docs    *memory.DocumentStore
	chats   *memory.ChatStore
	cache   *cache.Service
	service *ToolsService
}

func newToolsFixture(t *testing.T) *toolsFixture {
	t.Helper()
	ctx := context.Background()

	docs := memory.NewDocumentStore()
	require.NoError(t, docs.SaveDocument(ctx, &domain.Document{
		ID:       "doc-1",
		OwnerID:  "alice",
		Title:    "Caching Study",
		Abstract: "We study caching.",
		Keywords: []string{"caching"},
	}))
	require.NoError(t, docs.ReplaceChunks(ctx, "doc-1", []domain.Chunk{
		{ID: "c0", DocumentID: "doc-1", Position: 0, Content: "Abstract. We study caching in assistants."},
		{ID: "c1", DocumentID: "doc-1", Position: 1, Content: "Methods. An LRU cache in front of the retriever."},
		{ID: "c2", DocumentID: "doc-1", Position: 2, Content: "Results. Median latency dropped sharply."},
	}))

	c := cache.New(0, 0)
	chats := memory.NewChatStore()
	return &toolsFixture{
		docs:    docs,
		chats:   chats,
		cache:   c,
		service: NewToolsService(docs, chats, c, domain.DefaultAppSettings().Agent),
	}
}

func TestToolsService_PaperDetails(t *testing.T) {
	f := newToolsFixture(t)

	pc, err := f.service.PaperDetails(context.Background(), "doc-1", "alice")

	require.NoError(t, err)
	assert.Equal(t, "Caching Study", pc.Title)
	assert.Equal(t, "We study caching.", pc.Abstract)

	papers, _, _ := f.cache.Stats()
	assert.Equal(t, 1, papers)
}

func TestToolsService_Ownership(t *testing.T) {
	f := newToolsFixture(t)
	ctx := context.Background()

	_, err := f.service.PaperDetails(ctx, "doc-1", "mallory")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.service.SearchKnowledgeBase(ctx, "doc-1", "mallory", "caching", 3)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.service.ChatHistory(ctx, "doc-1", "mallory", 5)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.service.PaperDetails(ctx, "missing", "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestToolsService_SearchCascade(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStage  domain.SearchStage
		wantChunks []string
	}{
		{name: "full text", query: "latency", wantStage: domain.SearchStageFullText, wantChunks: []string{"c2"}},
		{name: "partial word", query: "retriev", wantStage: domain.SearchStageFullText, wantChunks: []string{"c1"}},
		{name: "unmatched query falls back to first chunk", query: "xyz123notfound",
			wantStage: domain.SearchStageAnchor, wantChunks: []string{"c0"}},
		{name: "empty query", query: "   ", wantStage: domain.SearchStageAnchor, wantChunks: []string{"c0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newToolsFixture(t)

			res, err := f.service.SearchKnowledgeBase(context.Background(), "doc-1", "alice", tt.query, 5)

			require.NoError(t, err)
			assert.Equal(t, tt.wantStage, res.Stage)
			var ids []string
			for _, c := range res.Chunks {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.wantChunks, ids)
		})
	}
}

// noFullText hides the full-text stage so the later stages are reachable.
type noFullText struct {
	*memory.DocumentStore
}

func (noFullText) SearchChunks(context.Context, string, string, int) ([]domain.ChunkHit, error) {
	return nil, nil
}

func TestToolsService_CascadeStages(t *testing.T) {
	f := newToolsFixture(t)
	service := NewToolsService(noFullText{f.docs}, f.chats, cache.New(0, 0), domain.DefaultAppSettings().Agent)
	ctx := context.Background()

	tests := []struct {
		query     string
		wantStage domain.SearchStage
		wantIDs   []string
	}{
		{query: "median latency", wantStage: domain.SearchStageAllTerms, wantIDs: []string{"c2"}},
		{query: "cache", wantStage: domain.SearchStageAllTerms, wantIDs: []string{"c1"}},
		{query: "latency banana", wantStage: domain.SearchStageAnyTerm, wantIDs: []string{"c2"}},
		{query: "the qqq", wantStage: domain.SearchStageAnchor, wantIDs: []string{"c0"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			chunks, stage, err := service.cascade(ctx, "doc-1", tt.query, 5)

			require.NoError(t, err)
			assert.Equal(t, tt.wantStage, stage)
			var ids []string
			for _, c := range chunks {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestToolsService_SearchCachesByNormalisedQuery(t *testing.T) {
	f := newToolsFixture(t)
	ctx := context.Background()

	first, err := f.service.SearchKnowledgeBase(ctx, "doc-1", "alice", "Median  Latency", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SearchStageFullText, first.Stage)

	second, err := f.service.SearchKnowledgeBase(ctx, "doc-1", "alice", "median latency", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SearchStageCached, second.Stage)
	assert.Equal(t, first.Chunks, second.Chunks)

	f.cache.InvalidateDocument("doc-1")
	third, err := f.service.SearchKnowledgeBase(ctx, "doc-1", "alice", "median latency", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SearchStageFullText, third.Stage)
}

func TestToolsService_ChatHistory(t *testing.T) {
	f := newToolsFixture(t)
	ctx := context.Background()
	for _, m := range []domain.ChatMessage{
		{DocumentID: "doc-1", UserID: "alice", Role: domain.RoleUser, Content: "q1"},
		{DocumentID: "doc-1", UserID: "alice", Role: domain.RoleAssistant, Content: "a1"},
		{DocumentID: "doc-1", UserID: "alice", Role: domain.RoleUser, Content: "q2"},
	} {
		msg := m
		require.NoError(t, f.chats.AppendMessage(ctx, &msg))
	}

	msgs, err := f.service.ChatHistory(ctx, "doc-1", "alice", 2)

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "q2", msgs[0].Content)
	assert.Equal(t, "a1", msgs[1].Content)
}

func TestParseToolCall(t *testing.T) {
	call, err := ParseToolCall(salvage.Parse(`{"type": "function_call", "function": "searchKnowledgeBase",
		"arguments": {"query": "latency", "max_results": 2}, "partial_answer": "It is faster."}`))

	require.NoError(t, err)
	assert.Equal(t, domain.ToolSearchKnowledge, call.Name)
	assert.Equal(t, "latency", call.Query)
	assert.Equal(t, 2, call.MaxResults)
	assert.Equal(t, "It is faster.", call.PartialAnswer)

	call, err = ParseToolCall(salvage.Parse(`{"function_call": {"name": "getChatHistory"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.ToolChatHistory, call.Name)

	_, err = ParseToolCall(salvage.Parse(`{"function": "deleteDocument"}`))
	assert.ErrorIs(t, err, domain.ErrUnknownTool)
}

func TestToolsService_Execute(t *testing.T) {
	f := newToolsFixture(t)
	ctx := context.Background()
	session := domain.NewAgentSession("doc-1", "alice")

	out, err := f.service.Execute(ctx, session, ToolCall{Name: domain.ToolSearchKnowledge, Query: "latency"})
	require.NoError(t, err)

	var decoded searchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "full_text", decoded.Stage)
	require.Len(t, decoded.Excerpts, 1)
	assert.Equal(t, 2, decoded.Excerpts[0].Position)

	cached, ok := f.cache.SessionGet("alice", "doc-1", domain.ToolSearchKnowledge)
	require.True(t, ok)
	assert.Equal(t, out, cached.(toolResult).output)

	out, err = f.service.Execute(ctx, session, ToolCall{Name: domain.ToolPaperDetails})
	require.NoError(t, err)
	assert.Contains(t, out, `"title":"Caching Study"`)

	_, err = f.service.Execute(ctx, session, ToolCall{Name: "dropTables"})
	assert.ErrorIs(t, err, domain.ErrUnknownTool)
}

func TestRenderHistory_OldestFirst(t *testing.T) {
	newestFirst := []domain.ChatMessage{
		{Role: domain.RoleAssistant, Content: "answer two"},
		{Role: domain.RoleUser, Content: "question two"},
		{Role: domain.RoleUser, Content: "question one"},
	}

	got := renderHistory(newestFirst)

	require.Len(t, got, 3)
	assert.Equal(t, "question one", got[0].Content)
	assert.Equal(t, "answer two", got[2].Content)
	assert.Equal(t, domain.RoleAssistant.String(), got[2].Role)
}
