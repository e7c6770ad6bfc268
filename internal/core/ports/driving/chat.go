package driving

import (
	"context"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

// ChatService answers questions about a document with the tool-using agent.
type ChatService interface {
	// Ask runs one agent session and persists the question and the answer.
	// The returned assistant message carries the session metadata
	// (turns, api_calls, used_functions, termination). Model failures
	// produce a fixed degraded reply rather than an error.
	Ask(ctx context.Context, documentID, userID, question string) (*domain.ChatMessage, error)

	// History returns the most recent messages, newest first.
	History(ctx context.Context, documentID, userID string, limit int) ([]domain.ChatMessage, error)

	// InvalidateDocumentCache drops the cached paper context and searches of a document.
	InvalidateDocumentCache(documentID string)
}

// ToolService executes the retrieval tools on behalf of a user.
// Every operation returns domain.ErrNotFound when the document is missing
// or owned by someone else.
type ToolService interface {
	// PaperDetails returns the cached paper context.
	PaperDetails(ctx context.Context, documentID, userID string) (*domain.PaperContext, error)

	// SearchKnowledgeBase returns chunks relevant to the query.
	SearchKnowledgeBase(ctx context.Context, documentID, userID, query string, maxResults int) (*domain.SearchResult, error)

	// ChatHistory returns the most recent messages, newest first.
	ChatHistory(ctx context.Context, documentID, userID string, limit int) ([]domain.ChatMessage, error)
}
