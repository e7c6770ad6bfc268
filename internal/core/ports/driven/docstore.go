package driven

import (
	"context"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

// DocumentStore persists documents and chunks.
// Backed by SQLite for metadata storage and FTS5 for full-text search.
type DocumentStore interface {
	// SaveDocument stores or updates a document.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by ID.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListDocuments returns the documents owned by a user.
	ListDocuments(ctx context.Context, ownerID string) ([]domain.Document, error)

	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, id string) error

	// ReplaceChunks deletes all chunks of a document and stores the given ones.
	ReplaceChunks(ctx context.Context, documentID string, chunks []domain.Chunk) error

	// GetChunks retrieves all chunks for a document ordered by position.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// UpdateChunkAnalysis writes the summary, keywords and topics of one chunk.
	// It is called once per chunk as batches complete.
	UpdateChunkAnalysis(ctx context.Context, documentID string, analysis domain.ChunkAnalysis) error

	// UpdateProgress atomically sets the analysis progress and status of a document.
	UpdateProgress(ctx context.Context, documentID string, progress int, status domain.DocumentStatus) error

	// SaveAnalysis stores the document-level results of a pipeline run.
	SaveAnalysis(ctx context.Context, documentID string, summary string, keywords []string,
		hierarchical *domain.HierarchicalSummary) error

	// SearchChunks runs a ranked full-text query over a document's chunks.
	SearchChunks(ctx context.Context, documentID, query string, limit int) ([]domain.ChunkHit, error)

	// FindChunksContaining returns chunks containing every term as a
	// case-insensitive substring, ordered by position.
	FindChunksContaining(ctx context.Context, documentID string, terms []string, limit int) ([]domain.Chunk, error)
}

// ChatStore persists the append-only chat ledger.
type ChatStore interface {
	// AppendMessage stores a message. Messages are never updated.
	AppendMessage(ctx context.Context, msg *domain.ChatMessage) error

	// RecentMessages returns the newest user and assistant messages for a
	// document and user, newest first.
	RecentMessages(ctx context.Context, documentID, userID string, limit int) ([]domain.ChatMessage, error)
}
