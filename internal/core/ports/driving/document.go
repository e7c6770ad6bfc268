package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

// DocumentService manages uploaded documents.
type DocumentService interface {
	// Ingest extracts text from raw bytes, chunks it and stores the document
	// for the given owner. The document is left pending until analysed.
	Ingest(ctx context.Context, req IngestRequest) (*domain.Document, error)

	// List returns the documents owned by a user.
	List(ctx context.Context, ownerID string) ([]domain.Document, error)

	// Get retrieves a document owned by the user.
	Get(ctx context.Context, documentID, ownerID string) (*domain.Document, error)

	// GetDetails returns metadata for display.
	GetDetails(ctx context.Context, documentID, ownerID string) (*DocumentDetails, error)

	// Replace swaps the content of an existing document and resets its analysis.
	Replace(ctx context.Context, documentID, ownerID string, data []byte) (*domain.Document, error)

	// Delete removes a document and its chunks.
	Delete(ctx context.Context, documentID, ownerID string) error
}

// IngestRequest describes a document upload.
type IngestRequest struct {
	// OwnerID is the uploading user.
	OwnerID string

	// URI is the original location, used for display.
	URI string

	// Title overrides the derived title when non-empty.
	Title string

	// MIMEType selects the normaliser. Detected from URI when empty.
	MIMEType string

	// Data is the raw document text.
	Data []byte
}

// DocumentDetails provides a standardised view of document metadata.
type DocumentDetails struct {
	// ID is the unique document identifier.
	ID string

	// Title is the document title.
	Title string

	// URI is the original location.
	URI string

	// Status is the analysis lifecycle state.
	Status domain.DocumentStatus

	// Progress is the analysis progress percentage.
	Progress int

	// ChunkCount is the number of chunks.
	ChunkCount int

	// AnalysedChunks is the number of chunks with a summary.
	AnalysedChunks int

	// Keywords are the aggregated keywords.
	Keywords []string

	// CreatedAt is when the document was first stored.
	CreatedAt time.Time

	// UpdatedAt is when the document was last updated.
	UpdatedAt time.Time
}
