package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/lectern/internal/cache"
	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
	"github.com/custodia-labs/lectern/internal/core/ports/driving"
	"github.com/custodia-labs/lectern/internal/logger"
	"github.com/custodia-labs/lectern/internal/normalisers"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// DocumentService manages uploaded documents.
type DocumentService struct {
	docStore    driven.DocumentStore
	normalisers []driven.Normaliser
	cache       *cache.Service
}

// NewDocumentService creates a new document service. The last normaliser
// handles MIME types no other normaliser claims. The cache is optional.
func NewDocumentService(
	docStore driven.DocumentStore,
	normaliserList []driven.Normaliser,
	cacheSvc *cache.Service,
) *DocumentService {
	return &DocumentService{
		docStore:    docStore,
		normalisers: normaliserList,
		cache:       cacheSvc,
	}
}

// Ingest extracts the text of an upload and stores it as a pending document.
func (s *DocumentService) Ingest(ctx context.Context, req driving.IngestRequest) (*domain.Document, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", domain.ErrInvalidInput)
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = normalisers.DetectMIMEType(req.URI)
	}

	doc, err := s.normalise(ctx, &domain.RawDocument{
		OwnerID:  req.OwnerID,
		URI:      req.URI,
		MIMEType: mimeType,
		Title:    req.Title,
		Content:  req.Data,
	})
	if err != nil {
		return nil, err
	}

	if err := s.docStore.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}

	logger.Info("Ingested %q (%s, %d characters)", doc.Title, doc.ID, len([]rune(doc.Content)))
	return doc, nil
}

// List returns the documents owned by a user.
func (s *DocumentService) List(ctx context.Context, ownerID string) ([]domain.Document, error) {
	return s.docStore.ListDocuments(ctx, ownerID)
}

// Get retrieves a document owned by the user.
func (s *DocumentService) Get(ctx context.Context, documentID, ownerID string) (*domain.Document, error) {
	doc, err := s.docStore.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.OwnedBy(ownerID) {
		return nil, fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	return doc, nil
}

// GetDetails returns metadata for display.
func (s *DocumentService) GetDetails(ctx context.Context, documentID, ownerID string) (*driving.DocumentDetails, error) {
	doc, err := s.Get(ctx, documentID, ownerID)
	if err != nil {
		return nil, err
	}

	chunks, err := s.docStore.GetChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}

	analysed := 0
	for _, c := range chunks {
		if c.IsAnalysed() {
			analysed++
		}
	}

	return &driving.DocumentDetails{
		ID:             doc.ID,
		Title:          doc.Title,
		URI:            doc.URI,
		Status:         doc.Status,
		Progress:       doc.Progress,
		ChunkCount:     len(chunks),
		AnalysedChunks: analysed,
		Keywords:       doc.Keywords,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}, nil
}

// Replace swaps the text of an existing document. The document keeps its
// ID so its conversation carries over; analysis results and chunks are
// cleared and the cached context is dropped.
func (s *DocumentService) Replace(ctx context.Context, documentID, ownerID string, data []byte) (*domain.Document, error) {
	existing, err := s.Get(ctx, documentID, ownerID)
	if err != nil {
		return nil, err
	}

	mimeType, _ := existing.Metadata["mime_type"].(string)
	if mimeType == "" {
		mimeType = normalisers.DetectMIMEType(existing.URI)
	}

	fresh, err := s.normalise(ctx, &domain.RawDocument{
		OwnerID:  existing.OwnerID,
		URI:      existing.URI,
		MIMEType: mimeType,
		Content:  data,
		Metadata: existing.Metadata,
	})
	if err != nil {
		return nil, err
	}

	fresh.ID = existing.ID
	fresh.CreatedAt = existing.CreatedAt
	fresh.UpdatedAt = time.Now()
	if fresh.Title == "" || fresh.Title == normalisers.TitleFromURI(existing.URI) {
		fresh.Title = existing.Title
	}

	if err := s.docStore.ReplaceChunks(ctx, documentID, nil); err != nil {
		return nil, fmt.Errorf("clearing chunks: %w", err)
	}
	if err := s.docStore.SaveDocument(ctx, fresh); err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}
	s.invalidate(documentID)

	logger.Info("Replaced content of %q (%s)", fresh.Title, fresh.ID)
	return fresh, nil
}

// Delete removes a document and its chunks.
func (s *DocumentService) Delete(ctx context.Context, documentID, ownerID string) error {
	if _, err := s.Get(ctx, documentID, ownerID); err != nil {
		return err
	}
	if err := s.docStore.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.invalidate(documentID)
	return nil
}

func (s *DocumentService) normalise(ctx context.Context, raw *domain.RawDocument) (*domain.Document, error) {
	if len(strings.TrimSpace(string(raw.Content))) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", domain.ErrExtractionFailed, raw.URI)
	}

	n := normalisers.Select(raw.MIMEType, s.normalisers)
	if n == nil {
		return nil, fmt.Errorf("%w: no normaliser for %s", domain.ErrExtractionFailed, raw.MIMEType)
	}
	return n.Normalise(ctx, raw)
}

func (s *DocumentService) invalidate(documentID string) {
	if s.cache != nil {
		s.cache.InvalidateDocument(documentID)
	}
}
