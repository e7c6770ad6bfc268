package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
)

// Ensure the stores implement the interfaces.
var (
	_ driven.DocumentStore = (*DocumentStore)(nil)
	_ driven.ChatStore     = (*ChatStore)(nil)
)

// DocumentStore is an in-memory implementation of driven.DocumentStore.
// Values are copied on the way in and out so callers never share slices
// with the store.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	chunks    map[string][]domain.Chunk
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]domain.Document),
		chunks:    make(map[string][]domain.Chunk),
	}
}

// SaveDocument stores or updates a document.
func (s *DocumentStore) SaveDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	stored := copyDocument(*doc)
	if existing, ok := s.documents[doc.ID]; ok && stored.CreatedAt.IsZero() {
		stored.CreatedAt = existing.CreatedAt
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.documents[doc.ID] = stored
	return nil
}

// GetDocument retrieves a document by ID.
func (s *DocumentStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := copyDocument(doc)
	return &out, nil
}

// ListDocuments returns the documents owned by a user, newest first.
func (s *DocumentStore) ListDocuments(_ context.Context, ownerID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []domain.Document
	for _, doc := range s.documents {
		if doc.OwnerID == ownerID {
			docs = append(docs, copyDocument(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].CreatedAt.After(docs[j].CreatedAt)
	})
	return docs, nil
}

// DeleteDocument removes a document and its chunks.
func (s *DocumentStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.documents, id)
	delete(s.chunks, id)
	return nil
}

// ReplaceChunks deletes all chunks of a document and stores the given ones.
func (s *DocumentStore) ReplaceChunks(_ context.Context, documentID string, chunks []domain.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		c.DocumentID = documentID
		stored[i] = copyChunk(c)
	}
	sort.SliceStable(stored, func(i, j int) bool { return stored[i].Position < stored[j].Position })
	s.chunks[documentID] = stored
	return nil
}

// GetChunks retrieves all chunks for a document ordered by position.
func (s *DocumentStore) GetChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := s.chunks[documentID]
	out := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		out[i] = copyChunk(c)
	}
	return out, nil
}

// UpdateChunkAnalysis writes the summary, keywords and topics of one chunk.
func (s *DocumentStore) UpdateChunkAnalysis(_ context.Context, documentID string, analysis domain.ChunkAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks := s.chunks[documentID]
	for i := range chunks {
		if chunks[i].ID == analysis.ChunkID {
			chunks[i].Summary = analysis.Summary
			chunks[i].Keywords = slices.Clone(analysis.Keywords)
			chunks[i].Topics = slices.Clone(analysis.Topics)
			return nil
		}
	}
	return domain.ErrNotFound
}

// UpdateProgress sets the analysis progress and status of a document.
func (s *DocumentStore) UpdateProgress(_ context.Context, documentID string, progress int, status domain.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Progress = progress
	doc.Status = status
	doc.UpdatedAt = time.Now()
	s.documents[documentID] = doc
	return nil
}

// SaveAnalysis stores the document-level results of a pipeline run.
func (s *DocumentStore) SaveAnalysis(_ context.Context, documentID string, summary string, keywords []string,
	hierarchical *domain.HierarchicalSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return domain.ErrNotFound
	}
	doc.Summary = summary
	doc.Keywords = slices.Clone(keywords)
	doc.Hierarchical = copyHierarchical(hierarchical)
	doc.UpdatedAt = time.Now()
	s.documents[documentID] = doc
	return nil
}

// SearchChunks scores chunks by the number of query term occurrences.
// It stands in for the SQLite FTS5 ranking in tests.
func (s *DocumentStore) SearchChunks(_ context.Context, documentID, query string, limit int) ([]domain.ChunkHit, error) {
	terms := domain.QueryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []domain.ChunkHit
	for _, c := range s.chunks[documentID] {
		content := strings.ToLower(c.Content)
		score := 0
		for _, term := range terms {
			score += strings.Count(content, term)
		}
		if score > 0 {
			hits = append(hits, domain.ChunkHit{Chunk: copyChunk(c), Score: float64(score)})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// FindChunksContaining returns chunks containing every term, ordered by position.
func (s *DocumentStore) FindChunksContaining(_ context.Context, documentID string, terms []string,
	limit int) ([]domain.Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Chunk
	for _, c := range s.chunks[documentID] {
		if containsAll(strings.ToLower(c.Content), terms) {
			out = append(out, copyChunk(c))
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func containsAll(content string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(content, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

// ChatStore is an in-memory implementation of driven.ChatStore.
type ChatStore struct {
	mu       sync.RWMutex
	messages []domain.ChatMessage
}

// NewChatStore creates a new in-memory chat store.
func NewChatStore() *ChatStore {
	return &ChatStore{}
}

// AppendMessage stores a message, assigning an ID and timestamp when unset.
func (s *ChatStore) AppendMessage(_ context.Context, msg *domain.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

// RecentMessages returns the newest user and assistant messages, newest first.
func (s *ChatStore) RecentMessages(_ context.Context, documentID, userID string, limit int) ([]domain.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ChatMessage
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.DocumentID != documentID || m.UserID != userID {
			continue
		}
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func copyDocument(d domain.Document) domain.Document {
	d.Keywords = slices.Clone(d.Keywords)
	d.Hierarchical = copyHierarchical(d.Hierarchical)
	return d
}

func copyHierarchical(h *domain.HierarchicalSummary) *domain.HierarchicalSummary {
	if h == nil {
		return nil
	}
	out := *h
	out.Keywords = slices.Clone(h.Keywords)
	out.Sections = slices.Clone(h.Sections)
	return &out
}

func copyChunk(c domain.Chunk) domain.Chunk {
	c.Keywords = slices.Clone(c.Keywords)
	c.Topics = slices.Clone(c.Topics)
	return c
}
