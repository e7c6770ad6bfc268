// Package cache provides the in-process caches shared by the retrieval
// tools and the agent loop.
//
// Three key spaces are kept apart:
//   - paper contexts, by document ID
//   - search results, by document ID and normalised query
//   - per-session tool results, by user ID and document ID
//
// Paper and search entries may expire after a TTL and are evicted LRU when a
// size bound is set. Session entries live until the session is cleared.
// Nothing is persisted across restarts.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

const keySep = "\x00"

// Service is the cache layer. Construct one with New and share it.
// All methods are safe for concurrent use.
type Service struct {
	papers   *expirable.LRU[string, domain.PaperContext]
	searches *expirable.LRU[string, []domain.Chunk]
	group    singleflight.Group

	mu       sync.RWMutex
	sessions map[string]map[domain.ToolName]any
}

// New creates a cache. maxEntries bounds each of the paper and search
// caches (0 = unbounded); ttl expires their entries (0 = never).
func New(maxEntries int, ttl time.Duration) *Service {
	if maxEntries < 0 {
		maxEntries = 0
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Service{
		papers:   expirable.NewLRU[string, domain.PaperContext](maxEntries, nil, ttl),
		searches: expirable.NewLRU[string, []domain.Chunk](maxEntries, nil, ttl),
		sessions: make(map[string]map[domain.ToolName]any),
	}
}

// NewFromSettings creates a cache from the cache settings.
func NewFromSettings(s domain.CacheSettings) *Service {
	return New(s.MaxEntries, s.TTL)
}

// PaperContext returns the cached paper context of a document, calling
// load on a miss. Concurrent misses for the same document share one load.
func (s *Service) PaperContext(ctx context.Context, documentID string,
	load func(ctx context.Context) (domain.PaperContext, error)) (domain.PaperContext, error) {
	if pc, ok := s.papers.Get(documentID); ok {
		return pc, nil
	}

	v, err, _ := s.group.Do("paper"+keySep+documentID, func() (any, error) {
		pc, err := load(ctx)
		if err != nil {
			return nil, err
		}
		s.papers.Add(documentID, pc)
		return pc, nil
	})
	if err != nil {
		return domain.PaperContext{}, err
	}
	pc, ok := v.(domain.PaperContext)
	if !ok {
		return domain.PaperContext{}, fmt.Errorf("cached value is not a paper context")
	}
	return pc, nil
}

// PutPaperContext stores a paper context, replacing any previous entry.
func (s *Service) PutPaperContext(pc domain.PaperContext) {
	s.papers.Add(pc.DocumentID, pc)
}

// Search returns cached search results for the normalised query when at
// least maxResults chunks were cached, calling load otherwise. The returned
// stage is domain.SearchStageCached on a hit and the loader's stage on a
// fresh load, including a load shared with a concurrent caller.
func (s *Service) Search(ctx context.Context, documentID, query string, maxResults int,
	load func(ctx context.Context) ([]domain.Chunk, domain.SearchStage, error),
) ([]domain.Chunk, domain.SearchStage, error) {
	key := searchKey(documentID, query)

	if chunks, ok := s.searches.Get(key); ok && len(chunks) >= maxResults {
		return limit(chunks, maxResults), domain.SearchStageCached, nil
	}

	v, err, _ := s.group.Do(fmt.Sprintf("search%s%s%s%d", keySep, key, keySep, maxResults), func() (any, error) {
		chunks, stage, err := load(ctx)
		if err != nil {
			return nil, err
		}
		s.searches.Add(key, chunks)
		return searchLoad{chunks: chunks, stage: stage}, nil
	})
	if err != nil {
		return nil, "", err
	}
	res, ok := v.(searchLoad)
	if !ok {
		return nil, "", fmt.Errorf("cached value is not a search result")
	}
	return limit(res.chunks, maxResults), res.stage, nil
}

// searchLoad is the shared result of one search load.
type searchLoad struct {
	chunks []domain.Chunk
	stage  domain.SearchStage
}

// InvalidateDocument removes the paper context and every cached search of
// a document. Session entries are left alone; they end with their session.
func (s *Service) InvalidateDocument(documentID string) {
	s.papers.Remove(documentID)

	prefix := documentID + keySep
	for _, key := range s.searches.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.searches.Remove(key)
		}
	}
}

// SessionGet returns the last result of a tool within a session.
func (s *Service) SessionGet(userID, documentID string, tool domain.ToolName) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results, ok := s.sessions[sessionKey(userID, documentID)]
	if !ok {
		return nil, false
	}
	v, ok := results[tool]
	return v, ok
}

// SessionPut records the last result of a tool within a session.
func (s *Service) SessionPut(userID, documentID string, tool domain.ToolName, result any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey(userID, documentID)
	results, ok := s.sessions[key]
	if !ok {
		results = make(map[domain.ToolName]any)
		s.sessions[key] = results
	}
	results[tool] = result
}

// ClearSession drops all tool results of a session.
func (s *Service) ClearSession(userID, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey(userID, documentID))
}

// Stats reports the number of live entries per key space.
func (s *Service) Stats() (papers, searches, sessions int) {
	s.mu.RLock()
	sessions = len(s.sessions)
	s.mu.RUnlock()
	return s.papers.Len(), s.searches.Len(), sessions
}

func searchKey(documentID, query string) string {
	return documentID + keySep + domain.NormaliseQuery(query)
}

func sessionKey(userID, documentID string) string {
	return userID + keySep + documentID
}

func limit(chunks []domain.Chunk, n int) []domain.Chunk {
	if n > 0 && len(chunks) > n {
		return chunks[:n]
	}
	return chunks
}
