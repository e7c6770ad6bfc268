package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/lectern/internal/cache"
	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
	"github.com/custodia-labs/lectern/internal/core/ports/driving"
	"github.com/custodia-labs/lectern/internal/logger"
	"github.com/custodia-labs/lectern/internal/salvage"
)

// Ensure ToolsService implements the interface.
var _ driving.ToolService = (*ToolsService)(nil)

// maxExcerptLength bounds each chunk excerpt handed back to the model.
const maxExcerptLength = 1500

// ToolCall is a parsed function call request from the model.
type ToolCall struct {
	Name          domain.ToolName
	Query         string
	MaxResults    int
	Limit         int
	PartialAnswer string
}

// args returns a stable rendering of the call arguments.
func (c ToolCall) args() string {
	return fmt.Sprintf("%s|%d|%d", domain.NormaliseQuery(c.Query), c.MaxResults, c.Limit)
}

// ParseToolCall reads a function call from a salvaged model reply.
// Names outside the allow-list return domain.ErrUnknownTool.
func ParseToolCall(res salvage.Result) (ToolCall, error) {
	name := res.String("function")
	if name == "" {
		name = res.String("name")
	}
	if name == "" {
		name = res.String("function_call.name")
	}

	call := ToolCall{
		Name:          domain.ToolName(strings.TrimSpace(name)),
		Query:         firstNonEmpty(res.String("arguments.query"), res.String("function_call.arguments.query")),
		MaxResults:    int(res.Get("arguments.max_results").Int()),
		Limit:         int(res.Get("arguments.limit").Int()),
		PartialAnswer: strings.TrimSpace(res.String("partial_answer")),
	}
	if !call.Name.IsAllowed() {
		return call, fmt.Errorf("%w: %q", domain.ErrUnknownTool, call.Name)
	}
	return call, nil
}

// ToolsService implements the retrieval tools over the document and chat
// stores. Paper contexts and searches go through the shared cache.
type ToolsService struct {
	docStore  driven.DocumentStore
	chatStore driven.ChatStore
	cache     *cache.Service
	agent     domain.AgentSettings
}

// NewToolsService creates a new tools service.
func NewToolsService(
	docStore driven.DocumentStore,
	chatStore driven.ChatStore,
	cacheSvc *cache.Service,
	agent domain.AgentSettings,
) *ToolsService {
	if cacheSvc == nil {
		cacheSvc = cache.New(0, 0)
	}
	return &ToolsService{
		docStore:  docStore,
		chatStore: chatStore,
		cache:     cacheSvc,
		agent:     agent,
	}
}

// PaperDetails returns the paper context of a document owned by the user.
func (s *ToolsService) PaperDetails(ctx context.Context, documentID, userID string) (*domain.PaperContext, error) {
	pc, err := s.cache.PaperContext(ctx, documentID, func(ctx context.Context) (domain.PaperContext, error) {
		doc, err := s.docStore.GetDocument(ctx, documentID)
		if err != nil {
			return domain.PaperContext{}, err
		}
		return domain.NewPaperContext(doc), nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
		}
		return nil, err
	}
	if pc.OwnerID != userID {
		return nil, fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	return &pc, nil
}

// SearchKnowledgeBase runs the retrieval cascade. It returns at least one
// chunk whenever the document has any.
func (s *ToolsService) SearchKnowledgeBase(
	ctx context.Context, documentID, userID, query string, maxResults int,
) (*domain.SearchResult, error) {
	if _, err := s.PaperDetails(ctx, documentID, userID); err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = s.agent.SearchResults
	}

	chunks, stage, err := s.cache.Search(ctx, documentID, query, maxResults,
		func(ctx context.Context) ([]domain.Chunk, domain.SearchStage, error) {
			return s.cascade(ctx, documentID, query, maxResults)
		})
	if err != nil {
		return nil, err
	}

	logger.Debug("search %q on %s: %d chunks (%s)", query, documentID, len(chunks), stage)
	return &domain.SearchResult{Query: query, Stage: stage, Chunks: chunks}, nil
}

// cascade tries full-text ranking, then chunks containing every term, then
// the first chunk containing any significant term, then the first chunk.
func (s *ToolsService) cascade(
	ctx context.Context, documentID, query string, maxResults int,
) ([]domain.Chunk, domain.SearchStage, error) {
	if domain.NormaliseQuery(query) != "" {
		hits, err := s.docStore.SearchChunks(ctx, documentID, query, maxResults)
		if err != nil {
			logger.Warn("full-text search on %s failed: %v", documentID, err)
		}
		if len(hits) > 0 {
			chunks := make([]domain.Chunk, len(hits))
			for i, h := range hits {
				chunks[i] = h.Chunk
			}
			return chunks, domain.SearchStageFullText, nil
		}

		if terms := domain.QueryTerms(query); len(terms) > 0 {
			chunks, err := s.docStore.FindChunksContaining(ctx, documentID, terms, maxResults)
			if err != nil {
				return nil, "", err
			}
			if len(chunks) > 0 {
				return chunks, domain.SearchStageAllTerms, nil
			}
		}

		for _, term := range domain.SignificantTerms(query) {
			chunks, err := s.docStore.FindChunksContaining(ctx, documentID, []string{term}, 1)
			if err != nil {
				return nil, "", err
			}
			if len(chunks) > 0 {
				return chunks[:1], domain.SearchStageAnyTerm, nil
			}
		}
	}

	all, err := s.docStore.GetChunks(ctx, documentID)
	if err != nil {
		return nil, "", err
	}
	if len(all) == 0 {
		return []domain.Chunk{}, domain.SearchStageAnchor, nil
	}
	return all[:1], domain.SearchStageAnchor, nil
}

// ChatHistory returns the most recent user and assistant messages, newest first.
func (s *ToolsService) ChatHistory(ctx context.Context, documentID, userID string, limit int) ([]domain.ChatMessage, error) {
	if _, err := s.PaperDetails(ctx, documentID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.agent.HistoryLimit
	}
	return s.chatStore.RecentMessages(ctx, documentID, userID, limit)
}

// toolResult is the session cache entry of one tool.
type toolResult struct {
	args   string
	output string
}

// Execute dispatches a call to its tool and renders the result for the
// model. A repeated call with the same arguments in one session is served
// from the session cache.
func (s *ToolsService) Execute(ctx context.Context, session *domain.AgentSession, call ToolCall) (string, error) {
	if cached, ok := s.cache.SessionGet(session.UserID, session.DocumentID, call.Name); ok {
		if r, ok := cached.(toolResult); ok && r.args == call.args() {
			logger.Debug("tool %s served from session cache", call.Name)
			return r.output, nil
		}
	}

	var (
		output any
		err    error
	)
	switch call.Name {
	case domain.ToolPaperDetails:
		output, err = s.PaperDetails(ctx, session.DocumentID, session.UserID)
	case domain.ToolSearchKnowledge:
		var res *domain.SearchResult
		res, err = s.SearchKnowledgeBase(ctx, session.DocumentID, session.UserID, call.Query, call.MaxResults)
		if err == nil {
			output = renderSearch(res)
		}
	case domain.ToolChatHistory:
		var msgs []domain.ChatMessage
		msgs, err = s.ChatHistory(ctx, session.DocumentID, session.UserID, call.Limit)
		if err == nil {
			output = renderHistory(msgs)
		}
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownTool, call.Name)
	}
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(output)
	if err != nil {
		return "", fmt.Errorf("encoding %s result: %w", call.Name, err)
	}

	s.cache.SessionPut(session.UserID, session.DocumentID, call.Name, toolResult{args: call.args(), output: string(data)})
	return string(data), nil
}

type searchExcerpt struct {
	Position int    `json:"position"`
	Content  string `json:"content"`
	Summary  string `json:"summary,omitempty"`
}

type searchOutput struct {
	Query    string          `json:"query"`
	Stage    string          `json:"match"`
	Excerpts []searchExcerpt `json:"excerpts"`
}

func renderSearch(res *domain.SearchResult) searchOutput {
	out := searchOutput{Query: res.Query, Stage: string(res.Stage), Excerpts: []searchExcerpt{}}
	for _, c := range res.Chunks {
		out.Excerpts = append(out.Excerpts, searchExcerpt{
			Position: c.Position,
			Content:  truncate(c.Content, maxExcerptLength),
			Summary:  c.Summary,
		})
	}
	return out
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// renderHistory lists messages oldest first. msgs arrive newest first.
func renderHistory(msgs []domain.ChatMessage) []historyEntry {
	out := make([]historyEntry, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, historyEntry{Role: msgs[i].Role.String(), Content: msgs[i].Content})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
