package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/lectern/internal/cache"
	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
	"github.com/custodia-labs/lectern/internal/core/ports/driving"
	"github.com/custodia-labs/lectern/internal/logger"
	"github.com/custodia-labs/lectern/internal/salvage"
)

// Ensure ChatService implements the interface.
var _ driving.ChatService = (*ChatService)(nil)

// Reply shapes the agent may produce.
const (
	replyFunctionCall = "function_call"
	replyFinalAnswer  = "final_answer"
	replyGeneral      = "general_conversation"
)

// Fixed replies used when the model cannot produce an answer.
const (
	maxTurnsReply   = "I could not finish researching this question. Please try asking it more specifically."
	generationReply = "I am unable to answer right now because the language model is unavailable. Please try again later."
)

// Steering messages appended to the conversation.
const (
	steerAfterTool = "Use this result to answer the question. Call another function only if you still need " +
		"information, otherwise reply with a final_answer object."
	steerAnswerNow = "You have used all available function calls. Reply now with a final_answer object " +
		"based on what you already know."
	steerUnknownTool = "The function %q is not available. Use one of: %s. Reply with a single JSON object."
	steerReshape     = "Reply with exactly one JSON object of type function_call, final_answer or general_conversation."
)

// primingExcerpts bounds the excerpts added to the first user message.
const primingExcerpts = 3

// ChatService runs the tool-using agent.
type ChatService struct {
	tools     *ToolsService
	gateway   *Gateway
	chatStore driven.ChatStore
	cache     *cache.Service
	prompts   driven.PromptStore
	agent     domain.AgentSettings
}

// NewChatService creates a new chat service.
func NewChatService(
	tools *ToolsService,
	gateway *Gateway,
	chatStore driven.ChatStore,
	cacheSvc *cache.Service,
	prompts driven.PromptStore,
	agent domain.AgentSettings,
) *ChatService {
	if cacheSvc == nil {
		cacheSvc = tools.cache
	}
	return &ChatService{
		tools:     tools,
		gateway:   gateway,
		chatStore: chatStore,
		cache:     cacheSvc,
		prompts:   prompts,
		agent:     agent,
	}
}

// Ask runs one agent session for a question.
func (s *ChatService) Ask(ctx context.Context, documentID, userID, question string) (*domain.ChatMessage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}

	logger.Section("Agent")
	logger.Debug("Document: %s, user: %s", documentID, userID)

	paper, err := s.tools.PaperDetails(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}

	if err := s.chatStore.AppendMessage(ctx, &domain.ChatMessage{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		UserID:     userID,
		Role:       domain.RoleUser,
		Content:    question,
		CreatedAt:  time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("storing question: %w", err)
	}

	session := domain.NewAgentSession(documentID, userID)
	defer s.cache.ClearSession(userID, documentID)

	answer, err := s.run(ctx, session, paper, question)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{
		"turns":          session.Turn,
		"api_calls":      session.APICallsMade,
		"used_functions": session.Used(),
		"termination":    string(session.Termination),
	}
	if session.Termination == domain.TerminationMaxTurns || session.Termination == domain.TerminationCallBudget {
		metadata["error"] = domain.ErrSessionExhausted.Error()
	}

	reply := &domain.ChatMessage{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		UserID:     userID,
		Role:       domain.RoleAssistant,
		Content:    answer,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	}
	if err := s.chatStore.AppendMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("storing answer: %w", err)
	}

	logger.Info("Answered in %d turns with %d function calls (%s)", session.Turn, session.APICallsMade, session.Termination)
	return reply, nil
}

// History returns the most recent messages, newest first.
func (s *ChatService) History(ctx context.Context, documentID, userID string, limit int) ([]domain.ChatMessage, error) {
	return s.tools.ChatHistory(ctx, documentID, userID, limit)
}

// InvalidateDocumentCache drops the cached paper context and searches of a document.
func (s *ChatService) InvalidateDocumentCache(documentID string) {
	s.cache.InvalidateDocument(documentID)
}

// run primes the session and drives it to a termination. It returns an
// error only when ctx is cancelled.
func (s *ChatService) run(
	ctx context.Context, session *domain.AgentSession, paper *domain.PaperContext, question string,
) (string, error) {
	system, err := s.systemPrompt()
	if err != nil {
		return "", err
	}
	session.Append(domain.RoleSystem, system)
	session.Append(domain.RoleUser, s.prime(ctx, session, paper, question))

	for session.Turn < s.agent.MaxTurns {
		session.Turn++

		res, err := s.gateway.ChatStructured(ctx, session.History)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			logger.Warn("document %s turn %d: %v", session.DocumentID, session.Turn, err)
			session.Termination = domain.TerminationGeneration
			return generationReply, nil
		}

		switch replyType(res) {
		case replyGeneral:
			session.Termination = domain.TerminationGeneral
			return firstNonEmpty(res.String("response"), res.String("message"), res.Text), nil

		case replyFinalAnswer:
			session.Termination = domain.TerminationFinalAnswer
			return formatAnswer(res), nil

		case replyFunctionCall:
			if answer, done := s.handleCall(ctx, session, res); done {
				return answer, nil
			}

		default:
			// Prose without JSON is taken as the answer.
			if !res.OK() && strings.TrimSpace(res.Text) != "" {
				session.Termination = domain.TerminationFinalAnswer
				return strings.TrimSpace(res.Text), nil
			}
			session.Append(domain.RoleAssistant, res.Text)
			session.Append(domain.RoleUser, steerReshape)
		}
	}

	session.Termination = domain.TerminationMaxTurns
	return maxTurnsReply, nil
}

// handleCall processes a function call reply. It reports done when the
// session must terminate with the returned answer.
func (s *ChatService) handleCall(ctx context.Context, session *domain.AgentSession, res salvage.Result) (string, bool) {
	session.Append(domain.RoleAssistant, res.Raw)

	call, err := ParseToolCall(res)
	if err != nil {
		logger.Debug("turn %d: %v", session.Turn, err)
		session.Append(domain.RoleUser, fmt.Sprintf(steerUnknownTool, call.Name, toolList()))
		return "", false
	}

	if session.APICallsMade >= s.agent.MaxAPICalls {
		if call.PartialAnswer != "" {
			session.Termination = domain.TerminationCallBudget
			return call.PartialAnswer, true
		}
		session.Append(domain.RoleUser, steerAnswerNow)
		return "", false
	}

	session.RecordCall(call.Name)
	logger.Debug("turn %d: calling %s", session.Turn, call.Name)

	output, err := s.tools.Execute(ctx, session, call)
	if err != nil {
		logger.Warn("tool %s failed: %v", call.Name, err)
		output = fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	session.Append(domain.RoleTool, fmt.Sprintf("Result of %s:\n%s\n\n%s", call.Name, output, steerAfterTool))
	return "", false
}

// prime builds the first user message from the paper context and the
// excerpts most relevant to the question. Priming calls are not counted.
func (s *ChatService) prime(
	ctx context.Context, session *domain.AgentSession, paper *domain.PaperContext, question string,
) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Document: %s\n", paper.Title)
	if paper.Abstract != "" {
		fmt.Fprintf(&b, "Abstract: %s\n", paper.Abstract)
	}
	if h := paper.Hierarchical; h != nil {
		fmt.Fprintf(&b, "Overview: %s\n", h.Overview)
		for _, sec := range h.Sections {
			fmt.Fprintf(&b, "- %s: %s\n", sec.Title, sec.Summary)
		}
	} else if paper.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", paper.Summary)
	}
	if len(paper.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(paper.Keywords, ", "))
	}

	excerpts := s.primingSearch(ctx, session, question)
	if len(excerpts) > 0 {
		b.WriteString("\nRelevant excerpts:\n")
		for _, c := range excerpts {
			fmt.Fprintf(&b, "[%d] %s\n", c.Position+1, truncate(c.Content, maxExcerptLength))
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s", question)
	return b.String()
}

// primingSearch searches for the question, retrying term by term when the
// whole question finds nothing.
func (s *ChatService) primingSearch(ctx context.Context, session *domain.AgentSession, question string) []domain.Chunk {
	res, err := s.tools.SearchKnowledgeBase(ctx, session.DocumentID, session.UserID, question, primingExcerpts)
	if err != nil {
		logger.Warn("priming search failed: %v", err)
		return nil
	}
	if len(res.Chunks) > 0 {
		return res.Chunks
	}

	for _, term := range domain.SignificantTerms(question) {
		res, err := s.tools.SearchKnowledgeBase(ctx, session.DocumentID, session.UserID, term, primingExcerpts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			continue
		}
		if len(res.Chunks) > 0 {
			return res.Chunks
		}
	}
	return nil
}

func (s *ChatService) systemPrompt() (string, error) {
	tmpl, err := s.prompts.Load(driven.PromptAgentSystem)
	if err != nil {
		return "", fmt.Errorf("loading agent prompt: %w", err)
	}
	return fmt.Sprintf(tmpl, toolDescriptions(), s.agent.MaxAPICalls), nil
}

// replyType reads the declared reply type, inferring it from the fields
// present when the model left it out.
func replyType(res salvage.Result) string {
	if !res.OK() {
		return ""
	}
	switch t := strings.ToLower(strings.TrimSpace(res.String("type"))); t {
	case replyFunctionCall, replyFinalAnswer, replyGeneral:
		return t
	}
	switch {
	case res.Has("function") || res.Has("function_call"):
		return replyFunctionCall
	case res.Has("main_idea") || res.Has("answer"):
		return replyFinalAnswer
	case res.Has("response"):
		return replyGeneral
	}
	return ""
}

// formatAnswer renders a final answer object as delimited sections.
func formatAnswer(res salvage.Result) string {
	var sections []string

	if idea := firstNonEmpty(res.String("main_idea"), res.String("answer")); idea != "" {
		sections = append(sections, "Main idea:\n"+idea)
	}
	if evidence := res.Strings("evidence"); len(evidence) > 0 {
		sections = append(sections, "Evidence:\n- "+strings.Join(evidence, "\n- "))
	}
	if analysis := strings.TrimSpace(res.String("analysis")); analysis != "" {
		sections = append(sections, "Analysis:\n"+analysis)
	}

	if len(sections) == 0 {
		return strings.TrimSpace(res.Text)
	}
	return strings.Join(sections, "\n\n---\n\n")
}

func toolList() string {
	names := make([]string, 0, 3)
	for _, t := range domain.AllTools() {
		names = append(names, t.String())
	}
	return strings.Join(names, ", ")
}

func toolDescriptions() string {
	return strings.Join([]string{
		"- " + domain.ToolPaperDetails.String() + "(): title, abstract, keywords and structured summary of the document",
		"- " + domain.ToolSearchKnowledge.String() + "(query, max_results): passages of the document relevant to a query",
		"- " + domain.ToolChatHistory.String() + "(limit): the most recent messages of this conversation",
	}, "\n")
}
