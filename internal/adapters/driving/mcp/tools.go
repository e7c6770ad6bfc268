package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

// PaperDetailsInput is the input schema for the get_paper_details tool.
type PaperDetailsInput struct {
	DocumentID string `json:"document_id" jsonschema:"the document to describe"`
}

// PaperDetailsOutput is the output schema for the get_paper_details tool.
type PaperDetailsOutput struct {
	DocumentID string          `json:"document_id"`
	Title      string          `json:"title"`
	Abstract   string          `json:"abstract,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Keywords   []string        `json:"keywords,omitempty"`
	Overview   string          `json:"overview,omitempty"`
	Sections   []SectionOutput `json:"sections,omitempty"`
}

// SectionOutput is one section of the hierarchical summary.
type SectionOutput struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// SearchInput is the input schema for the search_knowledge_base tool.
type SearchInput struct {
	DocumentID string `json:"document_id" jsonschema:"the document to search"`
	Query      string `json:"query" jsonschema:"what to look for in the document"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"maximum number of excerpts to return"`
}

// SearchOutput is the output schema for the search_knowledge_base tool.
type SearchOutput struct {
	Query   string          `json:"query"`
	Match   string          `json:"match"`
	Count   int             `json:"count"`
	Results []ExcerptOutput `json:"results"`
}

// ExcerptOutput is one matching chunk.
type ExcerptOutput struct {
	ChunkID  string `json:"chunk_id"`
	Position int    `json:"position"`
	Content  string `json:"content"`
	Summary  string `json:"summary,omitempty"`
}

// HistoryInput is the input schema for the get_chat_history tool.
type HistoryInput struct {
	DocumentID string `json:"document_id" jsonschema:"the document whose conversation to read"`
	Limit      int    `json:"limit,omitempty" jsonschema:"maximum number of messages to return"`
}

// HistoryOutput is the output schema for the get_chat_history tool.
type HistoryOutput struct {
	Messages []MessageOutput `json:"messages"`
	Count    int             `json:"count"`
}

// MessageOutput is one chat message, newest first.
type MessageOutput struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AskInput is the input schema for the ask tool.
type AskInput struct {
	DocumentID string `json:"document_id" jsonschema:"the document the question is about"`
	Question   string `json:"question" jsonschema:"the question to answer"`
}

// AskOutput is the output schema for the ask tool.
type AskOutput struct {
	Answer      string   `json:"answer"`
	Termination string   `json:"termination,omitempty"`
	Functions   []string `json:"used_functions,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_paper_details",
		Description: "Get the title, abstract, keywords and summaries of an analysed document",
	}, s.handlePaperDetails)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_knowledge_base",
		Description: "Find the passages of a document most relevant to a query",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_chat_history",
		Description: "Read the most recent messages of the conversation about a document",
	}, s.handleHistory)

	if s.ports.Chat != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ask",
			Description: "Ask a question about a document and get a grounded answer",
		}, s.handleAsk)
	}
}

func (s *Server) handlePaperDetails(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input PaperDetailsInput,
) (*mcp.CallToolResult, PaperDetailsOutput, error) {
	paper, err := s.ports.Tools.PaperDetails(ctx, input.DocumentID, s.ports.UserID)
	if err != nil {
		return nil, PaperDetailsOutput{}, err
	}

	output := PaperDetailsOutput{
		DocumentID: paper.DocumentID,
		Title:      paper.Title,
		Abstract:   paper.Abstract,
		Summary:    paper.Summary,
		Keywords:   paper.Keywords,
	}
	if h := paper.Hierarchical; h != nil {
		output.Overview = h.Overview
		output.Sections = make([]SectionOutput, len(h.Sections))
		for i, sec := range h.Sections {
			output.Sections[i] = SectionOutput{Title: sec.Title, Summary: sec.Summary}
		}
	}

	return nil, output, nil
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	result, err := s.ports.Tools.SearchKnowledgeBase(ctx, input.DocumentID, s.ports.UserID, input.Query, input.MaxResults)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Query:   result.Query,
		Match:   string(result.Stage),
		Count:   len(result.Chunks),
		Results: make([]ExcerptOutput, len(result.Chunks)),
	}
	for i := range result.Chunks {
		output.Results[i] = excerptFrom(result.Chunks[i])
	}

	return nil, output, nil
}

func (s *Server) handleHistory(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input HistoryInput,
) (*mcp.CallToolResult, HistoryOutput, error) {
	messages, err := s.ports.Tools.ChatHistory(ctx, input.DocumentID, s.ports.UserID, input.Limit)
	if err != nil {
		return nil, HistoryOutput{}, err
	}

	output := HistoryOutput{
		Messages: make([]MessageOutput, len(messages)),
		Count:    len(messages),
	}
	for i := range messages {
		output.Messages[i] = MessageOutput{
			Role:      messages[i].Role.String(),
			Content:   messages[i].Content,
			CreatedAt: messages[i].CreatedAt,
		}
	}

	return nil, output, nil
}

func (s *Server) handleAsk(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	msg, err := s.ports.Chat.Ask(ctx, input.DocumentID, s.ports.UserID, input.Question)
	if err != nil {
		return nil, AskOutput{}, err
	}

	output := AskOutput{Answer: msg.Content}
	if term, ok := msg.Metadata["termination"].(string); ok {
		output.Termination = term
	}
	if used, ok := msg.Metadata["used_functions"].([]string); ok {
		output.Functions = used
	}

	return nil, output, nil
}

func excerptFrom(c domain.Chunk) ExcerptOutput {
	return ExcerptOutput{
		ChunkID:  c.ID,
		Position: c.Position,
		Content:  c.Content,
		Summary:  c.Summary,
	}
}
