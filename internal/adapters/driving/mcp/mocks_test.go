package mcp

import (
	"context"

	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driving"
)

// mockToolService is a mock implementation of driving.ToolService.
type mockToolService struct {
	paper    *domain.PaperContext
	result   *domain.SearchResult
	messages []domain.ChatMessage
	err      error

	gotUser  string
	gotQuery string
	gotLimit int
}

func (m *mockToolService) PaperDetails(_ context.Context, _, userID string) (*domain.PaperContext, error) {
	m.gotUser = userID
	return m.paper, m.err
}

func (m *mockToolService) SearchKnowledgeBase(
	_ context.Context,
	_, userID, query string,
	maxResults int,
) (*domain.SearchResult, error) {
	m.gotUser = userID
	m.gotQuery = query
	m.gotLimit = maxResults
	return m.result, m.err
}

func (m *mockToolService) ChatHistory(_ context.Context, _, userID string, limit int) ([]domain.ChatMessage, error) {
	m.gotUser = userID
	m.gotLimit = limit
	return m.messages, m.err
}

// mockChatService is a mock implementation of driving.ChatService.
type mockChatService struct {
	reply *domain.ChatMessage
	err   error

	gotQuestion string
}

func (m *mockChatService) Ask(_ context.Context, _, _, question string) (*domain.ChatMessage, error) {
	m.gotQuestion = question
	return m.reply, m.err
}

func (m *mockChatService) History(_ context.Context, _, _ string, _ int) ([]domain.ChatMessage, error) {
	return nil, m.err
}

func (m *mockChatService) InvalidateDocumentCache(_ string) {}

// mockDocumentService is a mock implementation of driving.DocumentService.
type mockDocumentService struct {
	documents []domain.Document
	document  *domain.Document
	err       error
}

func (m *mockDocumentService) Ingest(_ context.Context, _ driving.IngestRequest) (*domain.Document, error) {
	return m.document, m.err
}

func (m *mockDocumentService) List(_ context.Context, _ string) ([]domain.Document, error) {
	return m.documents, m.err
}

func (m *mockDocumentService) Get(_ context.Context, _, _ string) (*domain.Document, error) {
	return m.document, m.err
}

func (m *mockDocumentService) GetDetails(_ context.Context, _, _ string) (*driving.DocumentDetails, error) {
	return nil, m.err
}

func (m *mockDocumentService) Replace(_ context.Context, _, _ string, _ []byte) (*domain.Document, error) {
	return m.document, m.err
}

func (m *mockDocumentService) Delete(_ context.Context, _, _ string) error {
	return m.err
}
