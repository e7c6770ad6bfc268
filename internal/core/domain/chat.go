package domain

import "time"

// Role identifies the author of a chat message.
type Role string

// Chat roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// String returns the string representation.
func (r Role) String() string {
	return string(r)
}

// ChatMessage is a persisted conversation turn. Messages are append-only
// and ordered by creation time.
type ChatMessage struct {
	ID         string
	DocumentID string
	UserID     string
	Role       Role
	Content    string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// ToolName identifies one of the retrieval tools the agent may call.
type ToolName string

// The closed allow-list of tools.
const (
	ToolPaperDetails    ToolName = "getPaperDetails"
	ToolSearchKnowledge ToolName = "searchKnowledgeBase"
	ToolChatHistory     ToolName = "getChatHistory"
)

// AllTools returns the allow-list in a stable order.
func AllTools() []ToolName {
	return []ToolName{ToolPaperDetails, ToolSearchKnowledge, ToolChatHistory}
}

// IsAllowed reports whether the name is on the allow-list.
func (n ToolName) IsAllowed() bool {
	switch n {
	case ToolPaperDetails, ToolSearchKnowledge, ToolChatHistory:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (n ToolName) String() string {
	return string(n)
}

// Termination records why an agent session stopped.
type Termination string

// Session outcomes.
const (
	TerminationGeneral     Termination = "general_conversation"
	TerminationFinalAnswer Termination = "final_answer"
	TerminationCallBudget  Termination = "api_call_budget"
	TerminationMaxTurns    Termination = "max_turns"
	TerminationGeneration  Termination = "generation_failure"
)

// AgentSession is the per-question state of the conversational agent.
// It is created for one question and discarded once the answer is persisted.
type AgentSession struct {
	DocumentID    string
	UserID        string
	History       []ChatTurn
	UsedFunctions map[ToolName]struct{}
	APICallsMade  int
	Turn          int
	Termination   Termination
}

// NewAgentSession creates an empty session.
func NewAgentSession(documentID, userID string) *AgentSession {
	return &AgentSession{
		DocumentID:    documentID,
		UserID:        userID,
		UsedFunctions: make(map[ToolName]struct{}),
	}
}

// Append adds a turn to the message history.
func (s *AgentSession) Append(role Role, content string) {
	s.History = append(s.History, ChatTurn{Role: role, Content: content})
}

// RecordCall marks a tool as used and counts the call.
func (s *AgentSession) RecordCall(name ToolName) {
	s.UsedFunctions[name] = struct{}{}
	s.APICallsMade++
}

// Used returns the names of the tools called so far, in allow-list order.
func (s *AgentSession) Used() []string {
	used := make([]string, 0, len(s.UsedFunctions))
	for _, name := range AllTools() {
		if _, ok := s.UsedFunctions[name]; ok {
			used = append(used, name.String())
		}
	}
	return used
}

// ChatTurn is one entry of the in-memory message history sent to the model.
type ChatTurn struct {
	Role    Role
	Content string
}
