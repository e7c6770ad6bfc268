package mcp

import (
	"github.com/custodia-labs/lectern/internal/core/ports/driving"
)

// Ports aggregates the driving ports the MCP server needs.
type Ports struct {
	// Tools executes the retrieval tools.
	Tools driving.ToolService

	// Chat runs full agent sessions. Optional; the ask tool is only
	// registered when set.
	Chat driving.ChatService

	// Document lists the user's documents for the resources. Optional.
	Document driving.DocumentService

	// UserID is the identity every call is made as.
	UserID string
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Tools == nil {
		return ErrMissingToolService
	}
	if p.UserID == "" {
		return ErrMissingUser
	}
	return nil
}
