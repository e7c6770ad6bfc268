// Package mcp provides an MCP (Model Context Protocol) server adapter for lectern.
// It lets AI assistants call the document retrieval tools and the agent directly.
package mcp

import "errors"

var (
	// ErrMissingToolService is returned when the tool service is not provided.
	ErrMissingToolService = errors.New("mcp: tool service is required")

	// ErrMissingUser is returned when no user identity is configured.
	ErrMissingUser = errors.New("mcp: user id is required")
)
