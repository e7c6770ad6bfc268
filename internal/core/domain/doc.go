// Package domain defines the core business entities for Lectern.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: An uploaded document and its derived analysis fields
//   - Chunk: A bounded segment of a document, the unit of LLM analysis
//   - HierarchicalSummary: Overview plus named sections for a document
//   - Tier: A service level that selects the rate budget
//   - ChatMessage: A persisted conversation turn
//   - AgentSession: Per-question state of the conversational agent
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
