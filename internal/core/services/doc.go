// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// The analysis pipeline and the agent loop both talk to models through
// Gateway, which adds the fallback model and output salvaging. Retrieval
// goes through ToolsService so that ownership checks and caching apply
// to the agent and to direct callers alike.
package services
