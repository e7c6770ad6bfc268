// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - DocumentStore: Document and chunk persistence, full-text chunk search
//   - ChatStore: Append-only chat message ledger
//   - LLMService: Text completion (primary model)
//   - ConfigStore: Application configuration
//   - PostProcessor: Splits document content into chunks
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - Fallback LLMService: Tried after the primary model fails.
//   - PromptStore: User-editable prompts. Without it, embedded defaults are used.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or normaliser package
package driven
