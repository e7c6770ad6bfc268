package driven

// PromptStore provides access to LLM prompt templates.
// Implementations may load prompts from files, embed them in the binary,
// or fetch them from a remote configuration service.
type PromptStore interface {
	// Load returns the prompt template for the given name.
	// If the prompt is not found, implementations should return a sensible default
	// or an error, depending on whether the prompt is required.
	Load(name string) (string, error)

	// Reload clears any cached prompts, forcing fresh loads on next access.
	// This is useful when prompts may have been edited on disk.
	Reload()
}

// Well-known prompt names used throughout the application.
// These constants define the contract between prompt consumers and providers.
const (
	// PromptBatchAnalysis analyses one batch of chunks.
	// The template expects %s (previous batch summary) and %s (numbered chunk texts).
	PromptBatchAnalysis = "batch_analysis"

	// PromptHierarchical builds the overview and sections of a document.
	// The template expects %s (title), %s (topics) and %s (chunk summaries).
	PromptHierarchical = "hierarchical_summary"

	// PromptRefine condenses an overview into the aggregate summary.
	// The template expects %d (max length) and %s (overview).
	PromptRefine = "refine_summary"

	// PromptAgentSystem is the system prompt of the conversational agent.
	// The template expects %s (allowed function list) and %d (API call budget).
	PromptAgentSystem = "agent_system"
)
