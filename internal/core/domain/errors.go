package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist or is not
	// owned by the requesting user.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrLLMUnavailable indicates the LLM service is not configured.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// Pipeline Errors.

	// ErrExtractionFailed indicates the source text is empty or unreadable.
	// It is fatal to a pipeline run and no chunks are created.
	ErrExtractionFailed = errors.New("text extraction failed")

	// ErrGenerationFailed indicates both the primary and the fallback model
	// calls failed. Callers recover locally with degraded content.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrParseFailed indicates model output could not be parsed as JSON.
	// It never escapes the model gateway; it is carried on fallback objects.
	ErrParseFailed = errors.New("parse failed")

	// ErrAnalysisInProgress indicates a pipeline run is already active for
	// the document. Only one run may write a document at a time.
	ErrAnalysisInProgress = errors.New("analysis already in progress")

	// Agent Errors.

	// ErrUnknownTool indicates the model requested a function outside the allow-list.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrSessionExhausted indicates the agent ran out of turns or API calls.
	// It is recorded on the answer metadata and never returned to callers.
	ErrSessionExhausted = errors.New("session exhausted")
)
