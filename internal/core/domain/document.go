package domain

import "time"

// DocumentStatus tracks where a document is in the analysis lifecycle.
type DocumentStatus string

// Document lifecycle states.
const (
	// DocumentStatusPending means text was extracted but not yet analysed.
	DocumentStatusPending DocumentStatus = "pending"

	// DocumentStatusProcessing means the batch pipeline is running.
	DocumentStatusProcessing DocumentStatus = "processing"

	// DocumentStatusCompleted means the pipeline finished (possibly degraded).
	DocumentStatusCompleted DocumentStatus = "completed"

	// DocumentStatusFailed means the run was aborted (e.g. extraction failure).
	DocumentStatusFailed DocumentStatus = "failed"
)

// String returns the string representation.
func (s DocumentStatus) String() string {
	return string(s)
}

// Document represents an uploaded document with its derived analysis.
// Content is immutable once extracted; the pipeline only appends
// the summary, keyword and hierarchical fields.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// OwnerID is the user that uploaded the document.
	OwnerID string

	// URI is the original location (file path, URL, etc).
	URI string

	// Title is the human-readable title.
	Title string

	// Abstract is the abstract section when one could be located.
	Abstract string

	// Content is the full normalised text.
	Content string

	// Keywords are the aggregated keywords of the latest analysis.
	Keywords []string

	// Summary is the refined aggregate summary of the latest analysis.
	Summary string

	// Hierarchical is the latest hierarchical summary, nil before analysis.
	Hierarchical *HierarchicalSummary

	// Progress is the analysis progress percentage (0-100).
	Progress int

	// Status is the lifecycle state.
	Status DocumentStatus

	// Metadata contains arbitrary key-value pairs.
	Metadata map[string]any

	// CreatedAt is when the document was first stored.
	CreatedAt time.Time

	// UpdatedAt is when the document was last updated.
	UpdatedAt time.Time
}

// OwnedBy reports whether the document belongs to the given user.
func (d *Document) OwnedBy(userID string) bool {
	return d != nil && d.OwnerID == userID
}

// Chunk represents an analysable unit within a document.
// Chunks are ordered; Position is significant because batch prompts
// carry the previous batch's narrative forward.
type Chunk struct {
	// ID is the unique identifier for the chunk.
	ID string

	// DocumentID links to the parent Document.
	DocumentID string

	// Position is the ordinal position within the document.
	Position int

	// Content is the text content of this chunk.
	Content string

	// Summary is the LLM summary, empty until the chunk's batch completes.
	Summary string

	// Keywords are the LLM-extracted keywords.
	Keywords []string

	// Topics are the LLM-extracted topic names used by the hierarchical pass.
	Topics []string

	// StartPage is the first source page, when known.
	StartPage *int

	// EndPage is the last source page, when known.
	EndPage *int

	// Embedding is reserved for semantic retrieval and is never populated.
	Embedding []float32

	// Metadata contains chunk-specific key-value pairs.
	Metadata map[string]any
}

// IsAnalysed reports whether the chunk has received a summary.
func (c Chunk) IsAnalysed() bool {
	return c.Summary != ""
}

// ChunkAnalysis is the per-chunk output written back to the store.
type ChunkAnalysis struct {
	ChunkID  string
	Summary  string
	Keywords []string
	Topics   []string
	Degraded bool
}

// Section is one named part of a hierarchical summary.
type Section struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// HierarchicalSummary is the two-level summary of a document.
// It is replaced wholesale on every pipeline run.
type HierarchicalSummary struct {
	Overview string    `json:"overview"`
	Keywords []string  `json:"keywords"`
	Sections []Section `json:"sections"`
}

// AnalysisResult is the ephemeral output of one batch.
type AnalysisResult struct {
	// Summaries holds one summary per chunk in the batch, in order.
	Summaries []string

	// MergedNarrative is the batch-level summary passed to the next batch.
	MergedNarrative string

	// Keywords is the union of the batch's chunk keywords.
	Keywords []string

	// ChunkDetails holds the per-chunk analysis in order.
	ChunkDetails []ChunkAnalysis
}

// PaperContext is the cached view returned by the paper details tool.
type PaperContext struct {
	DocumentID   string               `json:"document_id"`
	OwnerID      string               `json:"-"`
	Title        string               `json:"title"`
	Abstract     string               `json:"abstract"`
	Keywords     []string             `json:"keywords"`
	Summary      string               `json:"summary"`
	Hierarchical *HierarchicalSummary `json:"hierarchical_summary,omitempty"`
}

// NewPaperContext builds the tool view of a document.
func NewPaperContext(doc *Document) PaperContext {
	return PaperContext{
		DocumentID:   doc.ID,
		OwnerID:      doc.OwnerID,
		Title:        doc.Title,
		Abstract:     doc.Abstract,
		Keywords:     doc.Keywords,
		Summary:      doc.Summary,
		Hierarchical: doc.Hierarchical,
	}
}

// RawDocument is uploaded content before text extraction.
type RawDocument struct {
	// OwnerID is the uploading user.
	OwnerID string

	// URI is the file path or URL the content came from.
	URI string

	// MIMEType selects the normaliser.
	MIMEType string

	// Title overrides the extracted title when set.
	Title string

	// Content is the raw bytes.
	Content []byte

	// Metadata contains caller-supplied key-value pairs.
	Metadata map[string]any
}
