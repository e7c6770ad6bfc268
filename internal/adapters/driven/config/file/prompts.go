package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/custodia-labs/lectern/internal/core/ports/driven"
)

// Ensure PromptStore implements the interface.
var _ driven.PromptStore = (*PromptStore)(nil)

// PromptStore loads LLM prompts from user-editable files on disk.
// Prompts are loaded from a configurable directory with fallback to embedded defaults.
//
// The store uses lazy initialisation - files are only created when first accessed,
// not in the constructor. This makes testing easier and avoids unexpected I/O.
type PromptStore struct {
	mu        sync.RWMutex
	promptDir string
	cache     map[string]string
	initOnce  sync.Once
	initErr   error
}

// defaultPrompts contains embedded default prompts.
// These are used when user files don't exist and as the initial content for new files.
//
//nolint:lll // Prompt content is intentionally long and should not be wrapped.
var defaultPrompts = map[string]string{
	driven.PromptBatchAnalysis: `You are analysing consecutive sections of a long document.

Summary of the preceding sections:
%s

Sections to analyse:
%s

For every section write a concise summary, up to 8 keywords and up to 3 short topic names.
Then write one merged summary covering the preceding sections and these sections together.

Respond with JSON only, in exactly this shape:
{"chunks": [{"index": 1, "summary": "...", "keywords": ["..."], "topics": ["..."]}], "merged_summary": "...", "keywords": ["..."]}`,

	driven.PromptHierarchical: `Build a structured summary of the document titled "%s".

Topics found during analysis:
%s

Section summaries in document order:
%s

Write a one paragraph overview, up to 15 keywords, and between 3 and 7 sections.
Each section needs a short title and a summary of two to four sentences.

Respond with JSON only, in exactly this shape:
{"overview": "...", "keywords": ["..."], "sections": [{"title": "...", "summary": "..."}]}`,

	driven.PromptRefine: `Condense the following overview into a single summary of at most %d characters.
Keep the research question, the method and the main findings. Return only the summary text.

Overview:
%s`,

	driven.PromptAgentSystem: `You are a research assistant answering questions about one document.
You can call these functions:
%s

You may call at most %d functions for this question. Reply with exactly one JSON object and nothing else.

To call a function:
{"type": "function_call", "function": "<name>", "arguments": {"query": "...", "max_results": 5, "limit": 10}, "partial_answer": "<what you can already say>"}

To answer:
{"type": "final_answer", "main_idea": "...", "evidence": ["..."], "analysis": "..."}

If the message is small talk and not about the document:
{"type": "general_conversation", "response": "..."}

Base every answer on the document. Quote or paraphrase the retrieved text as evidence.`,
}

// NewPromptStore creates a new file-based prompt store.
// If promptDir is empty, defaults to ~/.lectern/prompts/.
//
// The constructor does not perform any I/O - directory creation and
// file writes happen lazily on first Load() call.
func NewPromptStore(promptDir string) (*PromptStore, error) {
	if promptDir == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		promptDir = filepath.Join(dir, "prompts")
	}

	return &PromptStore{
		promptDir: promptDir,
		cache:     make(map[string]string),
	}, nil
}

// Load returns the prompt template for the given name.
// On first call, initialises the prompt directory and creates default files.
// Returns cached value if available, otherwise loads from file.
// Falls back to embedded default if file doesn't exist.
func (s *PromptStore) Load(name string) (string, error) {
	// Ensure directory and defaults exist (lazy init)
	s.initOnce.Do(s.initialise)
	if s.initErr != nil {
		// Fall back to embedded defaults if init failed
		if prompt, ok := defaultPrompts[name]; ok {
			return prompt, nil
		}
		return "", fmt.Errorf("prompt store init failed: %w", s.initErr)
	}

	// Check cache first (read lock)
	s.mu.RLock()
	if prompt, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return prompt, nil
	}
	s.mu.RUnlock()

	// Load from file (no lock held during I/O)
	prompt, err := s.loadFromFile(name)
	if err != nil {
		// Fall back to embedded default
		if defaultPrompt, ok := defaultPrompts[name]; ok {
			return defaultPrompt, nil
		}
		return "", fmt.Errorf("load prompt %q: %w", name, err)
	}

	// Cache the result (write lock)
	// Use double-check pattern to avoid overwriting concurrent loads
	s.mu.Lock()
	if _, ok := s.cache[name]; !ok {
		s.cache[name] = prompt
	} else {
		// Another goroutine loaded it first, use their value
		prompt = s.cache[name]
	}
	s.mu.Unlock()

	return prompt, nil
}

// Reload clears the prompt cache, forcing fresh loads from disk.
func (s *PromptStore) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}

// Dir returns the prompt directory path.
func (s *PromptStore) Dir() string {
	return s.promptDir
}

// initialise creates the prompt directory and default files.
// Called once via sync.Once on first Load().
func (s *PromptStore) initialise() {
	// Create directory
	if err := os.MkdirAll(s.promptDir, 0700); err != nil {
		s.initErr = fmt.Errorf("create prompt directory: %w", err)
		return
	}

	// Create default prompt files (only if they don't exist)
	for name, content := range defaultPrompts {
		path := filepath.Join(s.promptDir, name+".txt")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				s.initErr = fmt.Errorf("create default prompt %q: %w", name, err)
				return
			}
		}
	}

	// Create README
	if err := s.createReadme(); err != nil {
		s.initErr = err
	}
}

// loadFromFile reads a prompt from disk.
func (s *PromptStore) loadFromFile(name string) (string, error) {
	path := filepath.Join(s.promptDir, name+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// createReadme writes a README file explaining the prompts directory.
func (s *PromptStore) createReadme() error {
	path := filepath.Join(s.promptDir, "README.md")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil // Already exists or stat error (ignore)
	}

	content := `# Lectern Prompts

Edit these files to change how documents are analysed and how questions
are answered. Changes are picked up automatically while ` + "`lectern`" + ` runs.

- ` + "`batch_analysis.txt`" + ` - per-batch chunk summaries (%s previous summary, %s sections)
- ` + "`hierarchical_summary.txt`" + ` - overview and sections (%s title, %s topics, %s summaries)
- ` + "`refine_summary.txt`" + ` - aggregate summary (%d max length, %s overview)
- ` + "`agent_system.txt`" + ` - agent instructions (%s functions, %d call budget)

Keep the placeholders in the same order, and keep the JSON shapes the
prompts ask for. Delete a file to restore its default.
`
	return os.WriteFile(path, []byte(content), 0600)
}
