package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lectern/internal/core/ports/driven"
)

func TestPromptStore_ImplementsInterface(t *testing.T) {
	var _ driven.PromptStore = (*PromptStore)(nil)
}

func TestNewPromptStore_WithCustomDir(t *testing.T) {
	dir := t.TempDir()

	store, err := NewPromptStore(dir)

	require.NoError(t, err)
	assert.Equal(t, dir, store.Dir())
}

func TestNewPromptStore_DefaultDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	store, err := NewPromptStore("")

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".lectern", "prompts"), store.Dir())
}

func TestPromptStore_Load_CreatesDefaultFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	_, err = store.Load(driven.PromptBatchAnalysis)
	require.NoError(t, err)

	for _, f := range []string{
		"batch_analysis.txt",
		"hierarchical_summary.txt",
		"refine_summary.txt",
		"agent_system.txt",
		"README.md",
	} {
		assert.FileExists(t, filepath.Join(dir, f))
	}
}

// Every default must accept the arguments its callers format it with.
func TestDefaultPrompts_Placeholders(t *testing.T) {
	tests := []struct {
		name string
		args []any
	}{
		{driven.PromptBatchAnalysis, []any{"previous", "sections"}},
		{driven.PromptHierarchical, []any{"title", "topics", "summaries"}},
		{driven.PromptRefine, []any{1200, "overview"}},
		{driven.PromptAgentSystem, []any{"- getPaperDetails", 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := fmt.Sprintf(defaultPrompts[tt.name], tt.args...)
			assert.NotContains(t, out, "%!")
			for _, arg := range tt.args {
				assert.Contains(t, out, fmt.Sprint(arg))
			}
		})
	}
}

func TestPromptStore_Load_ReturnsCustomContent(t *testing.T) {
	dir := t.TempDir()
	customContent := "Summarise %s then %s"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "batch_analysis.txt"), []byte(customContent), 0600))

	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	prompt, err := store.Load(driven.PromptBatchAnalysis)

	require.NoError(t, err)
	assert.Equal(t, customContent, prompt)
}

func TestPromptStore_Load_FallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	_, _ = store.Load(driven.PromptRefine)
	require.NoError(t, os.Remove(filepath.Join(dir, "refine_summary.txt")))
	store.Reload()

	prompt, err := store.Load(driven.PromptRefine)

	require.NoError(t, err)
	assert.Equal(t, defaultPrompts[driven.PromptRefine], prompt)
}

func TestPromptStore_Load_UnknownPrompt(t *testing.T) {
	store, err := NewPromptStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("nonexistent_prompt")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent_prompt")
}

func TestPromptStore_CacheAndReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	first, err := store.Load(driven.PromptAgentSystem)
	require.NoError(t, err)

	modified := "modified %s %d"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent_system.txt"), []byte(modified), 0600))

	cached, err := store.Load(driven.PromptAgentSystem)
	require.NoError(t, err)
	assert.Equal(t, first, cached)

	store.Reload()

	fresh, err := store.Load(driven.PromptAgentSystem)
	require.NoError(t, err)
	assert.Equal(t, modified, fresh)
}

func TestPromptStore_Watch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Watch(ctx))

	_, err = store.Load(driven.PromptRefine)
	require.NoError(t, err)

	edited := "edited %d %s"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refine_summary.txt"), []byte(edited), 0600))

	assert.Eventually(t, func() bool {
		prompt, err := store.Load(driven.PromptRefine)
		return err == nil && prompt == edited
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPromptStore_Watch_MissingDirectory(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	store, err := NewPromptStore(filepath.Join(blocker, "prompts"))
	require.NoError(t, err)

	assert.Error(t, store.Watch(context.Background()))
}

func TestPromptStore_Load_ConcurrentAccess(t *testing.T) {
	store, err := NewPromptStore(t.TempDir())
	require.NoError(t, err)

	const goroutines = 50
	var wg sync.WaitGroup
	results := make(chan string, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prompt, err := store.Load(driven.PromptHierarchical)
			if err == nil {
				results <- prompt
			}
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for prompt := range results {
		assert.Equal(t, strings.TrimSpace(defaultPrompts[driven.PromptHierarchical]), prompt)
		count++
	}
	assert.Equal(t, goroutines, count)
}

func TestPromptStore_DoesNotOverwriteExistingFiles(t *testing.T) {
	dir := t.TempDir()
	customContent := "pre-existing custom prompt"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent_system.txt"), []byte(customContent), 0600))

	store, err := NewPromptStore(dir)
	require.NoError(t, err)
	_, _ = store.Load(driven.PromptRefine)

	data, err := os.ReadFile(filepath.Join(dir, "agent_system.txt"))
	require.NoError(t, err)
	assert.Equal(t, customContent, string(data))
}

func TestPromptStore_TrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "refine_summary.txt"), []byte("\n\n  prompt content  \n\n"), 0600))

	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	prompt, err := store.Load(driven.PromptRefine)
	require.NoError(t, err)
	assert.Equal(t, "prompt content", prompt)
}
