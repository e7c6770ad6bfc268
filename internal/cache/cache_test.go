package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/lectern/internal/core/domain"
)

func chunks(n int) []domain.Chunk {
	out := make([]domain.Chunk, n)
	for i := range out {
		out[i] = domain.Chunk{ID: string(rune('a' + i)), Position: i}
	}
	return out
}

func TestPaperContext_LoadsOnce(t *testing.T) {
	c := New(0, 0)
	ctx := context.Background()
	var calls int

	load := func(context.Context) (domain.PaperContext, error) {
		calls++
		return domain.PaperContext{DocumentID: "doc-1", Title: "Paper"}, nil
	}

	first, err := c.PaperContext(ctx, "doc-1", load)
	require.NoError(t, err)
	second, err := c.PaperContext(ctx, "doc-1", load)
	require.NoError(t, err)

	assert.Equal(t, "Paper", first.Title)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestPaperContext_ErrorNotCached(t *testing.T) {
	c := New(0, 0)
	ctx := context.Background()

	_, err := c.PaperContext(ctx, "doc-1", func(context.Context) (domain.PaperContext, error) {
		return domain.PaperContext{}, domain.ErrNotFound
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pc, err := c.PaperContext(ctx, "doc-1", func(context.Context) (domain.PaperContext, error) {
		return domain.PaperContext{DocumentID: "doc-1"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-1", pc.DocumentID)
}

func TestPaperContext_ConcurrentMissesCollapse(t *testing.T) {
	c := New(0, 0)
	var calls atomic.Int32
	release := make(chan struct{})

	load := func(context.Context) (domain.PaperContext, error) {
		calls.Add(1)
		<-release
		return domain.PaperContext{DocumentID: "doc-1"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.PaperContext(context.Background(), "doc-1", load)
			assert.NoError(t, err)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestSearch_HitRequiresEnoughResults(t *testing.T) {
	c := New(0, 0)
	ctx := context.Background()
	var calls int

	load := func(context.Context) ([]domain.Chunk, domain.SearchStage, error) {
		calls++
		return chunks(3), domain.SearchStageFullText, nil
	}

	got, stage, err := c.Search(ctx, "doc-1", "Attention  Heads", 3, load)
	require.NoError(t, err)
	assert.Equal(t, domain.SearchStageFullText, stage)
	assert.Len(t, got, 3)

	got, stage, err = c.Search(ctx, "doc-1", "attention heads", 2, load)
	require.NoError(t, err)
	assert.Equal(t, domain.SearchStageCached, stage, "normalised query with fewer requested results is a hit")
	assert.Len(t, got, 2)

	_, stage, err = c.Search(ctx, "doc-1", "attention heads", 5, load)
	require.NoError(t, err)
	assert.Equal(t, domain.SearchStageFullText, stage, "asking for more than cached is a miss")

	assert.Equal(t, 2, calls)
}

func TestSearch_SharedLoadReportsLoaderStage(t *testing.T) {
	c := New(0, 0)
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	load := func(context.Context) ([]domain.Chunk, domain.SearchStage, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return chunks(2), domain.SearchStageAllTerms, nil
	}

	stages := make(chan domain.SearchStage, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, stage, err := c.Search(ctx, "doc-1", "heads", 2, load)
			assert.NoError(t, err)
			stages <- stage
		}()
		if i == 0 {
			<-started
		}
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(stages)

	for stage := range stages {
		assert.Equal(t, domain.SearchStageAllTerms, stage)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearch_LoadError(t *testing.T) {
	c := New(0, 0)
	boom := errors.New("boom")

	_, _, err := c.Search(context.Background(), "doc-1", "q", 1,
		func(context.Context) ([]domain.Chunk, domain.SearchStage, error) {
			return nil, "", boom
		})

	assert.ErrorIs(t, err, boom)
	_, searches, _ := c.Stats()
	assert.Zero(t, searches)
}

func TestInvalidateDocument(t *testing.T) {
	c := New(0, 0)
	ctx := context.Background()
	load := func(context.Context) ([]domain.Chunk, domain.SearchStage, error) {
		return chunks(1), domain.SearchStageAnchor, nil
	}

	c.PutPaperContext(domain.PaperContext{DocumentID: "doc-1"})
	c.PutPaperContext(domain.PaperContext{DocumentID: "doc-2"})
	_, _, _ = c.Search(ctx, "doc-1", "alpha", 1, load)
	_, _, _ = c.Search(ctx, "doc-1", "beta", 1, load)
	_, _, _ = c.Search(ctx, "doc-2", "alpha", 1, load)
	c.SessionPut("alice", "doc-1", domain.ToolPaperDetails, "x")

	c.InvalidateDocument("doc-1")

	papers, searches, sessions := c.Stats()
	assert.Equal(t, 1, papers)
	assert.Equal(t, 1, searches)
	assert.Equal(t, 1, sessions)

	_, stage, _ := c.Search(ctx, "doc-2", "alpha", 1, load)
	assert.Equal(t, domain.SearchStageCached, stage)
}

func TestSession(t *testing.T) {
	c := New(0, 0)

	_, ok := c.SessionGet("alice", "doc-1", domain.ToolSearchKnowledge)
	assert.False(t, ok)

	c.SessionPut("alice", "doc-1", domain.ToolSearchKnowledge, "first")
	c.SessionPut("alice", "doc-1", domain.ToolSearchKnowledge, "second")
	c.SessionPut("bob", "doc-1", domain.ToolSearchKnowledge, "other")

	v, ok := c.SessionGet("alice", "doc-1", domain.ToolSearchKnowledge)
	require.True(t, ok)
	assert.Equal(t, "second", v, "last writer wins")

	c.ClearSession("alice", "doc-1")
	_, ok = c.SessionGet("alice", "doc-1", domain.ToolSearchKnowledge)
	assert.False(t, ok)

	v, ok = c.SessionGet("bob", "doc-1", domain.ToolSearchKnowledge)
	require.True(t, ok)
	assert.Equal(t, "other", v)
}

func TestTTLExpiry(t *testing.T) {
	c := New(0, 30*time.Millisecond)
	c.PutPaperContext(domain.PaperContext{DocumentID: "doc-1"})

	assert.Eventually(t, func() bool {
		papers, _, _ := c.Stats()
		return papers == 0
	}, time.Second, 10*time.Millisecond)
}

func TestMaxEntries(t *testing.T) {
	c := NewFromSettings(domain.CacheSettings{MaxEntries: 2})
	for _, id := range []string{"a", "b", "c"} {
		c.PutPaperContext(domain.PaperContext{DocumentID: id})
	}

	papers, _, _ := c.Stats()
	assert.Equal(t, 2, papers)
}
