package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/custodia-labs/lectern/internal/cache"
	"github.com/custodia-labs/lectern/internal/core/domain"
	"github.com/custodia-labs/lectern/internal/core/ports/driven"
	"github.com/custodia-labs/lectern/internal/core/ports/driving"
	"github.com/custodia-labs/lectern/internal/logger"
	"github.com/custodia-labs/lectern/internal/normalisers"
	"github.com/custodia-labs/lectern/internal/postprocessors"
	"github.com/custodia-labs/lectern/internal/ratelimit"
	"github.com/custodia-labs/lectern/internal/salvage"
)

// Ensure AnalysisService implements the interface.
var _ driving.AnalysisService = (*AnalysisService)(nil)

const (
	// degradedSummary stands in for a chunk summary when its batch failed
	// and there is no earlier narrative to carry forward.
	degradedSummary = "analysis failed"

	// documentStart replaces the previous summary in the first batch prompt.
	documentStart = "(This is the start of the document.)"

	minSections       = 3
	maxSections       = 7
	maxKeywords       = 15
	sectionSnippetLen = 200
	sectionSummaryLen = 600

	// progressBeforeSummary is the share of progress given to the batches.
	progressBeforeSummary = 90
)

// AnalysisOutcome is the document-level result of a pipeline run.
type AnalysisOutcome struct {
	Chunks       []domain.Chunk
	Summary      string
	Keywords     []string
	Hierarchical *domain.HierarchicalSummary
	Degraded     int
}

// AnalysisService runs the batch analysis pipeline.
type AnalysisService struct {
	docStore    driven.DocumentStore
	gateway     *Gateway
	limiter     *ratelimit.Limiter
	prompts     driven.PromptStore
	pipeline    *postprocessors.Pipeline
	cache       *cache.Service
	settings    domain.PipelineSettings
	defaultTier domain.Tier

	mu      sync.Mutex
	running map[string]struct{}
}

// NewAnalysisService creates a new analysis service.
// The cache is optional; when set, a finished run drops the document's stale
// entries and primes its paper context.
func NewAnalysisService(
	docStore driven.DocumentStore,
	gateway *Gateway,
	limiter *ratelimit.Limiter,
	prompts driven.PromptStore,
	cacheSvc *cache.Service,
	settings domain.PipelineSettings,
	defaultTier domain.Tier,
) *AnalysisService {
	if settings.BatchSize <= 0 {
		settings.BatchSize = domain.DefaultAppSettings().Pipeline.BatchSize
	}
	if !defaultTier.IsValid() {
		defaultTier = domain.TierFree
	}
	return &AnalysisService{
		docStore:    docStore,
		gateway:     gateway,
		limiter:     limiter,
		prompts:     prompts,
		pipeline:    postprocessors.NewDefaultPipeline(settings),
		cache:       cacheSvc,
		settings:    settings,
		defaultTier: defaultTier,
		running:     make(map[string]struct{}),
	}
}

// ChunkAndAnalyze re-chunks a document and runs the pipeline over it.
func (s *AnalysisService) ChunkAndAnalyze(
	ctx context.Context, documentID string, tier domain.Tier, progress driving.ProgressFunc,
) (*domain.HierarchicalSummary, error) {
	if tier == "" {
		tier = s.defaultTier
	}
	if !tier.IsValid() {
		return nil, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidInput, tier)
	}
	if progress == nil {
		progress = func(int) {}
	}

	if !s.claim(documentID) {
		return nil, fmt.Errorf("%w: document %s", domain.ErrAnalysisInProgress, documentID)
	}
	defer s.release(documentID)

	logger.Section("Analysis")
	logger.Debug("Document: %s, tier: %s", documentID, tier)

	doc, err := s.docStore.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	if utf8.RuneCountInString(strings.TrimSpace(doc.Content)) < normalisers.MinReadableLength {
		s.markFailed(ctx, doc.ID)
		return nil, fmt.Errorf("%w: document %s has no readable text", domain.ErrExtractionFailed, doc.ID)
	}

	chunks, err := s.pipeline.Process(ctx, doc)
	if err != nil {
		s.markFailed(ctx, doc.ID)
		return nil, fmt.Errorf("chunking document: %w", err)
	}
	if len(chunks) == 0 {
		s.markFailed(ctx, doc.ID)
		return nil, fmt.Errorf("%w: document %s produced no chunks", domain.ErrExtractionFailed, doc.ID)
	}
	logger.Info("Split %q into %d chunks", doc.Title, len(chunks))

	if err := s.docStore.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return nil, fmt.Errorf("storing chunks: %w", err)
	}
	if err := s.docStore.UpdateProgress(ctx, doc.ID, 0, domain.DocumentStatusProcessing); err != nil {
		return nil, fmt.Errorf("updating progress: %w", err)
	}
	progress(0)

	outcome, err := s.Analyze(ctx, doc, chunks, tier, progress)
	if err != nil {
		s.markFailed(ctx, doc.ID)
		return nil, err
	}

	if err := s.docStore.SaveAnalysis(ctx, doc.ID, outcome.Summary, outcome.Keywords, outcome.Hierarchical); err != nil {
		return nil, fmt.Errorf("saving analysis: %w", err)
	}
	if err := s.docStore.UpdateProgress(ctx, doc.ID, 100, domain.DocumentStatusCompleted); err != nil {
		return nil, fmt.Errorf("updating progress: %w", err)
	}
	if s.cache != nil {
		s.primeCache(ctx, doc.ID)
	}
	progress(100)

	if outcome.Degraded > 0 {
		logger.Warn("document %s: %d of %d chunks analysed in degraded mode", doc.ID, outcome.Degraded, len(chunks))
	}
	return outcome.Hierarchical, nil
}

// primeCache replaces the cached entries of a document with its freshly
// analysed paper context.
func (s *AnalysisService) primeCache(ctx context.Context, documentID string) {
	s.cache.InvalidateDocument(documentID)

	doc, err := s.docStore.GetDocument(ctx, documentID)
	if err != nil {
		logger.With("document", documentID).Warn("paper context not cached", "err", err)
		return
	}
	s.cache.PutPaperContext(domain.NewPaperContext(doc))
}

// claim marks a document as being analysed. It reports false when another
// run already holds it.
func (s *AnalysisService) claim(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.running[documentID]; busy {
		return false
	}
	s.running[documentID] = struct{}{}
	return true
}

func (s *AnalysisService) release(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, documentID)
}

// Analyze folds the batches of chunks into an outcome. Every analysed chunk
// is persisted as soon as its batch completes. Only context cancellation
// and store failures abort the run; model failures degrade it.
func (s *AnalysisService) Analyze(
	ctx context.Context, doc *domain.Document, chunks []domain.Chunk, tier domain.Tier, progress driving.ProgressFunc,
) (*AnalysisOutcome, error) {
	if progress == nil {
		progress = func(int) {}
	}

	pacer := ratelimit.NewPacer(s.limiter.Limits(tier).DelayBetweenChunks)
	outcome := &AnalysisOutcome{Chunks: chunks}
	previous := ""
	lastProgress := 0

	for start, batchIndex := 0, 0; start < len(chunks); start, batchIndex = start+s.settings.BatchSize, batchIndex+1 {
		end := min(start+s.settings.BatchSize, len(chunks))
		batch := chunks[start:end]

		if err := pacer.Wait(ctx); err != nil {
			return nil, err
		}
		if err := s.limiter.Acquire(ctx, tier); err != nil {
			return nil, err
		}
		budget := s.limiter.Snapshot(tier)
		logger.Debug("batch %d: %d of %d requests used in window", batchIndex, budget.RequestCount, budget.Limit)

		result, degraded := s.analyseBatch(ctx, doc.ID, batchIndex, batch, previous)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if degraded {
			outcome.Degraded += len(batch)
		}

		for i, detail := range result.ChunkDetails {
			if err := s.docStore.UpdateChunkAnalysis(ctx, doc.ID, detail); err != nil {
				return nil, fmt.Errorf("storing chunk analysis: %w", err)
			}
			c := &chunks[start+i]
			c.Summary = detail.Summary
			c.Keywords = detail.Keywords
			c.Topics = detail.Topics
		}

		if result.MergedNarrative != "" {
			previous = result.MergedNarrative
		}

		pct := end * progressBeforeSummary / len(chunks)
		if pct > lastProgress {
			lastProgress = pct
			if err := s.docStore.UpdateProgress(ctx, doc.ID, pct, domain.DocumentStatusProcessing); err != nil {
				return nil, fmt.Errorf("updating progress: %w", err)
			}
			progress(pct)
		}
	}

	outcome.Keywords = topKeywords(chunks, maxKeywords)

	if err := s.limiter.Acquire(ctx, tier); err != nil {
		return nil, err
	}
	outcome.Hierarchical = s.buildHierarchy(ctx, doc, chunks, outcome.Keywords)

	if err := s.limiter.Acquire(ctx, tier); err != nil {
		return nil, err
	}
	outcome.Summary = s.refine(ctx, doc.ID, outcome.Hierarchical.Overview)

	return outcome, nil
}

// analyseBatch sends one batch to the model. On failure every chunk of the
// batch gets the degraded summary and the narrative is carried forward.
func (s *AnalysisService) analyseBatch(
	ctx context.Context, documentID string, index int, batch []domain.Chunk, previous string,
) (domain.AnalysisResult, bool) {
	log := logger.With("document", documentID, "batch", index)

	tmpl, err := s.prompts.Load(driven.PromptBatchAnalysis)
	if err != nil {
		log.Warn("batch degraded", "err", err)
		return degradedBatch(batch, previous), true
	}

	prev := previous
	if prev == "" {
		prev = documentStart
	}
	prompt := fmt.Sprintf(tmpl, prev, numberedChunks(batch))

	res, err := s.gateway.GenerateStructured(ctx, prompt)
	if err != nil {
		log.Warn("batch degraded", "err", err)
		return degradedBatch(batch, previous), true
	}
	if !res.OK() {
		log.Warn("batch degraded", "reply", res.Preview)
		return degradedBatch(batch, previous), true
	}

	return parseBatch(res, batch, previous)
}

// parseBatch maps the model's per-chunk entries onto the batch. Entries are
// matched by their 1-based "index" when present, otherwise by order.
// Chunks the model skipped are degraded individually.
func parseBatch(res salvage.Result, batch []domain.Chunk, previous string) (domain.AnalysisResult, bool) {
	entries := make([]gjson.Result, len(batch))
	for i, item := range res.Get("chunks").Array() {
		pos := i
		if idx := item.Get("index"); idx.Exists() && idx.Int() >= 1 && int(idx.Int()) <= len(batch) {
			pos = int(idx.Int()) - 1
		}
		if pos < len(batch) && !entries[pos].Exists() {
			entries[pos] = item
		}
	}

	// A bare single-chunk reply without the "chunks" array.
	if len(batch) == 1 && !entries[0].Exists() && res.Has("summary") {
		entries[0] = res.Get("@this")
	}

	fallback := previous
	if fallback == "" {
		fallback = degradedSummary
	}

	result := domain.AnalysisResult{MergedNarrative: res.String("merged_summary")}
	degraded := false
	for i, c := range batch {
		detail := domain.ChunkAnalysis{ChunkID: c.ID}
		if e := entries[i]; e.Exists() {
			detail.Summary = strings.TrimSpace(e.Get("summary").String())
			detail.Keywords = gjsonStrings(e.Get("keywords"))
			detail.Topics = gjsonStrings(e.Get("topics"))
		}
		if detail.Summary == "" {
			detail.Summary = fallback
			detail.Degraded = true
			degraded = true
		}
		result.Summaries = append(result.Summaries, detail.Summary)
		result.ChunkDetails = append(result.ChunkDetails, detail)
	}

	result.Keywords = dedupe(append(res.Strings("keywords"), flattenKeywords(result.ChunkDetails)...))
	if result.MergedNarrative == "" {
		result.MergedNarrative = strings.Join(result.Summaries, " ")
	}
	return result, degraded
}

func degradedBatch(batch []domain.Chunk, previous string) domain.AnalysisResult {
	summary := previous
	if summary == "" {
		summary = degradedSummary
	}
	result := domain.AnalysisResult{MergedNarrative: previous}
	for _, c := range batch {
		result.Summaries = append(result.Summaries, summary)
		result.ChunkDetails = append(result.ChunkDetails, domain.ChunkAnalysis{
			ChunkID:  c.ID,
			Summary:  summary,
			Keywords: []string{},
			Degraded: true,
		})
	}
	return result
}

// buildHierarchy asks for the overview and sections, reconstructing them
// from chunk topics and summaries when the reply is unusable.
func (s *AnalysisService) buildHierarchy(
	ctx context.Context, doc *domain.Document, chunks []domain.Chunk, keywords []string,
) *domain.HierarchicalSummary {
	tmpl, err := s.prompts.Load(driven.PromptHierarchical)
	if err == nil {
		prompt := fmt.Sprintf(tmpl, doc.Title, strings.Join(collectTopics(chunks), ", "), chunkSummaries(chunks))
		var res salvage.Result
		res, err = s.gateway.GenerateStructured(ctx, prompt)
		if err == nil {
			if h, ok := parseHierarchy(res, keywords); ok {
				return h
			}
			logger.Warn("document %s: unusable hierarchical summary: %q", doc.ID, res.Preview)
		}
	}
	if err != nil {
		logger.Warn("document %s: hierarchical summary: %v", doc.ID, err)
	}
	return s.fallbackHierarchy(doc, chunks, keywords)
}

func parseHierarchy(res salvage.Result, keywords []string) (*domain.HierarchicalSummary, bool) {
	if !res.OK() {
		return nil, false
	}
	overview := strings.TrimSpace(res.String("overview"))
	if overview == "" {
		return nil, false
	}

	var sections []domain.Section
	for _, item := range res.Get("sections").Array() {
		title := strings.TrimSpace(item.Get("title").String())
		summary := strings.TrimSpace(item.Get("summary").String())
		if title == "" || summary == "" {
			continue
		}
		sections = append(sections, domain.Section{Title: title, Summary: summary})
	}
	if len(sections) < minSections {
		return nil, false
	}
	if len(sections) > maxSections {
		sections = sections[:maxSections]
	}

	kw := dedupe(res.Strings("keywords"))
	if len(kw) == 0 {
		kw = keywords
	}
	if len(kw) > maxKeywords {
		kw = kw[:maxKeywords]
	}

	return &domain.HierarchicalSummary{Overview: overview, Keywords: kw, Sections: sections}, true
}

// fallbackHierarchy groups chunks by their first topic. With fewer than
// three topics the document is cut into contiguous parts instead.
func (s *AnalysisService) fallbackHierarchy(
	doc *domain.Document, chunks []domain.Chunk, keywords []string,
) *domain.HierarchicalSummary {
	var (
		order  []string
		groups = make(map[string][]domain.Chunk)
	)
	for _, c := range chunks {
		if len(c.Topics) == 0 {
			continue
		}
		topic := strings.TrimSpace(c.Topics[0])
		if topic == "" {
			continue
		}
		if _, ok := groups[topic]; !ok {
			order = append(order, topic)
		}
		groups[topic] = append(groups[topic], c)
	}

	var sections []domain.Section
	if len(order) >= minSections {
		for _, topic := range order[:min(len(order), maxSections)] {
			sections = append(sections, domain.Section{Title: topic, Summary: joinSummaries(groups[topic])})
		}
	} else {
		parts := min(minSections, len(chunks))
		for p := 0; p < parts; p++ {
			from := p * len(chunks) / parts
			to := (p + 1) * len(chunks) / parts
			sections = append(sections, domain.Section{
				Title:   fmt.Sprintf("Part %d", p+1),
				Summary: joinSummaries(chunks[from:to]),
			})
		}
	}

	overview := doc.Abstract
	if overview == "" {
		overview = truncate(joinSummaries(chunks), s.settings.SummaryMaxLength)
	}
	if overview == "" {
		overview = truncate(strings.Join(strings.Fields(doc.Content), " "), s.settings.SummaryMaxLength)
	}
	if overview == "" {
		overview = doc.Title
	}

	return &domain.HierarchicalSummary{Overview: overview, Keywords: keywords, Sections: sections}
}

// refine condenses the overview, truncating it when the model fails.
func (s *AnalysisService) refine(ctx context.Context, documentID, overview string) string {
	limit := s.settings.SummaryMaxLength

	tmpl, err := s.prompts.Load(driven.PromptRefine)
	if err == nil {
		var text string
		text, err = s.gateway.Generate(ctx, fmt.Sprintf(tmpl, limit, overview))
		if err == nil {
			return truncate(text, limit)
		}
	}
	logger.Warn("document %s: refine summary: %v", documentID, err)
	return truncate(overview, limit)
}

func (s *AnalysisService) markFailed(ctx context.Context, documentID string) {
	err := s.docStore.UpdateProgress(context.WithoutCancel(ctx), documentID, 0, domain.DocumentStatusFailed)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Warn("document %s: marking failed: %v", documentID, err)
	}
}

func numberedChunks(batch []domain.Chunk) string {
	var b strings.Builder
	for i, c := range batch {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Section %d]\n%s", i+1, c.Content)
	}
	return b.String()
}

func chunkSummaries(chunks []domain.Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if c.Summary == "" || c.Summary == degradedSummary {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Summary)
	}
	return strings.TrimSpace(b.String())
}

func collectTopics(chunks []domain.Chunk) []string {
	var topics []string
	for _, c := range chunks {
		topics = append(topics, c.Topics...)
	}
	return dedupe(topics)
}

// joinSummaries concatenates distinct, truncated chunk summaries.
func joinSummaries(chunks []domain.Chunk) string {
	var parts []string
	seen := make(map[string]struct{})
	for _, c := range chunks {
		summary := strings.TrimSpace(c.Summary)
		if summary == "" || summary == degradedSummary {
			continue
		}
		if _, ok := seen[summary]; ok {
			continue
		}
		seen[summary] = struct{}{}
		parts = append(parts, truncate(summary, sectionSnippetLen))
	}
	if len(parts) == 0 {
		return degradedSummary
	}
	return truncate(strings.Join(parts, " "), sectionSummaryLen)
}

// topKeywords ranks chunk keywords by frequency, ties broken by first appearance.
func topKeywords(chunks []domain.Chunk, n int) []string {
	counts := make(map[string]int)
	first := make(map[string]int)
	display := make(map[string]string)
	for _, c := range chunks {
		for _, kw := range c.Keywords {
			kw = strings.TrimSpace(kw)
			key := strings.ToLower(kw)
			if key == "" {
				continue
			}
			if _, ok := counts[key]; !ok {
				first[key] = len(first)
				display[key] = kw
			}
			counts[key]++
		}
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return first[keys[i]] < first[keys[j]]
	})

	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = display[k]
	}
	return out
}

func flattenKeywords(details []domain.ChunkAnalysis) []string {
	var out []string
	for _, d := range details {
		out = append(out, d.Keywords...)
	}
	return out
}

func gjsonStrings(v gjson.Result) []string {
	out := []string{}
	if !v.IsArray() {
		if s := strings.TrimSpace(v.String()); s != "" && v.Type == gjson.String {
			out = append(out, s)
		}
		return out
	}
	for _, item := range v.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// dedupe keeps the first occurrence of each case-insensitive value.
func dedupe(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// truncate cuts text to at most n runes including the trailing ellipsis,
// preferring a word boundary.
func truncate(text string, n int) string {
	text = strings.TrimSpace(text)
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	cut := string([]rune(text)[:max(n-1, 1)])
	if i := strings.LastIndexAny(cut, " \n\t"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "…"
}
