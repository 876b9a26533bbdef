// Package orchestrator drives the ingest pipeline: one tick fetches every
// active source, deduplicates, enriches via the LLM, stores atomically, and
// hands new priority items to the notifier.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nickpending/prismis-sub000/internal/config"
	"github.com/nickpending/prismis-sub000/internal/fetcher"
	"github.com/nickpending/prismis-sub000/internal/llm"
	"github.com/nickpending/prismis-sub000/internal/model"
	"github.com/nickpending/prismis-sub000/internal/notify"
	"github.com/nickpending/prismis-sub000/internal/observability"
	"github.com/nickpending/prismis-sub000/internal/storage"
	"github.com/nickpending/prismis-sub000/internal/usercontext"
)

const (
	// fileLLMSkipBytes: file baselines larger than this skip LLM analysis
	// and are stored raw. The embedding is still generated.
	fileLLMSkipBytes = 50000

	// Learned-preference gating: at least feedbackThreshold flags within
	// feedbackWindow enable the learned-interests context section.
	feedbackThreshold = 5
	feedbackWindow    = 30 * 24 * time.Hour
	feedbackTitles    = 20
)

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	store     *storage.Storage
	fetchers  *fetcher.Registry
	analyzer  *llm.Analyzer
	evaluator *llm.Evaluator
	embedder  *llm.Embedder // nil disables embedding
	contexts  *usercontext.Store
	notifier  *notify.Notifier
	archival  config.Archival
	logger    *slog.Logger
}

// New assembles the orchestrator.
func New(store *storage.Storage, fetchers *fetcher.Registry, analyzer *llm.Analyzer,
	evaluator *llm.Evaluator, embedder *llm.Embedder, contexts *usercontext.Store,
	notifier *notify.Notifier, archival config.Archival, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		fetchers:  fetchers,
		analyzer:  analyzer,
		evaluator: evaluator,
		embedder:  embedder,
		contexts:  contexts,
		notifier:  notifier,
		archival:  archival,
		logger:    logger,
	}
}

// RunOnce executes one tick across all active sources. Per-item failures
// are recorded in the stats and never abort the run; per-source failures
// abort that source only.
func (o *Orchestrator) RunOnce(ctx context.Context, forceRefetch bool) (model.TickStats, error) {
	start := time.Now()
	var stats model.TickStats

	sources, err := o.store.ListSources(ctx, true)
	if err != nil {
		return stats, err
	}
	stats.Sources = len(sources)

	userContext, err := o.evaluationContext(ctx)
	if err != nil {
		// A missing or unreadable context document degrades evaluation, it
		// does not stop ingestion.
		o.logger.Warn("loading user context failed", "error", err)
		userContext = usercontext.DefaultDocument
	}

	var newHighPriority []model.ContentItem
	for _, src := range sources {
		high, err := o.processSource(ctx, src, forceRefetch, userContext, &stats)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("source %s: %v", src.Name, err))
			deactivated, recErr := o.store.RecordFetchError(ctx, src.ID, err.Error())
			if recErr != nil {
				o.logger.Error("recording fetch error failed", "source", src.Name, "error", recErr)
			}
			if deactivated {
				o.logger.Warn("source deactivated after repeated failures", "source", src.Name, "url", src.URL)
				observability.Emit("source.deactivated", map[string]any{
					"source_id": src.ID.String(),
					"url":       src.URL,
				})
			}
			continue
		}
		newHighPriority = append(newHighPriority, high...)
		if err := o.store.RecordFetchSuccess(ctx, src.ID); err != nil {
			o.logger.Error("recording fetch success failed", "source", src.Name, "error", err)
		}
	}

	if o.notifier != nil {
		o.notifier.Notify(ctx, newHighPriority)
	}

	stats.Duration = time.Since(start)
	observability.Emit("daemon.cycle.complete", map[string]any{
		"sources":       stats.Sources,
		"fetched":       stats.Fetched,
		"new":           stats.New,
		"updated":       stats.Updated,
		"high_priority": stats.HighPriority,
		"errors":        len(stats.Errors),
		"duration_ms":   stats.Duration.Milliseconds(),
	})
	o.logger.Info("tick complete",
		"sources", stats.Sources, "fetched", stats.Fetched, "new", stats.New,
		"high_priority", stats.HighPriority, "errors", len(stats.Errors),
		"duration", stats.Duration)
	return stats, nil
}

// processSource runs the fetch-dedup-enrich-store pipeline for one source
// and returns the new high-priority items.
func (o *Orchestrator) processSource(ctx context.Context, src model.Source, forceRefetch bool,
	userContext string, stats *model.TickStats) ([]model.ContentItem, error) {

	items, err := o.fetchers.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	stats.Fetched += len(items)

	if !forceRefetch {
		existing, err := o.store.ExistingExternalIDs(ctx, src.ID)
		if err != nil {
			return nil, err
		}
		fresh := items[:0:0]
		for _, item := range items {
			if _, seen := existing[item.ExternalID]; !seen {
				fresh = append(fresh, item)
			}
		}
		items = fresh
	}

	var newHighPriority []model.ContentItem
	for _, item := range items {
		stored, isNew, err := o.processItem(ctx, src, item, userContext)
		if err != nil {
			stats.Errors = append(stats.Errors, fmt.Sprintf("item %q: %v", item.Title, err))
			o.logger.Warn("item failed", "source", src.Name, "title", item.Title, "error", err)
			continue
		}
		if isNew {
			stats.New++
			if stored.Priority == model.PriorityHigh {
				stats.HighPriority++
				newHighPriority = append(newHighPriority, stored)
			}
		} else {
			stats.Updated++
		}
	}
	return newHighPriority, nil
}

// processItem enriches and stores one item. Embedding failure never blocks
// the content write.
func (o *Orchestrator) processItem(ctx context.Context, src model.Source,
	item model.ContentItem, userContext string) (model.ContentItem, bool, error) {

	isFileBaseline := src.Kind == model.KindFile && item.Analysis["first_fetch"] == true
	skipLLM := isFileBaseline && len(item.Content) > fileLLMSkipBytes

	if !skipLLM {
		o.enrich(ctx, src, &item, userContext)
	}

	// File sources are always high priority: the user explicitly subscribed
	// to track the document.
	if src.Kind == model.KindFile {
		item.Priority = model.PriorityHigh
	}

	id, isNew, err := o.store.CreateOrUpdateContent(ctx, item)
	if err != nil {
		return model.ContentItem{}, false, err
	}
	item.ID = id

	o.embedItem(ctx, item)
	return item, isNew, nil
}

// enrich runs the summarizer and evaluator, merging their output into the
// item. Non-recoverable LLM failures leave the item unenriched; the raw
// content is still stored.
func (o *Orchestrator) enrich(ctx context.Context, src model.Source, item *model.ContentItem, userContext string) {
	isDiff := src.Kind == model.KindFile && item.Analysis["diff_stats"] != nil

	analysis, err := o.analyzer.Summarize(ctx, llm.SummarizeInput{
		Title:      item.Title,
		URL:        item.URL,
		Content:    item.Content,
		SourceKind: string(src.Kind),
		SourceName: src.Name,
		Metrics:    item.Analysis.Metrics(),
		IsDiff:     isDiff,
	})
	if err != nil {
		o.logger.Warn("summarize failed", "title", item.Title, "error", err)
	} else if analysis != nil {
		summary := analysis.Summary
		item.Summary = &summary
		item.Analysis = mergeAnalysis(item.Analysis, analysis.Fields())
	}

	evaluation, err := o.evaluator.Evaluate(ctx, item.Title, item.URL, item.Content, userContext)
	if err != nil {
		o.logger.Warn("evaluate failed", "title", item.Title, "error", err)
		return
	}
	item.Priority = evaluation.Priority
	item.Analysis = mergeAnalysis(item.Analysis, model.Analysis{
		"matched_interests": evaluation.MatchedInterests,
		"reasoning":         evaluation.Reasoning,
	})
}

// mergeAnalysis overlays LLM fields while always preserving the fetcher's
// metrics, even when the merge itself misbehaves.
func mergeAnalysis(base, overlay model.Analysis) model.Analysis {
	if base == nil {
		base = model.Analysis{}
	}
	merged := base.Merge(overlay)
	if metrics := base.Metrics(); metrics != nil && merged.Metrics() == nil {
		merged["metrics"] = metrics
	}
	return merged
}

// embedItem generates and stores the item's vector. Failures are logged
// and counted, never propagated.
func (o *Orchestrator) embedItem(ctx context.Context, item model.ContentItem) {
	if o.embedder == nil {
		return
	}
	text := item.Content
	if item.Summary != nil && *item.Summary != "" {
		text = *item.Summary
	}
	vec, err := o.embedder.EmbedText(ctx, item.Title, text)
	if err != nil {
		o.logger.Warn("embedding failed", "title", item.Title, "error", err)
		observability.Emit("embedding.error", map[string]any{
			"content_id": item.ID.String(),
			"error":      err.Error(),
		})
		return
	}
	if err := o.store.AddEmbedding(ctx, item.ID, vec, o.embedder.Model()); err != nil {
		o.logger.Warn("storing embedding failed", "title", item.Title, "error", err)
	}
}

// evaluationContext loads the user context, appending learned interests
// when recent feedback passes the threshold.
func (o *Orchestrator) evaluationContext(ctx context.Context) (string, error) {
	doc, err := o.contexts.Load()
	if err != nil {
		return "", err
	}
	count, err := o.store.CountRecentFeedback(ctx, feedbackWindow)
	if err != nil || count < feedbackThreshold {
		return doc, nil
	}
	titles, err := o.store.RecentFlaggedTitles(ctx, feedbackWindow, feedbackTitles)
	if err != nil {
		return doc, nil
	}
	return usercontext.WithLearnedInterests(doc, titles), nil
}

// Archive applies the configured aging windows.
func (o *Orchestrator) Archive(ctx context.Context) (int64, error) {
	if !o.archival.Enabled {
		return 0, nil
	}
	count, err := o.store.ArchiveOldContent(ctx, o.archival.Windows())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		o.logger.Info("archived old content", "count", count)
	}
	observability.Emit("archival.complete", map[string]any{"archived": count})
	return count, nil
}

// BackfillEmbeddings embeds up to limit items that have none yet.
func (o *Orchestrator) BackfillEmbeddings(ctx context.Context, limit int) (processed, failed int, err error) {
	if o.embedder == nil {
		return 0, 0, nil
	}
	items, err := o.store.ContentWithoutEmbedding(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	for _, item := range items {
		text := item.Content
		if item.Summary != nil && *item.Summary != "" {
			text = *item.Summary
		}
		vec, embedErr := o.embedder.EmbedText(ctx, item.Title, text)
		if embedErr != nil {
			failed++
			continue
		}
		if storeErr := o.store.AddEmbedding(ctx, item.ID, vec, o.embedder.Model()); storeErr != nil {
			failed++
			continue
		}
		processed++
	}
	if processed > 0 || failed > 0 {
		o.logger.Info("embedding backfill", "processed", processed, "failed", failed)
		observability.Emit("embedding.backfill", map[string]any{
			"processed": processed,
			"failed":    failed,
		})
	}
	return processed, failed, nil
}
