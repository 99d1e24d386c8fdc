package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/reviewlens/reviewlens/api/v1alpha1"
	"github.com/reviewlens/reviewlens/internal/batcher"
	"github.com/reviewlens/reviewlens/internal/pipeline"
	"github.com/reviewlens/reviewlens/internal/service/mappers"
	"github.com/reviewlens/reviewlens/internal/store"
	"github.com/reviewlens/reviewlens/internal/store/model"
	"github.com/reviewlens/reviewlens/pkg/metrics"
)

// Bounds applied to reanalysis requests regardless of configured defaults.
const (
	minBatchSize = 10
	maxBatchSize = 120
	minPoolSize  = 20
	maxPoolSize  = 1000

	mergedTermLimit = 8

	reanalysisMetaType = "stored_reviews_reanalysis"
)

type batchRun struct {
	batcher  string
	reviews  []pipeline.ProcessedReview
	fragment pipeline.Fragment
	quality  float64
	err      error
}

// Reanalyze re-derives an analysis for a business from its stored reviews,
// without re-scraping. Each requested batcher selects its own batch from the
// pool and drives one analysis call; batch failures are isolated and recorded
// in the merged analysis' provenance. Only when every batch fails does the
// whole reanalysis fail.
func (s *BusinessService) Reanalyze(ctx context.Context, businessID uuid.UUID, request api.ReanalyzeRequest) (*api.Analysis, error) {
	if err := s.validator.Struct(request); err != nil {
		return nil, NewErrValidation("invalid reanalyze request: %s", err)
	}

	names := request.Batchers
	if len(names) == 0 {
		names = s.defaults.Batchers
	}
	batchers, err := batcher.LookupAll(names)
	if err != nil {
		return nil, err
	}

	business, err := s.store.Business().Get(ctx, businessID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrBusinessNotFound(businessID)
		}
		return nil, err
	}

	batchSize := clamp(valueOrDefault(request.BatchSize, s.defaults.BatchSize), minBatchSize, maxBatchSize)
	poolSize := clamp(valueOrDefault(request.MaxReviewsPool, s.defaults.PoolSize), minPoolSize, maxPoolSize)

	pool, err := s.store.Review().Pool(ctx, businessID, poolSize)
	if err != nil {
		return nil, err
	}
	if len(pool) == 0 {
		return nil, NewErrNoStoredReviews(businessID)
	}

	processedPool := processedFromModels(pool)
	stats := s.preprocessor.ComputeStats(processedPool)

	runs := make([]batchRun, 0, len(batchers))
	succeeded := 0
	for _, b := range batchers {
		run := batchRun{batcher: b.Name()}
		batch := b.Select(pool, batchSize)
		run.reviews = processedFromModels(batch)

		switch {
		case len(batch) == 0:
			run.err = errors.New("batcher selected an empty batch")
		default:
			run.fragment, run.err = s.analyzer.Analyze(ctx, business.Name, run.reviews, stats)
		}

		if run.err != nil {
			metrics.IncreaseBatchesAnalyzed(b.Name(), "failed")
			zap.S().Named("business_service").Warnw("batch analysis failed",
				"business_id", businessID, "batcher", b.Name(), "error", run.err)
		} else {
			run.quality = qualityScore(run.fragment)
			succeeded++
			metrics.IncreaseBatchesAnalyzed(b.Name(), "succeeded")
		}
		runs = append(runs, run)
	}

	if succeeded == 0 {
		return nil, NewErrAllBatchesFailed(businessID, len(runs))
	}

	merged := mergeRuns(runs)
	meta := &api.AnalysisMeta{
		Type:      reanalysisMetaType,
		Batchers:  names,
		BatchSize: batchSize,
		PoolSize:  poolSize,
		Runs:      make([]api.BatchRun, 0, len(runs)),
	}
	for _, run := range runs {
		out := api.BatchRun{
			Batcher:       run.batcher,
			RequestedSize: batchSize,
			SampleSize:    len(run.reviews),
			QualityScore:  round4(run.quality),
		}
		if run.err != nil {
			out.Error = run.err.Error()
		}
		meta.Runs = append(meta.Runs, out)
	}

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return nil, err
	}

	ctx, err = s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}

	analysis, err := s.createAnalysis(ctx, businessID, merged, meta)
	if err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	reviewCount, err := s.store.Review().CountByBusiness(ctx, businessID)
	if err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	if err := s.store.Business().SetLatestAnalysis(ctx, businessID, analysis.ID, statsJSON, int(reviewCount)); err != nil {
		_, _ = store.Rollback(ctx)
		return nil, err
	}

	if _, err := store.Commit(ctx); err != nil {
		return nil, err
	}

	zap.S().Named("business_service").Infow("reanalysis complete",
		"business_id", businessID, "analysis_id", analysis.ID, "batchers", names, "succeeded", succeeded)

	out := mappers.AnalysisToApi(*analysis)
	return &out, nil
}

// mergeRuns folds the successful per-batch fragments into one analysis:
// majority sentiment, rank-merged term lists, and the highest-quality
// suggested reply.
func mergeRuns(runs []batchRun) pipeline.Fragment {
	sentimentVotes := map[string]int{}
	for _, run := range runs {
		if run.err != nil {
			continue
		}
		sentiment := strings.ToLower(strings.TrimSpace(run.fragment.OverallSentiment))
		if sentiment == "positive" || sentiment == "mixed" || sentiment == "negative" {
			sentimentVotes[sentiment]++
		}
	}
	overall := "mixed"
	best := 0
	for _, sentiment := range []string{"positive", "mixed", "negative"} {
		if sentimentVotes[sentiment] > best {
			best = sentimentVotes[sentiment]
			overall = sentiment
		}
	}

	var reply string
	var replyQuality float64 = -1
	for _, run := range runs {
		if run.err != nil {
			continue
		}
		candidate := strings.TrimSpace(run.fragment.SuggestedOwnerReply)
		if candidate != "" && run.quality > replyQuality {
			reply = candidate
			replyQuality = run.quality
		}
	}
	if reply == "" {
		reply = "Gracias por las reseñas. Estamos revisando vuestra experiencia para mejorar el servicio."
	}

	return pipeline.Fragment{
		OverallSentiment:    overall,
		MainTopics:          mergeTerms(runs, func(f pipeline.Fragment) []string { return f.MainTopics }),
		Strengths:           mergeTerms(runs, func(f pipeline.Fragment) []string { return f.Strengths }),
		Weaknesses:          mergeTerms(runs, func(f pipeline.Fragment) []string { return f.Weaknesses }),
		SuggestedOwnerReply: reply,
	}
}

// mergeTerms ranks terms across runs: a term scores higher the earlier it
// appears in a run's list, duplicates accumulate. The top terms win, ties
// resolved by first appearance so the merge is deterministic.
func mergeTerms(runs []batchRun, pick func(pipeline.Fragment) []string) []string {
	type ranked struct {
		display string
		score   int
		seen    int
	}
	byTerm := map[string]*ranked{}
	order := 0

	for _, run := range runs {
		if run.err != nil {
			continue
		}
		for index, raw := range pick(run.fragment) {
			term := strings.TrimSpace(raw)
			normalized := mappers.NormalizeName(term)
			if normalized == "" {
				continue
			}
			entry, ok := byTerm[normalized]
			if !ok {
				entry = &ranked{display: term, seen: order}
				byTerm[normalized] = entry
				order++
			}
			score := 10 - index
			if score < 1 {
				score = 1
			}
			entry.score += score
		}
	}

	entries := make([]*ranked, 0, len(byTerm))
	for _, entry := range byTerm {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].seen < entries[j].seen
	})

	limit := mergedTermLimit
	if len(entries) < limit {
		limit = len(entries)
	}
	terms := make([]string, 0, limit)
	for _, entry := range entries[:limit] {
		terms = append(terms, entry.display)
	}
	return terms
}

// qualityScore grades one fragment: richer term lists and a substantial
// suggested reply score higher. Used to pick the reply of the merged record.
func qualityScore(fragment pipeline.Fragment) float64 {
	score := 0.0

	sentiment := strings.ToLower(strings.TrimSpace(fragment.OverallSentiment))
	if sentiment == "positive" || sentiment == "mixed" || sentiment == "negative" {
		score += 1.0
	}

	score += float64(minInt(len(fragment.MainTopics), 8)) * 1.2
	score += float64(minInt(len(fragment.Strengths), 8)) * 1.0
	score += float64(minInt(len(fragment.Weaknesses), 8)) * 0.8
	score += float64(minInt(len(strings.TrimSpace(fragment.SuggestedOwnerReply)), 320)) / 80.0

	return score
}

func processedFromModels(reviews model.ReviewList) []pipeline.ProcessedReview {
	processed := make([]pipeline.ProcessedReview, 0, len(reviews))
	for _, review := range reviews {
		processed = append(processed, pipeline.ProcessedReview{
			Fingerprint:   review.Fingerprint,
			AuthorName:    review.AuthorName,
			Rating:        review.Rating,
			Text:          review.Text,
			OwnerReply:    review.OwnerReply,
			HasText:       review.HasText,
			HasOwnerReply: review.HasOwnerReply,
			RelativeTime:  review.RelativeTime,
			RecencyBucket: review.RecencyBucket,
		})
	}
	return processed
}

func valueOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}
