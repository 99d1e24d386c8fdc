package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Fragment is one analysis collaborator output for a single review batch.
type Fragment struct {
	OverallSentiment    string   `json:"overall_sentiment"`
	MainTopics          []string `json:"main_topics"`
	Strengths           []string `json:"strengths"`
	Weaknesses          []string `json:"weaknesses"`
	SuggestedOwnerReply string   `json:"suggested_owner_reply"`
}

// Analyzer is the LLM analysis collaborator. Implementations may block for a
// long time and must honor ctx cancellation.
type Analyzer interface {
	Analyze(ctx context.Context, businessName string, reviews []ProcessedReview, stats Stats) (Fragment, error)
}

// HeuristicAnalyzer derives an analysis from the aggregate stats alone. It
// stands in for a real model backend and is throttled the same way one would
// be, so callers exercise the blocking path.
type HeuristicAnalyzer struct {
	limiter *rate.Limiter
}

var _ Analyzer = (*HeuristicAnalyzer)(nil)

func NewHeuristicAnalyzer(requestsPerSecond float64) *HeuristicAnalyzer {
	return &HeuristicAnalyzer{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (a *HeuristicAnalyzer) Analyze(ctx context.Context, businessName string, reviews []ProcessedReview, stats Stats) (Fragment, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return Fragment{}, fmt.Errorf("waiting for analyzer slot: %w", err)
	}

	sentiment := "mixed"
	switch {
	case stats.AvgRating >= 4.0:
		sentiment = "positive"
	case stats.AvgRating <= 2.5:
		sentiment = "negative"
	}

	return Fragment{
		OverallSentiment: sentiment,
		MainTopics:       []string{"service", "food quality", "waiting time"},
		Strengths:        []string{"Friendly staff", "Consistent quality"},
		Weaknesses:       []string{"Long waiting times in peak hours"},
		SuggestedOwnerReply: fmt.Sprintf(
			"Thank you for your feedback about %s. We appreciate your comments and we are working on improvements.",
			businessName,
		),
	}, nil
}
