// Package scraper defines the scrape collaborator contract. The worker only
// depends on the Scraper interface; real extraction backends (browser
// automation, partner feeds) plug in behind it.
package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/reviewlens/reviewlens/internal/pipeline"
)

const (
	StrategyInteractive string = "interactive"
	StrategyScrollCopy  string = "scroll_copy"
)

// Listing is the business page metadata returned alongside the reviews.
type Listing struct {
	Name          string
	Address       string
	Phone         string
	Website       string
	OverallRating float64
	TotalReviews  int
	Categories    []string
}

// Scraper extracts a business listing and its reviews for a search query.
// A call may take minutes; any error fails the job's pipeline run.
type Scraper interface {
	Scrape(ctx context.Context, query string, strategy string) (Listing, []pipeline.RawReview, error)
}

// NormalizeStrategy resolves a user-supplied strategy name, accepting the
// historical aliases. An empty value selects the interactive strategy.
func NormalizeStrategy(strategy string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(strategy))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)

	switch normalized {
	case "", StrategyInteractive, "current", "legacy", "expand_click":
		return StrategyInteractive, nil
	case StrategyScrollCopy, "scroll_and_copy", "html_snapshot", "snapshot":
		return StrategyScrollCopy, nil
	default:
		return "", fmt.Errorf("unknown extraction strategy %q", strategy)
	}
}
