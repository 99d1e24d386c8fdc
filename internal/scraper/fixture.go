package scraper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/pipeline"
)

// FixtureScraper produces a deterministic listing and review set derived from
// the query. It backs the standalone deployment and the test environment,
// where no browser automation is available.
type FixtureScraper struct {
	reviewCount int
	delay       time.Duration
}

var _ Scraper = (*FixtureScraper)(nil)

type FixtureOption func(s *FixtureScraper)

func WithReviewCount(count int) FixtureOption {
	return func(s *FixtureScraper) {
		s.reviewCount = count
	}
}

// WithDelay makes every scrape block for d, to exercise the slow-collaborator
// path in integration setups.
func WithDelay(d time.Duration) FixtureOption {
	return func(s *FixtureScraper) {
		s.delay = d
	}
}

func NewFixtureScraper(opts ...FixtureOption) *FixtureScraper {
	s := &FixtureScraper{reviewCount: 25}
	for _, o := range opts {
		o(s)
	}
	return s
}

var fixtureTexts = []string{
	"Great food and friendly staff, will come back.",
	"The wait was too long but the dishes were worth it.",
	"Average experience, nothing memorable.",
	"Terrible service, our order was wrong twice.",
	"Lovely terrace and excellent wine selection.",
	"",
	"Portions are small for the price.",
	"Best paella in the neighborhood.",
}

var fixtureTimes = []string{
	"2 days ago",
	"a week ago",
	"3 weeks ago",
	"2 months ago",
	"hace 5 meses",
	"a year ago",
	"hace 2 años",
}

func (s *FixtureScraper) Scrape(ctx context.Context, query string, strategy string) (Listing, []pipeline.RawReview, error) {
	normalized, err := NormalizeStrategy(strategy)
	if err != nil {
		return Listing{}, nil, err
	}

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Listing{}, nil, ctx.Err()
		}
	}

	seed := fnv.New64a()
	_, _ = seed.Write([]byte(query))
	rng := rand.New(rand.NewSource(int64(seed.Sum64())))

	reviews := make([]pipeline.RawReview, 0, s.reviewCount)
	var ratingSum float64
	for i := 0; i < s.reviewCount; i++ {
		rating := 1 + rng.Intn(5)
		ratingSum += float64(rating)
		review := pipeline.RawReview{
			Source:       "fixture",
			ReviewID:     fmt.Sprintf("fixture-%d", i),
			AuthorName:   fmt.Sprintf("Reviewer %d", i+1),
			Rating:       fmt.Sprintf("%d", rating),
			Text:         fixtureTexts[rng.Intn(len(fixtureTexts))],
			RelativeTime: fixtureTimes[rng.Intn(len(fixtureTimes))],
		}
		if rng.Intn(4) == 0 {
			review.OwnerReply = "Thank you for visiting us!"
		}
		reviews = append(reviews, review)
	}

	listing := Listing{
		Name:          query,
		Address:       fmt.Sprintf("%d Example Street", 1+rng.Intn(200)),
		Phone:         fmt.Sprintf("+34 6%08d", rng.Intn(100000000)),
		Website:       "https://example.com",
		OverallRating: ratingSum / float64(max(s.reviewCount, 1)),
		TotalReviews:  s.reviewCount,
		Categories:    []string{"Restaurant", "Spanish restaurant"},
	}

	zap.S().Named("scraper").Debugw("fixture scrape complete", "query", query, "strategy", normalized, "reviews", len(reviews))
	return listing, reviews, nil
}
