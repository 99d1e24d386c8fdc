// Package batcher implements the named selection rules used by the
// reanalysis engine. Each batcher deterministically picks a subset of a
// business's review pool for one independent analysis pass.
package batcher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/reviewlens/reviewlens/internal/store/model"
)

const (
	LatestText      string = "latest_text"
	BalancedRating  string = "balanced_rating"
	LowRatingFocus  string = "low_rating_focus"
	HighRatingFocus string = "high_rating_focus"
)

// Batcher selects up to size reviews from pool. The pool is ordered
// most-recent-first and selection must be deterministic for a given pool.
type Batcher interface {
	Name() string
	Select(pool model.ReviewList, size int) model.ReviewList
}

type UnknownBatcherError struct {
	error
}

func NewUnknownBatcherError(name string) *UnknownBatcherError {
	return &UnknownBatcherError{fmt.Errorf("unknown batcher %q, known batchers: %s", name, strings.Join(Names(), ", "))}
}

var registry = map[string]Batcher{
	LatestText:      &latestText{},
	BalancedRating:  &balancedRating{},
	LowRatingFocus:  &ratingFocus{name: LowRatingFocus, ascending: true},
	HighRatingFocus: &ratingFocus{name: HighRatingFocus, ascending: false},
}

// Lookup resolves a batcher by name. Unknown names fail fast so a reanalysis
// request is rejected before any pool is loaded.
func Lookup(name string) (Batcher, error) {
	b, ok := registry[name]
	if !ok {
		return nil, NewUnknownBatcherError(name)
	}
	return b, nil
}

// LookupAll resolves every name or fails on the first unknown one.
func LookupAll(names []string) ([]Batcher, error) {
	batchers := make([]Batcher, 0, len(names))
	for _, name := range names {
		b, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		batchers = append(batchers, b)
	}
	return batchers, nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// latestText keeps the pool's most-recent-first order and takes the first
// size reviews that carry text.
type latestText struct{}

func (b *latestText) Name() string { return LatestText }

func (b *latestText) Select(pool model.ReviewList, size int) model.ReviewList {
	selected := make(model.ReviewList, 0, size)
	for _, review := range pool {
		if len(selected) == size {
			break
		}
		if strings.TrimSpace(review.Text) == "" {
			continue
		}
		selected = append(selected, review)
	}
	return selected
}

// balancedRating draws round-robin across rating buckets 1..5 so the batch
// approximates a uniform rating distribution. Buckets drain independently:
// an empty or exhausted bucket is skipped, never an error.
type balancedRating struct{}

func (b *balancedRating) Name() string { return BalancedRating }

func (b *balancedRating) Select(pool model.ReviewList, size int) model.ReviewList {
	buckets := make(map[int]model.ReviewList, 5)
	for _, review := range pool {
		bucket := int(review.Rating)
		if bucket < 1 {
			bucket = 1
		} else if bucket > 5 {
			bucket = 5
		}
		buckets[bucket] = append(buckets[bucket], review)
	}

	selected := make(model.ReviewList, 0, size)
	for len(selected) < size {
		drew := false
		for rating := 1; rating <= 5; rating++ {
			if len(selected) == size {
				break
			}
			if len(buckets[rating]) == 0 {
				continue
			}
			selected = append(selected, buckets[rating][0])
			buckets[rating] = buckets[rating][1:]
			drew = true
		}
		if !drew {
			break
		}
	}
	return selected
}

// ratingFocus orders the pool by rating (ascending for low_rating_focus,
// descending for high_rating_focus) with ties broken by recency, then takes
// the first size reviews.
type ratingFocus struct {
	name      string
	ascending bool
}

func (b *ratingFocus) Name() string { return b.name }

func (b *ratingFocus) Select(pool model.ReviewList, size int) model.ReviewList {
	ordered := make(model.ReviewList, len(pool))
	copy(ordered, pool)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Rating != ordered[j].Rating {
			if b.ascending {
				return ordered[i].Rating < ordered[j].Rating
			}
			return ordered[i].Rating > ordered[j].Rating
		}
		return ordered[i].ScrapedAt.After(ordered[j].ScrapedAt)
	})
	if size < len(ordered) {
		ordered = ordered[:size]
	}
	return ordered
}
