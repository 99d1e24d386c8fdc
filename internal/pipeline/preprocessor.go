// Package pipeline holds the per-job processing stages that sit between the
// scrape collaborator and the persistent store: review normalization,
// aggregate statistics, and the analysis collaborator contract.
package pipeline

import (
	"crypto/sha1"
	"encoding/hex"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	RecencyRecent  string = "recent"
	RecencyMedium  string = "medium"
	RecencyOld     string = "old"
	RecencyUnknown string = "unknown"
)

var (
	controlCharsRegex = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	whitespaceRegex   = regexp.MustCompile(`\s+`)
	numberRegex       = regexp.MustCompile(`(\d+)`)
)

// RawReview is one review as delivered by the scrape collaborator, before
// any normalization. Rating arrives as display text ("4", "4,0", "4.0 stars").
type RawReview struct {
	Source       string
	ReviewID     string
	AuthorName   string
	Rating       string
	Text         string
	OwnerReply   string
	RelativeTime string
}

// ProcessedReview is a normalized review ready for persistence.
type ProcessedReview struct {
	Fingerprint   string
	AuthorName    string
	Rating        float64
	Text          string
	OwnerReply    string
	HasText       bool
	HasOwnerReply bool
	RelativeTime  string
	RecencyBucket string
}

// Stats are the aggregate figures computed over one processed review set.
// They are stored on the business and handed to the analysis collaborator.
type Stats struct {
	AvgRating          float64                   `json:"avg_rating"`
	RatingDistribution map[string]int            `json:"rating_distribution"`
	ResponseRate       float64                   `json:"response_rate"`
	TotalWithText      int                       `json:"total_with_text"`
	SentimentByTime    map[string]SentimentCount `json:"sentiment_by_time"`
}

type SentimentCount struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

type Preprocessor struct{}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{}
}

// Process cleans every raw review and derives the stored fields. The input
// order is preserved.
func (p *Preprocessor) Process(reviews []RawReview) []ProcessedReview {
	processed := make([]ProcessedReview, 0, len(reviews))
	for _, raw := range reviews {
		text := CleanText(raw.Text)
		ownerReply := CleanText(raw.OwnerReply)
		relativeTime := CleanText(raw.RelativeTime)
		rating := CoerceRating(raw.Rating)

		processed = append(processed, ProcessedReview{
			Fingerprint:   fingerprint(raw, rating),
			AuthorName:    CleanText(raw.AuthorName),
			Rating:        rating,
			Text:          text,
			OwnerReply:    ownerReply,
			HasText:       text != "",
			HasOwnerReply: ownerReply != "",
			RelativeTime:  relativeTime,
			RecencyBucket: RecencyBucket(relativeTime),
		})
	}
	return processed
}

// ComputeStats aggregates a processed review set. An empty set yields zeroed
// stats with a full five-star distribution of zero counts.
func (p *Preprocessor) ComputeStats(reviews []ProcessedReview) Stats {
	stats := Stats{
		RatingDistribution: map[string]int{"1": 0, "2": 0, "3": 0, "4": 0, "5": 0},
		SentimentByTime:    map[string]SentimentCount{},
	}
	if len(reviews) == 0 {
		return stats
	}

	var ratingSum float64
	var withReply int
	for _, review := range reviews {
		ratingSum += review.Rating
		if review.HasText {
			stats.TotalWithText++
		}
		if review.HasOwnerReply {
			withReply++
		}

		star := int(math.Round(review.Rating))
		if star < 1 {
			star = 1
		} else if star > 5 {
			star = 5
		}
		stats.RatingDistribution[strconv.Itoa(star)]++

		bucket := review.RecencyBucket
		if bucket == "" {
			bucket = RecencyBucket(review.RelativeTime)
		}
		counts := stats.SentimentByTime[bucket]
		switch {
		case review.Rating >= 4.0:
			counts.Positive++
		case review.Rating <= 2.0:
			counts.Negative++
		default:
			counts.Neutral++
		}
		stats.SentimentByTime[bucket] = counts
	}

	total := float64(len(reviews))
	stats.AvgRating = math.Round(ratingSum/total*100) / 100
	stats.ResponseRate = math.Round(float64(withReply)/total*10000) / 10000
	return stats
}

// CleanText strips control characters and collapses runs of whitespace.
func CleanText(text string) string {
	value := controlCharsRegex.ReplaceAllString(text, " ")
	value = whitespaceRegex.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}

// CoerceRating parses a display rating. Comma decimals are accepted and any
// unparseable value falls back to the first digit run, or zero.
func CoerceRating(rating string) float64 {
	cleaned := CleanText(rating)
	if cleaned == "" {
		return 0.0
	}

	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if value, err := strconv.ParseFloat(cleaned, 64); err == nil {
		return value
	}

	match := numberRegex.FindString(cleaned)
	if match == "" {
		return 0.0
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0.0
	}
	return value
}

// RecencyBucket maps a human relative-time label ("3 months ago",
// "hace 2 años") to a coarse bucket. English and Spanish terms are covered.
func RecencyBucket(relativeTime string) string {
	if relativeTime == "" {
		return RecencyUnknown
	}

	value := strings.ToLower(relativeTime)

	if containsAny(value, "just now", "moments ago", "hace un momento") {
		return RecencyRecent
	}

	amount := 1
	if match := numberRegex.FindString(value); match != "" {
		if parsed, err := strconv.Atoi(match); err == nil {
			amount = parsed
		}
	}

	if containsAny(value, "day", "week", "hour", "minute", "dia", "día", "semana", "hora", "minuto") {
		return RecencyRecent
	}

	if containsAny(value, "month", "mes") {
		switch {
		case amount < 3:
			return RecencyRecent
		case amount <= 12:
			return RecencyMedium
		default:
			return RecencyOld
		}
	}

	if containsAny(value, "year", "ano", "año") {
		if amount <= 1 {
			return RecencyMedium
		}
		return RecencyOld
	}

	return RecencyUnknown
}

func containsAny(value string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(value, term) {
			return true
		}
	}
	return false
}

func fingerprint(raw RawReview, rating float64) string {
	parts := []string{
		CleanText(raw.Source),
		CleanText(raw.ReviewID),
		strings.ToLower(CleanText(raw.AuthorName)),
		strconv.FormatFloat(rating, 'g', -1, 64),
		strings.ToLower(CleanText(raw.RelativeTime)),
		strings.ToLower(CleanText(raw.Text)),
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
