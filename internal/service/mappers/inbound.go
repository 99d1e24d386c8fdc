package mappers

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	api "github.com/reviewlens/reviewlens/api/v1alpha1"
	"github.com/reviewlens/reviewlens/internal/pipeline"
	"github.com/reviewlens/reviewlens/internal/scraper"
	"github.com/reviewlens/reviewlens/internal/store/model"
)

var accentStripper = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName folds a business name for matching: accents stripped,
// lowercased, whitespace collapsed. "Casa Pepe" and "casa  pépé" normalize to
// the same key.
func NormalizeName(value string) string {
	stripped, _, err := transform.String(accentStripper, value)
	if err != nil {
		stripped = value
	}
	return pipeline.CleanText(strings.ToLower(stripped))
}

func JobFromApi(resource api.JobCreate, strategy string) model.Job {
	name := pipeline.CleanText(resource.Name)
	return model.Job{
		Name:           name,
		NameNormalized: NormalizeName(name),
		Force:          resource.Force,
		Strategy:       strategy,
		Status:         model.JobStatusQueued,
	}
}

func ReviewFromProcessed(businessID uuid.UUID, processed pipeline.ProcessedReview, scrapedAt time.Time) model.Review {
	return model.Review{
		BusinessID:    businessID,
		Fingerprint:   processed.Fingerprint,
		AuthorName:    processed.AuthorName,
		Rating:        processed.Rating,
		Text:          processed.Text,
		OwnerReply:    processed.OwnerReply,
		HasText:       processed.HasText,
		HasOwnerReply: processed.HasOwnerReply,
		RelativeTime:  processed.RelativeTime,
		RecencyBucket: processed.RecencyBucket,
		ScrapedAt:     scrapedAt,
	}
}

func ListingFromScraper(listing scraper.Listing) api.Listing {
	return api.Listing{
		Address:       listing.Address,
		Phone:         listing.Phone,
		Website:       listing.Website,
		OverallRating: listing.OverallRating,
		TotalReviews:  listing.TotalReviews,
		Categories:    listing.Categories,
	}
}
