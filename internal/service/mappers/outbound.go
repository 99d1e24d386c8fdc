package mappers

import (
	"encoding/json"

	api "github.com/reviewlens/reviewlens/api/v1alpha1"
	"github.com/reviewlens/reviewlens/internal/store/model"
)

func JobToApi(job model.Job) api.Job {
	out := api.Job{
		ID:         job.ID,
		Name:       job.Name,
		Force:      job.Force,
		Strategy:   job.Strategy,
		Status:     api.StringToJobStatus(job.Status),
		Error:      job.Error,
		Attempts:   job.Attempts,
		ClaimedBy:  job.ClaimedBy,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}

	if len(job.Result) > 0 {
		result := api.JobResult{}
		if err := json.Unmarshal(job.Result, &result); err == nil {
			out.Result = &result
		}
	}

	return out
}

func JobListToApi(jobs model.JobList, page, pageSize int, total int64) api.JobList {
	items := make([]api.Job, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, JobToApi(job))
	}
	return api.JobList{Items: items, Page: page, PageSize: pageSize, Total: total}
}

func BusinessToApi(business model.Business) api.Business {
	out := api.Business{
		ID:               business.ID,
		Name:             business.Name,
		Source:           business.Source,
		ReviewCount:      business.ReviewCount,
		LatestAnalysisID: business.LatestAnalysisID,
		LastScrapedAt:    business.LastScrapedAt,
		CreatedAt:        business.CreatedAt,
		UpdatedAt:        business.UpdatedAt,
	}

	listing := api.Listing{
		Address:       business.Address,
		Phone:         business.Phone,
		Website:       business.Website,
		OverallRating: business.OverallRating,
		TotalReviews:  business.TotalReviews,
	}
	if len(business.Categories) > 0 {
		_ = json.Unmarshal(business.Categories, &listing.Categories)
	}
	out.Listing = &listing

	if len(business.Stats) > 0 {
		_ = json.Unmarshal(business.Stats, &out.Stats)
	}

	return out
}

func BusinessListToApi(businesses model.BusinessList, page, pageSize int, total int64) api.BusinessList {
	items := make([]api.Business, 0, len(businesses))
	for _, business := range businesses {
		items = append(items, BusinessToApi(business))
	}
	return api.BusinessList{Items: items, Page: page, PageSize: pageSize, Total: total}
}

func ReviewToApi(review model.Review) api.Review {
	return api.Review{
		ID:            review.ID,
		BusinessID:    review.BusinessID,
		AuthorName:    review.AuthorName,
		Rating:        review.Rating,
		Text:          review.Text,
		OwnerReply:    review.OwnerReply,
		HasText:       review.HasText,
		HasOwnerReply: review.HasOwnerReply,
		RelativeTime:  review.RelativeTime,
		RecencyBucket: review.RecencyBucket,
		ScrapedAt:     review.ScrapedAt,
	}
}

func ReviewListToApi(reviews model.ReviewList, page, pageSize int, total int64) api.ReviewList {
	items := make([]api.Review, 0, len(reviews))
	for _, review := range reviews {
		items = append(items, ReviewToApi(review))
	}
	return api.ReviewList{Items: items, Page: page, PageSize: pageSize, Total: total}
}

func AnalysisToApi(analysis model.Analysis) api.Analysis {
	out := api.Analysis{
		ID:                  analysis.ID,
		BusinessID:          analysis.BusinessID,
		OverallSentiment:    analysis.OverallSentiment,
		SuggestedOwnerReply: analysis.SuggestedOwnerReply,
		CreatedAt:           analysis.CreatedAt,
	}

	if len(analysis.MainTopics) > 0 {
		_ = json.Unmarshal(analysis.MainTopics, &out.MainTopics)
	}
	if len(analysis.Strengths) > 0 {
		_ = json.Unmarshal(analysis.Strengths, &out.Strengths)
	}
	if len(analysis.Weaknesses) > 0 {
		_ = json.Unmarshal(analysis.Weaknesses, &out.Weaknesses)
	}
	if len(analysis.Meta) > 0 {
		meta := api.AnalysisMeta{}
		if err := json.Unmarshal(analysis.Meta, &meta); err == nil {
			out.Meta = &meta
		}
	}

	return out
}

func AnalysisListToApi(analyses model.AnalysisList, page, pageSize int, total int64) api.AnalysisList {
	items := make([]api.Analysis, 0, len(analyses))
	for _, analysis := range analyses {
		items = append(items, AnalysisToApi(analysis))
	}
	return api.AnalysisList{Items: items, Page: page, PageSize: pageSize, Total: total}
}
