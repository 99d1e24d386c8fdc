package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrValidation struct {
	error
}

func NewErrValidation(format string, args ...any) *ErrValidation {
	return &ErrValidation{fmt.Errorf(format, args...)}
}

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id uuid.UUID, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrJobNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "job")
}

func NewErrBusinessNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "business")
}

func NewErrAnalysisNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id, "analysis")
}

func NewErrNoStoredReviews(businessID uuid.UUID) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("no stored reviews found for business %s", businessID)}
}

// ErrAllBatchesFailed is returned by reanalysis when every requested batcher
// failed its analysis call, so no merged record could be produced.
type ErrAllBatchesFailed struct {
	error
}

func NewErrAllBatchesFailed(businessID uuid.UUID, attempted int) *ErrAllBatchesFailed {
	return &ErrAllBatchesFailed{fmt.Errorf("all %d analysis batches failed for business %s", attempted, businessID)}
}
