package store

import (
	"gorm.io/gorm"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type JobQueryFilter BaseQuerier

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *JobQueryFilter) ByStatus(status string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
	return qf
}

func (qf *JobQueryFilter) ByNameNormalized(name string) *JobQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("name_normalized = ?", name)
	})
	return qf
}

type BusinessQueryFilter BaseQuerier

func NewBusinessQueryFilter() *BusinessQueryFilter {
	return &BusinessQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *BusinessQueryFilter) ByNameLike(name string) *BusinessQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("name_normalized LIKE ?", "%"+name+"%")
	})
	return qf
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Pagination is a 1-based page plus a positive, capped page size.
type Pagination struct {
	Page     int
	PageSize int
}

func NewPagination(page, pageSize int) Pagination {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return Pagination{Page: page, PageSize: pageSize}
}

func (p Pagination) Apply(tx *gorm.DB) *gorm.DB {
	return tx.Offset((p.Page - 1) * p.PageSize).Limit(p.PageSize)
}
