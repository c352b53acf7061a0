package shared

import "math"

// Pagination is the page metadata returned alongside listings.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination clamps page and per-page to sane values and derives the
// page count from total.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Offset is the row offset for the page, for LIMIT/OFFSET queries.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}
