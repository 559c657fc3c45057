package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page is a 1-based page request read from the page and limit query
// parameters. Malformed values fall back to the first page of
// defaultPageSize items; limit is capped at maxPageSize.
type Page struct {
	Number int
	Limit  int
}

// PageFromQuery reads the page request of a gin request
func PageFromQuery(ctx *gin.Context) Page {
	p := Page{
		Number: queryInt(ctx, "page", 1),
		Limit:  queryInt(ctx, "limit", defaultPageSize),
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	return p
}

func queryInt(ctx *gin.Context, key string, fallback int) int {
	n, err := strconv.Atoi(ctx.Query(key))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// Offset returns the number of items before the page
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// PageMeta describes where a page sits in the full listing
type PageMeta struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	TotalItems  int `json:"total_items"`
	PerPage     int `json:"per_page"`
}

// PagedResponse is the body of a paginated listing
type PagedResponse[T any] struct {
	Data       []T      `json:"data"`
	Pagination PageMeta `json:"pagination"`
}

// NewPagedResponse wraps one page of items out of total
func NewPagedResponse[T any](items []T, p Page, total int) PagedResponse[T] {
	if items == nil {
		items = []T{}
	}
	return PagedResponse[T]{
		Data: items,
		Pagination: PageMeta{
			CurrentPage: p.Number,
			TotalPages:  (total + p.Limit - 1) / p.Limit,
			TotalItems:  total,
			PerPage:     p.Limit,
		},
	}
}
