package pagination

import (
	"math"
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 20
	// MaxPerPage caps per_page; larger values fall back to the default.
	MaxPerPage = 100
)

// Params holds page-based paging parameters.
type Params struct {
	Page    int
	PerPage int
	Offset  int
}

// DefaultParams returns the first page at the default size.
func DefaultParams() Params {
	return Params{Page: 1, PerPage: defaultPerPage}
}

// FromRequest reads page and per_page from the query string. Missing or
// out-of-range values keep their defaults, as does a page whose offset
// would overflow int.
func FromRequest(r *http.Request) Params {
	p := DefaultParams()
	q := r.URL.Query()

	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(q.Get("per_page")); err == nil && v > 0 && v <= MaxPerPage {
		p.PerPage = v
	}

	if p.Page-1 > math.MaxInt/p.PerPage {
		p.Page = 1
	}
	p.Offset = (p.Page - 1) * p.PerPage
	return p
}

// Result is one page of items plus the totals needed to navigate.
type Result[T any] struct {
	Items      []T  `json:"items"`
	TotalCount int  `json:"totalCount"`
	Page       int  `json:"page"`
	PerPage    int  `json:"perPage"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
}

// NewResult builds a page. A nil items slice is rendered as [].
func NewResult[T any](items []T, totalCount int, params Params) Result[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := (totalCount + params.PerPage - 1) / params.PerPage

	return Result[T]{
		Items:      items,
		TotalCount: totalCount,
		Page:       params.Page,
		PerPage:    params.PerPage,
		TotalPages: totalPages,
		HasNext:    params.Page < totalPages,
	}
}
