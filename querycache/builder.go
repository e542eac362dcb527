package querycache

import (
	"context"

	"github.com/goliatone/go-query-cache/cache"
)

// DefaultPerPage is used when a non-positive page size is requested.
const DefaultPerPage = 15

// Builder is the query collaborator a Runner decorates. It exposes the
// statement and bindings used for key derivation and the terminal
// operations run on a cache miss.
type Builder[T any] interface {
	cache.Query

	Get(ctx context.Context) ([]T, error)
	Find(ctx context.Context, id any) (T, error)
	First(ctx context.Context) (T, error)
	Count(ctx context.Context) (int64, error)
	Paginate(ctx context.Context, perPage, page int) (Page[T], error)
}

// Page is a paginated result envelope.
type Page[T any] struct {
	Items       []T   `json:"items" msgpack:"items"`
	Total       int64 `json:"total" msgpack:"total"`
	PerPage     int   `json:"per_page" msgpack:"per_page"`
	CurrentPage int   `json:"current_page" msgpack:"current_page"`
	LastPage    int   `json:"last_page" msgpack:"last_page"`
}

// NewPage builds a Page and computes LastPage from total and perPage.
func NewPage[T any](items []T, total int64, perPage, page int) Page[T] {
	perPage = normalizePerPage(perPage)
	page = normalizePage(page)

	last := int((total + int64(perPage) - 1) / int64(perPage))
	if last < 1 {
		last = 1
	}

	return Page[T]{
		Items:       items,
		Total:       total,
		PerPage:     perPage,
		CurrentPage: page,
		LastPage:    last,
	}
}

// HasMore reports whether pages follow the current one.
func (p Page[T]) HasMore() bool {
	return p.CurrentPage < p.LastPage
}

func normalizePerPage(perPage int) int {
	if perPage <= 0 {
		return DefaultPerPage
	}
	return perPage
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}
