package query

import (
	"context"
	"math"
)

const (
	DefaultPage         = 1
	DefaultItemsPerPage = 10
	MaxItemsPerPage     = 100
	// MaxPage keeps (page-1)*MaxItemsPerPage inside int.
	MaxPage = math.MaxInt / MaxItemsPerPage
)

// DefaultSortField is applied as the client ordering when none is requested.
const DefaultSortField = "createdAt"

// Request holds the raw, untrusted listing parameters.
type Request struct {
	Page         int
	ItemsPerPage int
	Filter       map[string]string
	Sort         []SortField
	Search       string
}

// NewRequest returns a Request with the default window.
func NewRequest() Request {
	return Request{Page: DefaultPage, ItemsPerPage: DefaultItemsPerPage}
}

// Options declares what a listing endpoint lets clients filter, sort and search on.
type Options struct {
	Filterable FilterSpec
	Sortable   []string
	Searchable []string
}

// FindOptions is what the persistence layer receives.
type FindOptions struct {
	Where   Filter
	OrderBy Sort
	Offset  int
	Limit   int
}

// Finder runs a count plus a windowed fetch.
type Finder[T any] interface {
	CountAndFetch(ctx context.Context, opts FindOptions) ([]T, int, error)
}

// FinderFunc adapts a function to Finder.
type FinderFunc[T any] func(ctx context.Context, opts FindOptions) ([]T, int, error)

func (f FinderFunc[T]) CountAndFetch(ctx context.Context, opts FindOptions) ([]T, int, error) {
	return f(ctx, opts)
}

// Meta describes the page that was served and what was applied to produce it.
type Meta struct {
	CurrentPage  int    `json:"currentPage"`
	ItemsPerPage int    `json:"itemsPerPage"`
	TotalItems   int    `json:"totalItems"`
	TotalPages   int    `json:"totalPages"`
	Filters      Filter `json:"filters"`
	Sorts        Sort   `json:"sorts"`
	Search       string `json:"search,omitempty"`
}

type Page[T any] struct {
	Items []T  `json:"items"`
	Meta  Meta `json:"meta"`
}

// Window clamps page to [1, MaxPage] and itemsPerPage to [1, MaxItemsPerPage]
// and returns the offset of the first row.
func Window(page, itemsPerPage int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if itemsPerPage < 1 {
		itemsPerPage = 1
	}
	if itemsPerPage > MaxItemsPerPage {
		itemsPerPage = MaxItemsPerPage
	}
	return page, itemsPerPage, (page - 1) * itemsPerPage
}

// TotalPages is ceil(total / itemsPerPage).
func TotalPages(total, itemsPerPage int) int {
	if itemsPerPage < 1 || total <= 0 {
		return 0
	}
	return (total + itemsPerPage - 1) / itemsPerPage
}

// FindAndPaginate sanitizes req against opts, merges it with the caller's base
// conditions and ordering, and fetches one page through finder.
func FindAndPaginate[T any](ctx context.Context, finder Finder[T], where Filter, orderBy Sort, opts Options, req Request) (*Page[T], error) {
	page, limit, offset := Window(req.Page, req.ItemsPerPage)

	parsed, err := TransformFilterParams(req.Filter)
	if err != nil {
		return nil, err
	}
	filters := SanitizeFilter(opts.Filterable, parsed)
	merged := ApplySearch(MergeFilters(where, filters), req.Search, opts.Searchable)

	requested := req.Sort
	if len(requested) == 0 {
		requested = []SortField{{Path: DefaultSortField, Direction: Asc}}
	}
	sorts := SanitizeSort(UnflattenSort(requested), opts.Sortable)
	order := MergeSorts(orderBy, sorts)

	items, total, err := finder.CountAndFetch(ctx, FindOptions{
		Where:   merged,
		OrderBy: order,
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}

	return &Page[T]{
		Items: items,
		Meta: Meta{
			CurrentPage:  page,
			ItemsPerPage: limit,
			TotalItems:   total,
			TotalPages:   TotalPages(total, limit),
			Filters:      filters,
			Sorts:        sorts,
			Search:       req.Search,
		},
	}, nil
}
