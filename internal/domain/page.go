package domain

// PaginationParams carries page/size values from the HTTP layer to the repo
// layer. Page is 1-indexed. Size is capped at 100 by NewPaginationParams.
type PaginationParams struct {
	// Page is the current page number, starting at 1.
	Page int
	// Size is the maximum number of items to return.
	Size int
}

// NewPaginationParams builds a PaginationParams from optional HTTP query
// params. Nil pointers fall back to sane defaults (page=1, size=20).
// The size is capped at 100 to prevent runaway queries.
func NewPaginationParams(page, size *int) PaginationParams {
	p := PaginationParams{Page: 1, Size: 20}
	if page != nil && *page >= 1 {
		p.Page = *page
	}
	if size != nil && *size >= 1 {
		p.Size = *size
		if p.Size > 100 {
			p.Size = 100
		}
	}
	return p
}

// Offset returns the zero-based document offset for a skip clause.
func (p PaginationParams) Offset() int {
	return (p.Page - 1) * p.Size
}

// Page is one page of geotags plus the totals the presentation layer needs
// for pagination metadata. Items is never nil, even when nothing matched.
type Page struct {
	Items         []GeoTag
	Number        int
	Size          int
	TotalElements int64
}

// TotalPages derives the page count from the totals. Zero elements yields
// zero pages.
func (p Page) TotalPages() int64 {
	if p.Size <= 0 {
		return 0
	}
	return (p.TotalElements + int64(p.Size) - 1) / int64(p.Size)
}
