package shared

// Listing bounds applied to every list operation.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Page holds normalized limit/offset values for listings.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewPage clamps limit and offset into the supported range.
func NewPage(limit, offset int) Page {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}

// Slice returns the window of n items covered by the page.
func (p Page) Slice(n int) (start, end int) {
	start = p.Offset
	if start > n {
		start = n
	}
	end = start + p.Limit
	if end > n {
		end = n
	}
	return start, end
}
