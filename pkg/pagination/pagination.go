package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Response headers describing the page that was served.
const (
	HeaderTotalCount = "X-Total-Count"
	HeaderPage       = "X-Page"
	HeaderLimit      = "X-Limit"
	HeaderHasMore    = "X-Has-More"
)

// Params holds pagination parameters extracted from a request. Page is
// 1-based; Offset is always derived from Page and Limit.
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// New builds Params from a page number and limit, clamping both into range.
func New(page, limit int) Params {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page <= 0 {
		page = 1
	}
	return Params{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// FromContext extracts pagination parameters from the echo context. A raw
// "offset" is honoured when no "page" is given so older clients keep working.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	page, _ := strconv.Atoi(c.QueryParam("page"))
	p := New(page, limit)

	if c.QueryParam("page") == "" {
		if offset, err := strconv.Atoi(c.QueryParam("offset")); err == nil && offset > 0 {
			p.Offset = offset
			p.Page = offset/p.Limit + 1
		}
	}
	return p
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// SetHeaders writes the page metadata onto the response so list endpoints
// can return a bare JSON array.
func SetHeaders(c echo.Context, p Params, total int) {
	h := c.Response().Header()
	h.Set(HeaderTotalCount, strconv.Itoa(total))
	h.Set(HeaderPage, strconv.Itoa(p.Page))
	h.Set(HeaderLimit, strconv.Itoa(p.Limit))
	h.Set(HeaderHasMore, strconv.FormatBool(p.HasNext(total)))
}
