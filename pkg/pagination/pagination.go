// Package pagination reads limit/offset query parameters and shapes paged
// responses.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext extracts pagination parameters from the echo context using the
// package defaults.
func FromContext(c echo.Context) Params {
	return Params{
		Limit:  Limit(c, DefaultLimit, MaxLimit),
		Offset: offset(c),
	}
}

// Limit reads limit, _count or count (first positive wins), falling back to
// def and capping at max.
func Limit(c echo.Context, def, max int) int {
	limit := 0
	for _, name := range []string{"limit", "_count", "count"} {
		if n, err := strconv.Atoi(c.QueryParam(name)); err == nil && n > 0 {
			limit = n
			break
		}
	}
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}

func offset(c echo.Context) int {
	off, _ := strconv.Atoi(c.QueryParam("_offset"))
	if off <= 0 {
		off, _ = strconv.Atoi(c.QueryParam("offset"))
	}
	if off < 0 {
		off = 0
	}
	return off
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// Window returns the bounds of the current page within n items.
func (p Params) Window(n int) (lo, hi int) {
	lo = p.Offset
	if lo > n {
		lo = n
	}
	hi = lo + p.Limit
	if hi > n {
		hi = n
	}
	return lo, hi
}
