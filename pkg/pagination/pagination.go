// Package pagination normalizes the page/limit query parameters shared by
// the contract and sync ledger list endpoints.
package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// The ledger grows without bound and the UI renders one screenful at a
// time, so the cap stays tight.
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params is a sanitized page/limit pair
type Params struct {
	Page  int
	Limit int
}

// Parse reads page and limit from the query string. Absent, malformed or
// out-of-range values fall back to the defaults rather than erroring.
func Parse(c *gin.Context) Params {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = DefaultPage
	}

	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return Params{Page: page, Limit: limit}
}

// Offset converts a page/limit pair into the row offset repositories hand
// to the database.
func Offset(page, limit int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * limit
}
