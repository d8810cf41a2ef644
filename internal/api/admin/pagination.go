// pagination.go: query-parameter parsing shared by the paginated admin
// listings.
package admin

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// pageParams reads ?page and ?per_page. Missing, malformed, or out-of-range
// values fall back to the defaults rather than erroring: an admin listing
// should never 400 over pagination.
func pageParams(c *gin.Context, defaultPer, maxPer int) (page, perPage, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPer)))

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPer {
		perPage = defaultPer
	}
	return page, perPage, (page - 1) * perPage
}
