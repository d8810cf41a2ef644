// Package simple implements the pip "simple" repository protocol HTTP handlers
// (PEP 503, with the PEP 658/714 metadata attributes and PEP 592 yank markers).
// These endpoints are readable without credentials — pip resolves and installs
// packages at the discovery stage before any authentication happens, and the
// protocol pages carry no secrets. Write access (upload, yank) is handled by
// the packages and admin packages which enforce authentication.
package simple

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/index"
	"github.com/pratikychavan/PyPI-clone/internal/pypi"
)

const contentTypeHTML = "text/html; charset=utf-8"

// Handler serves the simple-protocol pages from the in-memory index.
type Handler struct {
	ix *index.Index
}

// NewHandler creates a simple-protocol handler backed by the given index.
func NewHandler(ix *index.Index) *Handler {
	return &Handler{ix: ix}
}

// @Summary      Simple index
// @Description  Returns the PEP 503 root index page: one anchor per project, canonicalized name, trailing-slash href. This is the page `pip index` and resolvers walk to discover projects.
// @Tags         Simple
// @Produce      html
// @Success      200  {string}  string  "HTML project list"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /simple/ [get]
// Index serves GET /simple/
func (h *Handler) Index(c *gin.Context) {
	page, err := h.ix.RenderSimpleIndex()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to render index page",
		})
		return
	}
	c.Data(http.StatusOK, contentTypeHTML, []byte(page))
}

// @Summary      Project page
// @Description  Returns the PEP 503 file list for one project. Requests using a non-canonical spelling are redirected (301) to the canonical URL, as PEP 503 requires. File anchors carry sha256 fragments, data-requires-python, PEP 658 metadata attributes, and PEP 592 yank attributes.
// @Tags         Simple
// @Produce      html
// @Param        package  path  string  true  "Project name (any spelling)"
// @Success      200  {string}  string  "HTML file list"
// @Success      301  "Redirect to the canonical project URL"
// @Failure      404  {object}  map[string]interface{}  "Project not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /simple/{package}/ [get]
// Project serves GET /simple/:package/
func (h *Handler) Project(c *gin.Context) {
	requested := c.Param("package")
	canonical := pypi.CanonicalizeName(requested)

	// PEP 503: every spelling of a name must resolve, but only the canonical
	// URL serves content. pip follows the redirect transparently.
	if requested != canonical {
		c.Redirect(http.StatusMovedPermanently, "/simple/"+canonical+"/")
		return
	}

	page, err := h.ix.RenderProjectPage(canonical)
	if err != nil {
		if errors.Is(err, index.ErrPackageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Package not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to render project page",
		})
		return
	}
	c.Data(http.StatusOK, contentTypeHTML, []byte(page))
}
