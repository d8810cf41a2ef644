// packages.go implements the package moderation handlers: yanking and
// un-yanking releases, and rebuilding the index from storage.
package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/index"
	"github.com/pratikychavan/PyPI-clone/internal/metadata"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
)

// PackageHandlers handles package moderation endpoints
type PackageHandlers struct {
	ix    *index.Index
	store storage.Storage
}

// NewPackageHandlers creates a new PackageHandlers instance
func NewPackageHandlers(ix *index.Index, store storage.Storage) *PackageHandlers {
	return &PackageHandlers{ix: ix, store: store}
}

// YankRequest carries the optional reason shown to installers
type YankRequest struct {
	Reason string `json:"reason"`
}

// @Summary      Yank release
// @Description  Mark every file of a release as yanked. Installers skip yanked files during resolution but can still fetch them when pinned by exact version (PEP 592). The marker is durable: it survives an index rebuild.
// @Tags         Packages
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        name     path  string       true   "Package name"
// @Param        version  path  string       true   "Release version"
// @Param        body     body  YankRequest  false  "Optional reason"
// @Success      200  {object}  map[string]interface{}  "message, package, version"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Admin privileges required"
// @Failure      404  {object}  map[string]interface{}  "Package or version not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/packages/{name}/{version}/yank [post]
// YankHandler yanks a release
// POST /api/v1/admin/packages/:name/:version/yank
func (h *PackageHandlers) YankHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		version := c.Param("version")

		var req YankRequest
		// Body is optional; a bare POST yanks without a reason.
		_ = c.ShouldBindJSON(&req)

		err := h.ix.Yank(c.Request.Context(), h.store, name, version, req.Reason)
		if err != nil {
			if errors.Is(err, index.ErrPackageNotFound) || errors.Is(err, index.ErrVersionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "Package or version not found",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to yank release",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Release yanked",
			"package": name,
			"version": version,
			"reason":  req.Reason,
		})
	}
}

// @Summary      Unyank release
// @Description  Clear the yank marker from every file of a release, restoring it to normal resolution.
// @Tags         Packages
// @Security     Bearer
// @Produce      json
// @Param        name     path  string  true  "Package name"
// @Param        version  path  string  true  "Release version"
// @Success      200  {object}  map[string]interface{}  "message, package, version"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Admin privileges required"
// @Failure      404  {object}  map[string]interface{}  "Package or version not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/admin/packages/{name}/{version}/unyank [post]
// UnyankHandler clears a yank marker
// POST /api/v1/admin/packages/:name/:version/unyank
func (h *PackageHandlers) UnyankHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		version := c.Param("version")

		err := h.ix.Unyank(c.Request.Context(), h.store, name, version)
		if err != nil {
			if errors.Is(err, index.ErrPackageNotFound) || errors.Is(err, index.ErrVersionNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "Package or version not found",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to unyank release",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Release unyanked",
			"package": name,
			"version": version,
		})
	}
}

// @Summary      Rebuild index
// @Description  Rebuild the in-memory index by walking storage and re-extracting metadata from every archive. Runs synchronously; serving continues from the old index until the rebuilt one is swapped in.
// @Tags         Packages
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "message, packages, files, duration"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Admin privileges required"
// @Failure      500  {object}  map[string]interface{}  "Rebuild failed"
// @Router       /api/v1/admin/rebuild [post]
// RebuildHandler rebuilds the index from storage
// POST /api/v1/admin/rebuild
func (h *PackageHandlers) RebuildHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		if err := h.ix.Rebuild(c.Request.Context(), h.store, metadata.Extract); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Rebuild failed: " + err.Error(),
			})
			return
		}

		stats := h.ix.Stats()
		c.JSON(http.StatusOK, gin.H{
			"message":  "Index rebuilt",
			"packages": stats.Packages,
			"files":    stats.Files,
			"duration": time.Since(start).String(),
		})
	}
}
