package packages

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/index"
)

// @Summary      List packages
// @Description  Returns a summary of every package in the registry with its latest version and file count.
// @Tags         Packages
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "Package list"
// @Router       /api/v1/packages [get]
// ListPackagesHandler handles package listing
// Implements: GET /api/v1/packages
func ListPackagesHandler(ix *index.Index) gin.HandlerFunc {
	return func(c *gin.Context) {
		names := ix.ListPackages()

		packages := make([]gin.H, 0, len(names))
		for _, name := range names {
			pkg, err := ix.Project(name)
			if err != nil {
				continue
			}
			versions, err := ix.ListVersions(name)
			if err != nil || len(versions) == 0 {
				continue
			}

			fileCount := 0
			for _, release := range pkg.Releases {
				fileCount += len(release.Files)
			}

			packages = append(packages, gin.H{
				"name":           pkg.Name,
				"display_name":   pkg.DisplayName,
				"summary":        pkg.Summary,
				"latest_version": versions[len(versions)-1],
				"files":          fileCount,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"packages": packages,
			"total":    len(packages),
		})
	}
}

// @Summary      Get package detail
// @Description  Returns the full release history of a package, including per-file checksums and yank markers. The name is canonicalized before lookup, so any PEP 503 spelling works.
// @Tags         Packages
// @Produce      json
// @Param        name  path  string  true  "Package name"
// @Success      200  {object}  map[string]interface{}  "Package detail"
// @Failure      404  {object}  map[string]interface{}  "Package not found"
// @Router       /api/v1/packages/{name} [get]
// GetPackageHandler handles package detail lookup
// Implements: GET /api/v1/packages/:name
func GetPackageHandler(ix *index.Index) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")

		pkg, err := ix.Project(name)
		if err != nil {
			if errors.Is(err, index.ErrPackageNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "Package not found",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load package",
			})
			return
		}

		versions, err := ix.ListVersions(name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load package",
			})
			return
		}

		latest := ""
		if len(versions) > 0 {
			latest = versions[len(versions)-1]
		}

		c.JSON(http.StatusOK, gin.H{
			"name":           pkg.Name,
			"display_name":   pkg.DisplayName,
			"summary":        pkg.Summary,
			"latest_version": latest,
			"versions":       versions,
			"releases":       pkg.Releases,
		})
	}
}

// @Summary      Search packages
// @Description  Substring search across package names and summaries. Exact name matches rank first, then name substrings, then summary matches.
// @Tags         Packages
// @Produce      json
// @Param        q  query  string  true  "Search query"
// @Success      200  {object}  map[string]interface{}  "Search results"
// @Failure      400  {object}  map[string]interface{}  "Missing query"
// @Router       /api/v1/search [get]
// SearchHandler handles package search
// Implements: GET /api/v1/search
func SearchHandler(ix *index.Index) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Query parameter 'q' is required",
			})
			return
		}

		results := ix.Search(query)

		c.JSON(http.StatusOK, gin.H{
			"query":   query,
			"results": results,
			"total":   len(results),
		})
	}
}

// @Summary      Registry statistics
// @Description  Returns package, file and byte totals for the registry.
// @Tags         Packages
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "Registry statistics"
// @Router       /api/v1/stats [get]
// StatsHandler handles registry statistics
// Implements: GET /api/v1/stats
func StatsHandler(ix *index.Index) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := ix.Stats()

		c.JSON(http.StatusOK, gin.H{
			"packages":    stats.Packages,
			"files":       stats.Files,
			"total_bytes": stats.TotalBytes,
		})
	}
}
