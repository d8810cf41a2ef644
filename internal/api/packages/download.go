// download.go serves distribution files and their sidecars. Local storage is
// streamed through the registry with the digest verified on the way out;
// cloud backends answer with a redirect to a short-lived presigned URL.
package packages

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/index"
	"github.com/pratikychavan/PyPI-clone/internal/pypi"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
	"github.com/pratikychavan/PyPI-clone/internal/telemetry"
	"github.com/pratikychavan/PyPI-clone/pkg/checksum"
)

// presignedURLTTL bounds how long a redirect target stays valid on cloud
// backends. pip follows the redirect immediately, so a short window is enough.
const presignedURLTTL = 15 * time.Minute

// @Summary      Download distribution file
// @Description  Serves a published distribution file by filename. Appending .metadata downloads the extracted core-metadata sidecar (PEP 658); appending .asc downloads the detached GPG signature. Yanked files remain downloadable — installers just stop selecting them.
// @Tags         Packages
// @Produce      octet-stream
// @Param        filename  path  string  true  "Distribution filename, optionally with a .metadata or .asc suffix"
// @Success      200  {file}  binary  "File content (local storage)"
// @Success      302  "Redirect to a presigned URL (cloud storage)"
// @Failure      404  {object}  map[string]interface{}  "File not found"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /packages/{filename} [get]
// DownloadHandler handles distribution and sidecar downloads
// Implements: GET /packages/:filename
func DownloadHandler(ix *index.Index, store storage.Storage, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename := strings.TrimPrefix(c.Param("filename"), "/")

		switch {
		case strings.HasSuffix(filename, ".metadata"):
			serveSidecar(c, ix, store, strings.TrimSuffix(filename, ".metadata"), ".metadata")
		case strings.HasSuffix(filename, ".asc"):
			serveSidecar(c, ix, store, strings.TrimSuffix(filename, ".asc"), ".asc")
		default:
			serveArtifact(c, ix, store, cfg, filename)
		}
	}
}

// serveArtifact serves the archive itself, counting the download.
func serveArtifact(c *gin.Context, ix *index.Index, store storage.Storage, cfg *config.Config, filename string) {
	file, err := ix.FindFile(filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "File not found",
		})
		return
	}

	// The filename parsed once already inside FindFile; parse again for the
	// metric labels.
	dist, err := pypi.ParseFilename(filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "File not found",
		})
		return
	}
	telemetry.PackageDownloadsTotal.WithLabelValues(pypi.CanonicalizeName(dist.Name), string(dist.Kind)).Inc()

	// Cloud backends serve the bytes themselves via a presigned URL.
	if cfg.Storage.DefaultBackend != "local" {
		url, err := store.GetURL(c.Request.Context(), file.Path, presignedURLTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate download URL",
			})
			return
		}
		c.Redirect(http.StatusFound, url)
		return
	}

	reader, err := store.Download(c.Request.Context(), file.Path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "File not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read file",
		})
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("X-Checksum-SHA256", file.SHA256)
	c.Header("ETag", `"sha256:`+file.SHA256+`"`)

	// Hash the bytes as they stream out. The status is already written when
	// the digest comes back, so a mismatch can only be logged — the scrub job
	// flags the object for repair.
	tee := checksum.TeeSHA256(reader)
	c.DataFromReader(http.StatusOK, file.Size, "application/octet-stream", tee, nil)

	if digest := tee.Sum(); digest != file.SHA256 {
		slog.Error("stored artifact failed digest verification while serving",
			"filename", filename,
			"path", file.Path,
			"expected", file.SHA256,
			"actual", digest,
		)
	}
}

// serveSidecar serves the .metadata or .asc companion of a distribution file.
// The index flags say whether the sidecar exists, so a missing flag is a 404
// without touching storage.
func serveSidecar(c *gin.Context, ix *index.Index, store storage.Storage, baseFilename, suffix string) {
	file, err := ix.FindFile(baseFilename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "File not found",
		})
		return
	}

	switch suffix {
	case ".metadata":
		if file.MetadataSHA256 == "" {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No metadata available for this file",
			})
			return
		}
	case ".asc":
		if !file.HasSignature {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "No signature available for this file",
			})
			return
		}
	}

	reader, err := store.Download(c.Request.Context(), file.Path+suffix)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "File not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read file",
		})
		return
	}
	defer reader.Close()

	// Sidecars are small; read fully rather than streaming.
	content, err := io.ReadAll(reader)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read file",
		})
		return
	}

	if suffix == ".metadata" {
		c.Header("X-Checksum-SHA256", file.MetadataSHA256)
	}
	c.Data(http.StatusOK, "application/octet-stream", content)
}
