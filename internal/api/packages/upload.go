// Package packages implements the distribution-file HTTP handlers: upload,
// download (with metadata and signature sidecars), and the JSON discovery
// APIs. Downloads are intentionally unauthenticated to match the simple
// protocol; uploads run behind the auth middleware and the publish pipeline.
package packages

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pratikychavan/PyPI-clone/internal/middleware"
	"github.com/pratikychavan/PyPI-clone/internal/pipeline"
	"github.com/pratikychavan/PyPI-clone/internal/validation"
)

// @Summary      Upload distribution file
// @Description  Upload a wheel or sdist as multipart form data, the way twine posts it. The archive is validated, its metadata extracted and cross-checked against the filename, and the file published atomically. Re-uploading an existing filename is rejected; publish a new version instead.
// @Tags         Packages
// @Security     Bearer
// @Accept       multipart/form-data
// @Produce      json
// @Param        content        formData  file  true   "Distribution archive (.whl or .tar.gz)"
// @Param        gpg_signature  formData  file  false  "Detached ASCII-armored GPG signature"
// @Success      201  {object}  pipeline.Result  "package, version, filename, size, sha256, md5"
// @Failure      400  {object}  map[string]interface{}  "Invalid filename, corrupt archive, or metadata mismatch"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      409  {object}  map[string]interface{}  "Filename already published"
// @Failure      413  {object}  map[string]interface{}  "Archive exceeds the size limit"
// @Failure      502  {object}  map[string]interface{}  "Storage backend failure"
// @Router       /upload [post]
// UploadHandler handles distribution file uploads
// Implements: POST /upload
// Accepts multipart form with: content (the archive), gpg_signature (optional)
func UploadHandler(pl *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseMultipartForm(64 << 20); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to parse multipart form",
			})
			return
		}

		file, header, err := c.Request.FormFile("content")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Missing or invalid content file field",
			})
			return
		}
		defer file.Close()

		buf := &bytes.Buffer{}
		if _, err := io.Copy(buf, file); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to read uploaded file",
			})
			return
		}

		var signature []byte
		if sigFile, _, sigErr := c.Request.FormFile("gpg_signature"); sigErr == nil {
			signature, err = io.ReadAll(sigFile)
			sigFile.Close()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to read signature",
				})
				return
			}
		}

		uploader := ""
		if identity := middleware.Identity(c); identity != nil {
			uploader = identity.Username
		}

		result, err := pl.Process(c.Request.Context(), pipeline.Upload{
			Filename:  header.Filename,
			Data:      buf.Bytes(),
			Signature: signature,
			Uploader:  uploader,
		})
		if err != nil {
			c.JSON(uploadErrorStatus(err), gin.H{
				"error": err.Error(),
			})
			return
		}

		c.Set(middleware.AuditResourceKey, result.Package+"/"+result.Version)
		c.JSON(http.StatusCreated, result)
	}
}

// uploadErrorStatus maps a pipeline rejection to its HTTP status. Duplicate
// filenames are conflicts, oversize archives get 413, storage trouble is a
// gateway problem, and everything else the client sent is a 400.
func uploadErrorStatus(err error) int {
	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError
	}
	switch perr.Kind {
	case pipeline.KindDuplicate:
		return http.StatusConflict
	case pipeline.KindStorage:
		return http.StatusBadGateway
	case pipeline.KindValidation:
		if errors.Is(perr, validation.ErrTooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	default:
		return http.StatusBadRequest
	}
}
