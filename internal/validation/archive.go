// Package validation provides input validation for distribution uploads. Each
// validator checks a specific aspect of the upload: filename grammar, container
// structure (zip/tar.gz integrity, path traversal, decompression size limits)
// and GPG signature verification. Validators run before any data is persisted
// so invalid uploads are rejected early without consuming storage.
package validation

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/pratikychavan/PyPI-clone/internal/pypi"
)

const (
	// MaxUploadSize is the default maximum size for an uploaded archive (100MB)
	MaxUploadSize = 100 * 1024 * 1024
)

// ErrTooLarge is returned when an upload exceeds the configured size limit.
// Handlers map it to 413 instead of the generic 400.
var ErrTooLarge = errors.New("upload exceeds maximum allowed size")

// ValidateUpload checks an uploaded archive before it enters the pipeline:
// the filename must parse as a wheel or sdist, the payload must be non-empty
// and within maxSize, and the container must be structurally sound with safe
// member paths. Returns the parsed filename fields on success.
func ValidateUpload(filename string, data []byte, maxSize int64) (*pypi.Distribution, error) {
	if maxSize <= 0 {
		maxSize = MaxUploadSize
	}

	dist, err := pypi.ParseFilename(filename)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("uploaded file is empty")
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d bytes)", ErrTooLarge, len(data), maxSize)
	}

	switch dist.Kind {
	case pypi.KindWheel:
		err = validateWheel(data, maxSize)
	case pypi.KindSdist:
		err = validateSdist(data, maxSize)
	default:
		err = fmt.Errorf("unsupported distribution kind %q", dist.Kind)
	}
	if err != nil {
		return nil, err
	}

	return dist, nil
}

// validateWheel checks that the payload is a well-formed zip with safe member
// paths and a bounded decompressed size.
func validateWheel(data []byte, maxSize int64) error {
	// Check for ZIP magic bytes (PK\x03\x04, or PK\x05\x06 for an empty ZIP)
	if len(data) < 4 {
		return fmt.Errorf("file too small to be a valid wheel")
	}
	if !bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}) &&
		!bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x05, 0x06}) {
		return fmt.Errorf("wheel is not a valid ZIP file")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("invalid zip format: %w", err)
	}

	var totalSize int64
	for _, f := range zr.File {
		if err := validatePath(f.Name); err != nil {
			return fmt.Errorf("invalid file path in archive: %w", err)
		}

		totalSize += int64(f.UncompressedSize64)
		if totalSize > maxSize {
			return fmt.Errorf("decompressed archive exceeds maximum allowed size of %d bytes", maxSize)
		}
	}

	if len(zr.File) == 0 {
		return fmt.Errorf("archive is empty")
	}

	return nil
}

// validateSdist checks that the payload is a well-formed tar.gz with safe
// member paths and a bounded decompressed size.
func validateSdist(data []byte, maxSize int64) error {
	gzReader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid gzip format: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)

	var totalSize int64
	fileCount := 0

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("invalid tar format: %w", err)
		}

		fileCount++
		totalSize += header.Size

		// Check for path traversal attacks
		if err := validatePath(header.Name); err != nil {
			return fmt.Errorf("invalid file path in archive: %w", err)
		}

		if totalSize > maxSize {
			return fmt.Errorf("decompressed archive exceeds maximum allowed size of %d bytes", maxSize)
		}
	}

	if fileCount == 0 {
		return fmt.Errorf("archive is empty")
	}

	return nil
}

// validatePath checks for path traversal attacks
func validatePath(path string) error {
	// Normalize path
	path = filepath.Clean(path)

	// Check for absolute paths (Unix-style)
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	// Check for Windows-style absolute paths (e.g. C:\...) even on non-Windows hosts.
	// Archives built on Windows machines may contain these paths.
	if len(path) >= 3 && path[1] == ':' && (path[2] == '\\' || path[2] == '/') {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	// Check for path traversal (..)
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal not allowed: %s", path)
	}

	// Check for dangerous filenames
	if strings.HasPrefix(path, ".") && path != "." {
		// Allow hidden files but check for specific dangerous ones
		if strings.HasPrefix(path, ".git") {
			return fmt.Errorf("git directories not allowed in archives")
		}
	}

	return nil
}
