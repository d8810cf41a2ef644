// Package storage abstracts where distribution files live. The registry
// core speaks only this interface; local disk, S3, Azure Blob, and GCS
// backends plug in behind it.
//
// Two properties every backend must hold:
//
//   - Upload is create-if-absent. A path is written exactly once; a second
//     write to the same path fails with ErrAlreadyExists. Duplicate-filename
//     detection stays atomic even when two uploads race because the backend,
//     not the database, is the arbiter.
//   - Stored files are immutable. There is no overwrite operation; the only
//     recovery from a bad upload is deleting and publishing a new version.
//
// Backends self-register from an init function in their own package and are
// pulled in by blank imports in cmd/server/main.go, so enabling a backend is
// an import line, not a factory edit:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrAlreadyExists is returned by Upload when the path is already taken.
	ErrAlreadyExists = errors.New("object already exists")

	// ErrNotFound is returned when no object exists at the requested path.
	ErrNotFound = errors.New("object not found")
)

// Storage is the backend contract for distribution files.
type Storage interface {
	// Upload stores the reader's contents at path, hashing as it writes.
	// size is the expected length when known, or -1. Fails with
	// ErrAlreadyExists when the path is occupied.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens the object for reading. The caller closes it.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object.
	Delete(ctx context.Context, path string) error

	// GetURL returns a URL installers can fetch the object from: a signed
	// URL with the given TTL on cloud backends, a serving path locally.
	GetURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Exists reports whether an object is stored at path.
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata returns size and checksum without reading the object.
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)

	// List returns the paths of all objects under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// UploadResult reports where an upload landed and what was hashed on the way
// in. MD5 is kept alongside SHA256 for installers that still compare the
// legacy digest.
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string // hex SHA256
	MD5      string // hex MD5
}

// FileMetadata describes a stored object.
type FileMetadata struct {
	Path         string
	Size         int64
	Checksum     string // hex SHA256, when the backend recorded one
	LastModified time.Time
}
