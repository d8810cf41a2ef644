// Package local stores distribution files on the local filesystem. Suitable
// for development and single-node deployments; multiple registry instances
// would need a shared filesystem, so production clusters should use one of
// the cloud backends instead.
package local

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
	"github.com/pratikychavan/PyPI-clone/pkg/checksum"
)

func init() {
	storage.Register("local", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Local, cfg.Server.BaseURL)
	})
}

// LocalStorage keeps objects as plain files under a base directory, using the
// object path as the relative file path.
type LocalStorage struct {
	basePath      string
	serveDirectly bool
	baseURL       string
}

// New creates the base directory if needed and returns the backend.
func New(cfg *config.LocalStorageConfig, serverBaseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath:      cfg.BasePath,
		serveDirectly: cfg.ServeDirectly,
		baseURL:       serverBaseURL,
	}, nil
}

// fullPath maps a slash-separated object path to its location on disk.
func (s *LocalStorage) fullPath(path string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(path))
}

// Upload writes the content to a temporary file and hard-links it into
// place. link(2) fails with EEXIST when the target exists, which makes the
// create-if-absent check and the publish a single atomic step even when two
// uploads race.
func (s *LocalStorage) Upload(ctx context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	target := s.fullPath(path)

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// The temp file lives in the target directory so the link below never
	// crosses filesystems.
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	sha := sha256.New()
	md := md5.New()
	written, err := io.Copy(io.MultiWriter(tmp, sha, md), reader)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}

	// Durable before visible.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Link(tmpPath, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("failed to publish file: %w", err)
	}

	return &storage.UploadResult{
		Path:     path,
		Size:     written,
		Checksum: hex.EncodeToString(sha.Sum(nil)),
		MD5:      hex.EncodeToString(md.Sum(nil)),
	}, nil
}

// Download opens the stored file.
func (s *LocalStorage) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	file, err := os.Open(s.fullPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes the file, then prunes any directories the removal left
// empty. Deleting an absent file is not an error.
func (s *LocalStorage) Delete(ctx context.Context, path string) error {
	target := s.fullPath(path)

	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.pruneEmptyDirs(filepath.Dir(target))
	return nil
}

// pruneEmptyDirs removes dir and its ancestors up to (not including) the
// storage root, stopping at the first non-empty directory.
func (s *LocalStorage) pruneEmptyDirs(dir string) {
	for dir != s.basePath {
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// GetURL returns the download URL for the file. With serve_directly enabled
// this points at the registry's public /packages/ route; otherwise it is a
// file:// URL for co-located consumers. ttl is ignored — local URLs do not
// expire.
func (s *LocalStorage) GetURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", storage.ErrNotFound, path)
	}

	if s.serveDirectly {
		if _, filename, ok := storage.SplitObjectPath(path); ok {
			return fmt.Sprintf("%s/packages/%s", s.baseURL, filename), nil
		}
		return fmt.Sprintf("%s/%s", s.baseURL, path), nil
	}
	return fmt.Sprintf("file://%s", s.fullPath(path)), nil
}

// Exists reports whether the file is present.
func (s *LocalStorage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(s.fullPath(path))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
}

// GetMetadata stats the file and hashes its contents. Local disk keeps no
// side-channel checksum, so this reads the whole file.
func (s *LocalStorage) GetMetadata(ctx context.Context, path string) (*storage.FileMetadata, error) {
	target := s.fullPath(path)

	stat, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to get file metadata: %w", err)
	}

	file, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	sum, err := checksum.CalculateSHA256(file)
	if err != nil {
		return nil, err
	}

	return &storage.FileMetadata{
		Path:         path,
		Size:         stat.Size(),
		Checksum:     sum,
		LastModified: stat.ModTime(),
	}, nil
}

// List walks the tree under prefix and returns slash-form paths relative to
// the storage root. In-flight upload temp files are skipped.
func (s *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	root := filepath.Join(s.basePath, filepath.FromSlash(prefix))

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat prefix: %w", err)
	}
	if !info.IsDir() {
		return []string{prefix}, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return paths, nil
}
