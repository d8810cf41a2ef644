package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pratikychavan/PyPI-clone/internal/metadata"
	"github.com/pratikychavan/PyPI-clone/internal/pep440"
	"github.com/pratikychavan/PyPI-clone/internal/pypi"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
	"github.com/pratikychavan/PyPI-clone/internal/telemetry"
	"github.com/pratikychavan/PyPI-clone/pkg/checksum"
)

// ExtractFunc recovers a distribution's metadata from the full archive bytes.
// Rebuild calls it only for archives whose .metadata sidecar is missing;
// callers normally pass metadata.Extract.
type ExtractFunc func(data []byte, filename string) (*metadata.Distribution, error)

// Rebuild replaces the projection with one rebuilt from a storage walk. Each
// archive's .metadata sidecar supplies the record; archives without one go
// through the extraction fallback. Objects that cannot be interpreted are
// logged and skipped, never fatal — a single bad object must not take the
// registry's catalog down with it.
//
// The new projection is built off to the side and swapped in at the end, so
// reads keep being served from the old one throughout. A registration racing
// the walk can be missed until the next rebuild.
func (ix *Index) Rebuild(ctx context.Context, store storage.Storage, extract ExtractFunc) error {
	start := time.Now()

	keys, err := store.List(ctx, storage.AllPackagesPrefix())
	if err != nil {
		return fmt.Errorf("failed to list stored packages: %w", err)
	}

	keySet := make(map[string]bool, len(keys))
	for _, key := range keys {
		keySet[key] = true
	}

	fresh := New(ix.maxSearchResults)
	var skipped int

	for _, key := range keys {
		if isSidecarKey(key) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fresh.registerFromStorage(ctx, store, key, keySet, extract); err != nil {
			slog.Warn("skipping object during index rebuild", "path", key, "error", err)
			skipped++
		}
	}

	ix.mu.Lock()
	ix.packages = fresh.packages
	projects := len(ix.packages)
	ix.mu.Unlock()
	ix.fileCount.Store(fresh.fileCount.Load())

	files := ix.fileCount.Load()
	telemetry.IndexProjects.Set(float64(projects))
	telemetry.IndexFiles.Set(float64(files))
	telemetry.IndexRebuildDuration.Observe(time.Since(start).Seconds())

	slog.Info("index rebuild complete",
		"projects", projects,
		"files", files,
		"skipped", skipped,
		"duration", time.Since(start))
	return nil
}

// isSidecarKey reports whether the key names a sidecar rather than an archive.
func isSidecarKey(key string) bool {
	return strings.HasSuffix(key, ".metadata") ||
		strings.HasSuffix(key, ".asc") ||
		strings.HasSuffix(key, ".yanked")
}

// registerFromStorage interprets one stored archive and registers it.
func (ix *Index) registerFromStorage(ctx context.Context, store storage.Storage, key string, keySet map[string]bool, extract ExtractFunc) error {
	dirName, filename, ok := storage.SplitObjectPath(key)
	if !ok {
		return errors.New("object path outside the packages layout")
	}

	fromName, err := pypi.ParseFilename(filename)
	if err != nil {
		return err
	}

	var (
		dist *metadata.Distribution
		file File
	)

	if keySet[key+".metadata"] {
		raw, err := readObject(ctx, store, key+".metadata")
		if err != nil {
			return fmt.Errorf("failed to read metadata sidecar: %w", err)
		}
		dist, err = metadata.ParseRecord(raw)
		if err != nil {
			return fmt.Errorf("failed to parse metadata sidecar: %w", err)
		}

		stat, err := store.GetMetadata(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to stat archive: %w", err)
		}

		file = File{
			Filename:       filename,
			Path:           key,
			Size:           stat.Size,
			SHA256:         stat.Checksum,
			MetadataSHA256: checksum.SHA256Bytes(raw),
			RequiresPython: dist.RequiresPython,
			UploadedAt:     stat.LastModified,
		}

		// The sidecar skips the archive read, so the filename cross-check
		// that extraction would have done happens here.
		nameVer, err := pep440.Parse(fromName.Version)
		if err != nil || !pep440.Equal(nameVer, dist.Parsed) {
			return fmt.Errorf("metadata sidecar version %q does not match filename", dist.Version)
		}
	} else {
		if extract == nil {
			return errors.New("no metadata sidecar and no extraction fallback")
		}
		data, err := readObject(ctx, store, key)
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}
		dist, err = extract(data, filename)
		if err != nil {
			return err
		}

		stat, err := store.GetMetadata(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to stat archive: %w", err)
		}

		file = File{
			Filename:       filename,
			Path:           key,
			Size:           int64(len(data)),
			SHA256:         checksum.SHA256Bytes(data),
			MD5:            checksum.MD5Bytes(data),
			RequiresPython: dist.RequiresPython,
			UploadedAt:     stat.LastModified,
		}
	}

	if dirName != dist.CanonicalName() || pypi.CanonicalizeName(fromName.Name) != dist.CanonicalName() {
		return fmt.Errorf("metadata names project %q, object stored under %q", dist.Name, dirName)
	}

	if keySet[key+".yanked"] {
		reason, err := readObject(ctx, store, key+".yanked")
		if err != nil {
			// Treat an unreadable marker as a yank with an unknown reason
			// rather than silently serving the file as current.
			slog.Warn("failed to read yank marker", "path", key+".yanked", "error", err)
			reason = nil
		}
		file.Yanked = true
		file.YankedReason = strings.TrimSpace(string(reason))
	}
	file.HasSignature = keySet[key+".asc"]

	ix.register(dist.Name, dist.Version, dist.Summary, file, false)
	return nil
}

// readObject downloads a whole object into memory.
func readObject(ctx context.Context, store storage.Storage, path string) ([]byte, error) {
	rc, err := store.Download(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
