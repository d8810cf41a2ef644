package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/pratikychavan/PyPI-clone/internal/pep440"
	"github.com/pratikychavan/PyPI-clone/internal/pypi"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
)

// Yank marks every file of a release as yanked. The marker sidecars are
// written to storage before the in-memory flags flip: storage is the source
// of truth, and a partially applied yank converges on the next rebuild.
// Yanked files stay downloadable by exact version pin (PEP 592); installers
// just stop choosing them.
func (ix *Index) Yank(ctx context.Context, store storage.Storage, name, version, reason string) error {
	canonical, normalized, filenames, err := ix.releaseFilenames(name, version)
	if err != nil {
		return err
	}

	for _, filename := range filenames {
		path := storage.YankPath(canonical, filename)
		if err := writeYankMarker(ctx, store, path, reason); err != nil {
			return fmt.Errorf("failed to write yank marker for %s: %w", filename, err)
		}
	}

	ix.setYanked(canonical, normalized, true, reason)
	return nil
}

// Unyank removes the yank markers of a release and clears the flags.
func (ix *Index) Unyank(ctx context.Context, store storage.Storage, name, version string) error {
	canonical, normalized, filenames, err := ix.releaseFilenames(name, version)
	if err != nil {
		return err
	}

	for _, filename := range filenames {
		path := storage.YankPath(canonical, filename)
		if err := store.Delete(ctx, path); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("failed to remove yank marker for %s: %w", filename, err)
		}
	}

	ix.setYanked(canonical, normalized, false, "")
	return nil
}

// releaseFilenames resolves a project/version pair to the filenames of the
// release, normalizing both inputs.
func (ix *Index) releaseFilenames(name, version string) (canonical, normalized string, filenames []string, err error) {
	canonical = pypi.CanonicalizeName(name)

	parsed, err := pep440.Parse(version)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %s %s", ErrVersionNotFound, canonical, version)
	}
	normalized = parsed.String()

	ix.mu.RLock()
	pkg, ok := ix.packages[canonical]
	ix.mu.RUnlock()
	if !ok {
		return "", "", nil, fmt.Errorf("%w: %s", ErrPackageNotFound, canonical)
	}

	pkg.mu.RLock()
	defer pkg.mu.RUnlock()
	rel, ok := pkg.Releases[normalized]
	if !ok {
		return "", "", nil, fmt.Errorf("%w: %s %s", ErrVersionNotFound, canonical, normalized)
	}
	for _, f := range rel.Files {
		filenames = append(filenames, f.Filename)
	}
	return canonical, normalized, filenames, nil
}

// setYanked flips the in-memory flags on every file of a release.
func (ix *Index) setYanked(canonical, version string, yanked bool, reason string) {
	ix.mu.RLock()
	pkg, ok := ix.packages[canonical]
	ix.mu.RUnlock()
	if !ok {
		return
	}

	pkg.mu.Lock()
	defer pkg.mu.Unlock()
	if rel, ok := pkg.Releases[version]; ok {
		for _, f := range rel.Files {
			f.Yanked = yanked
			f.YankedReason = reason
		}
	}
}

// writeYankMarker stores the marker, replacing an existing one so a repeated
// yank refreshes the recorded reason.
func writeYankMarker(ctx context.Context, store storage.Storage, path, reason string) error {
	content := []byte(reason)
	_, err := store.Upload(ctx, path, bytes.NewReader(content), int64(len(content)))
	if errors.Is(err, storage.ErrAlreadyExists) {
		if err := store.Delete(ctx, path); err != nil {
			return err
		}
		_, err = store.Upload(ctx, path, bytes.NewReader(content), int64(len(content)))
	}
	return err
}
