// integrity_scrub.go implements the IntegrityScrub background job, which
// re-hashes every stored distribution file against the SHA256 recorded at
// upload time. A mismatch means the bytes in storage changed after publish —
// bit rot, a truncated write, or tampering — and installers verifying the
// index's digest would reject the file.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pratikychavan/PyPI-clone/internal/config"
	"github.com/pratikychavan/PyPI-clone/internal/index"
	"github.com/pratikychavan/PyPI-clone/internal/storage"
	"github.com/pratikychavan/PyPI-clone/internal/telemetry"
	"github.com/pratikychavan/PyPI-clone/pkg/checksum"
)

// IntegrityScrub periodically verifies stored archives against their recorded
// digests. It never repairs or deletes; it counts and logs, and the mismatch
// counter is the alert signal.
type IntegrityScrub struct {
	store    storage.Storage
	ix       *index.Index
	cfg      *config.IntegrityScrubConfig
	stopChan chan struct{}
}

// NewIntegrityScrub creates a new integrity scrub job.
func NewIntegrityScrub(store storage.Storage, ix *index.Index, cfg *config.IntegrityScrubConfig) *IntegrityScrub {
	return &IntegrityScrub{
		store:    store,
		ix:       ix,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scrub loop. It runs once immediately, then repeats on the
// configured interval until ctx is cancelled or Stop is called. When the job
// is disabled in config, Start returns immediately and is safe to call.
func (s *IntegrityScrub) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		slog.Info("integrity scrub disabled")
		return
	}

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("integrity scrub started", "interval", interval)

	s.runScrub(ctx)

	for {
		select {
		case <-ticker.C:
			s.runScrub(ctx)
		case <-s.stopChan:
			slog.Info("integrity scrub stopped")
			return
		case <-ctx.Done():
			slog.Info("integrity scrub context cancelled")
			return
		}
	}
}

// Stop signals the scrub loop to exit.
func (s *IntegrityScrub) Stop() {
	close(s.stopChan)
}

func (s *IntegrityScrub) runScrub(ctx context.Context) {
	start := time.Now()
	checked, mismatched, err := s.RunOnce(ctx)
	if err != nil {
		slog.Error("integrity scrub aborted", "error", err, "checked", checked)
		return
	}
	slog.Info("integrity scrub finished",
		"checked", checked,
		"mismatched", mismatched,
		"duration", time.Since(start))
}

// RunOnce walks the index and verifies every distribution file, and every
// metadata sidecar with a recorded digest, against storage. It returns the
// number of objects checked and the number that failed verification. The only
// error is context cancellation; per-object trouble is logged and skipped so
// one bad object never hides the rest.
func (s *IntegrityScrub) RunOnce(ctx context.Context) (checked, mismatched int, err error) {
	for _, name := range s.ix.ListPackages() {
		pkg, err := s.ix.Project(name)
		if err != nil {
			// Deleted between listing and lookup.
			continue
		}

		for _, rel := range pkg.Releases {
			for _, file := range rel.Files {
				if err := ctx.Err(); err != nil {
					return checked, mismatched, err
				}

				ok, verr := s.verifyObject(ctx, file.Path, file.SHA256)
				if verr != nil {
					slog.Error("integrity scrub could not read object",
						"path", file.Path, "error", verr)
					continue
				}
				checked++
				telemetry.IntegrityScrubFilesTotal.Inc()
				if !ok {
					mismatched++
					telemetry.IntegrityScrubMismatchesTotal.Inc()
				}

				if file.MetadataSHA256 == "" {
					continue
				}
				ok, verr = s.verifyObject(ctx, file.Path+".metadata", file.MetadataSHA256)
				if verr != nil {
					slog.Error("integrity scrub could not read sidecar",
						"path", file.Path+".metadata", "error", verr)
					continue
				}
				checked++
				telemetry.IntegrityScrubFilesTotal.Inc()
				if !ok {
					mismatched++
					telemetry.IntegrityScrubMismatchesTotal.Inc()
				}
			}
		}
	}
	return checked, mismatched, nil
}

// verifyObject reports whether the stored object's content hashes to
// wantSHA256. A missing object counts as a failed verification: the index
// says it exists, storage says otherwise.
func (s *IntegrityScrub) verifyObject(ctx context.Context, path, wantSHA256 string) (bool, error) {
	reader, err := s.store.Download(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.Error("integrity scrub found indexed object missing from storage", "path", path)
			return false, nil
		}
		return false, err
	}
	defer reader.Close()

	got, err := checksum.CalculateSHA256(reader)
	if err != nil {
		return false, err
	}
	if got != wantSHA256 {
		slog.Error("stored object failed digest verification",
			"path", path, "want", wantSHA256, "got", got)
		return false, nil
	}
	return true, nil
}
