// token_sweeper.go implements the TokenSweeper background job, which
// periodically deletes expired upload tokens. The auth middleware already
// revokes an expired token the moment someone presents it; the sweep catches
// the rest — tokens that expired and were never used again.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/pratikychavan/PyPI-clone/internal/db/repositories"
	"github.com/pratikychavan/PyPI-clone/internal/telemetry"
)

// TokenSweeper periodically purges expired upload tokens.
type TokenSweeper struct {
	tokenRepo *repositories.TokenRepository
	interval  time.Duration
	stopChan  chan struct{}
}

// NewTokenSweeper creates a new token sweep job. An interval of zero or less
// defaults to hourly.
func NewTokenSweeper(tokenRepo *repositories.TokenRepository, interval time.Duration) *TokenSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &TokenSweeper{
		tokenRepo: tokenRepo,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the sweep loop. It runs once immediately, then repeats on the
// configured interval until ctx is cancelled or Stop is called.
func (s *TokenSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("token sweeper started", "interval", s.interval)

	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopChan:
			slog.Info("token sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("token sweeper context cancelled")
			return
		}
	}
}

// Stop signals the sweep loop to exit.
func (s *TokenSweeper) Stop() {
	close(s.stopChan)
}

func (s *TokenSweeper) runSweep(ctx context.Context) {
	purged, err := s.tokenRepo.DeleteExpiredTokens(ctx)
	if err != nil {
		slog.Error("token sweep failed", "error", err)
		return
	}
	if purged > 0 {
		telemetry.TokensPurgedTotal.Add(float64(purged))
		slog.Info("token sweep purged expired tokens", "count", purged)
	}
}
