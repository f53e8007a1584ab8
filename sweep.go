package oauth

import (
	"context"
	"errors"
	"time"

	"github.com/vtranscribe/vtauth/storage"
)

// SweepExpiredCodes removes all authorization codes past their expiry
// and returns the number removed. It is idempotent and safe to run
// concurrently with code issuance and exchange: a code expiring
// mid-sweep is removed either here or by the exchange's own expiry
// check, and the store's atomic delete keeps the count honest.
func (s *Server) SweepExpiredCodes(ctx context.Context) (int, error) {
	expired, err := s.store.FindExpiredCodes(ctx, s.now())
	if err != nil {
		return 0, s.storageFault("expired code scan", err)
	}

	removed := 0
	for _, code := range expired {
		if err := s.store.DeleteCode(ctx, code); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue // claimed by a concurrent exchange or sweep
			}
			return removed, s.storageFault("expired code removal", err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Swept expired authorization codes", "removed", removed)
		if s.metrics != nil {
			s.metrics.AddSweepRemoved(ctx, "auth_code", removed)
		}
	}
	return removed, nil
}

// SweepExpiredRefreshTokens removes refresh tokens past their expiry.
// Tokens without an expiry are never swept.
func (s *Server) SweepExpiredRefreshTokens(ctx context.Context) (int, error) {
	expired, err := s.store.FindExpiredRefreshTokens(ctx, s.now())
	if err != nil {
		return 0, s.storageFault("expired refresh token scan", err)
	}

	removed := 0
	for _, token := range expired {
		if err := s.store.DeleteRefreshToken(ctx, token); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return removed, s.storageFault("expired refresh token removal", err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("Swept expired refresh tokens", "removed", removed)
		if s.metrics != nil {
			s.metrics.AddSweepRemoved(ctx, "refresh_token", removed)
		}
	}
	return removed, nil
}

// StartSweeper runs both sweeps on the configured interval until Stop
// is called. Sweep failures are logged and the loop continues; a
// transient storage fault must not kill expiry enforcement.
func (s *Server) StartSweeper() {
	if s.stopSweeper != nil {
		return // already running
	}
	s.stopSweeper = make(chan struct{})

	go func() {
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx := context.Background()
				if _, err := s.SweepExpiredCodes(ctx); err != nil {
					s.logger.Warn("Authorization code sweep failed", "error", err)
				}
				if _, err := s.SweepExpiredRefreshTokens(ctx); err != nil {
					s.logger.Warn("Refresh token sweep failed", "error", err)
				}
			case <-s.stopSweeper:
				return
			}
		}
	}()
}

// Stop terminates the background sweeper if it is running.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		close(s.stopSweeper)
		s.stopSweeper = nil
	}
}
