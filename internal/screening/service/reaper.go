package service

import (
	"context"
	"time"

	"vigil/internal/screening/models"
	"vigil/pkg/platform/audit"
)

// ExpirePending forces every slot pending past the provider timeout to a
// failed state. Expiry reuses the same idempotent transition as a real
// callback, so a provider report racing the reaper resolves cleanly: one of
// them applies, the other is absorbed as a duplicate.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.providerTimeout)
	slots, err := s.store.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, slot := range slots {
		outcome := models.Outcome{
			Error: &models.ProviderError{
				Code:    models.ErrorCodeTimeout,
				Message: "provider did not report within the deadline",
			},
			ReportedAt: s.now().UTC(),
		}
		applied, err := s.applyOutcome(ctx, slot.QueryID, slot.Provider, outcome, audit.ActionProviderTimedOut)
		if err != nil {
			s.logger.Error("failed to expire pending slot",
				"query_id", slot.QueryID.String(),
				"provider", string(slot.Provider),
				"error", err,
			)
			continue
		}
		if applied {
			expired++
			if s.metrics != nil {
				s.metrics.TimeoutsForced.WithLabelValues(string(slot.Provider)).Inc()
			}
		}
	}
	return expired, nil
}

// RunReaper scans for overdue slots on a fixed interval until ctx is
// canceled.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			expired, err := s.ExpirePending(ctx)
			if err != nil {
				s.logger.Error("reaper scan failed", "error", err)
				continue
			}
			if expired > 0 {
				s.logger.Info("expired pending provider slots", "count", expired)
			}
		}
	}
}
