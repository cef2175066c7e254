// Package sweeper periodically evicts expired access entries from the
// router and the record store. Failures are logged, never fatal: rows
// that could not be purged stay selectable and are retried on the next
// cycle.
package sweeper

import (
	"context"
	"time"

	"github.com/sdko-org/knock-portal/internal/router"
	"github.com/sdko-org/knock-portal/internal/store"
	"github.com/sirupsen/logrus"
)

type Sweeper struct {
	logger   *logrus.Logger
	store    *store.Store
	router   router.Client
	interval time.Duration
}

func New(logger *logrus.Logger, st *store.Store, rc router.Client, interval time.Duration) *Sweeper {
	return &Sweeper{
		logger:   logger,
		store:    st,
		router:   rc,
		interval: interval,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log := s.logger.WithField("component", "sweeper")
	log.WithField("interval", s.interval).Info("Starting expiry sweeper")

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx, log)
		case <-ctx.Done():
			log.Info("Stopping expiry sweeper")
			return
		}
	}
}

// RunOnce performs a single sweep cycle immediately.
func (s *Sweeper) RunOnce(ctx context.Context) {
	s.sweep(ctx, s.logger.WithField("component", "sweeper"))
}

func (s *Sweeper) sweep(ctx context.Context, log *logrus.Entry) {
	log = log.WithField("operation", "expiry_sweep")

	expired, err := s.store.FindExpired(ctx, time.Now().UTC())
	if err != nil {
		log.WithError(err).Error("Expired entry query failed")
		return
	}
	if len(expired) == 0 {
		return
	}

	log.WithField("count", len(expired)).Info("Purging expired entries")

	// One login covers the whole batch; if it fails the rows stay for
	// the next cycle.
	if err := s.router.EnsureAuthenticated(ctx); err != nil {
		log.WithError(err).Error("Router authentication failed, skipping sweep cycle")
		return
	}

	for _, entry := range expired {
		entryLog := log.WithFields(logrus.Fields{
			"address":    entry.Address,
			"identity":   entry.Identity,
			"expiration": entry.Expiration,
		})

		// One bad address must not block purging the rest.
		if err := s.router.Remove(ctx, entry.Address); err != nil {
			entryLog.WithError(err).Error("Failed to remove address from allow list")
			continue
		}

		// The row is deleted only after its own router removal
		// succeeded, so store and router never disagree silently.
		if _, err := s.store.DeleteByAddress(ctx, entry.Address); err != nil {
			entryLog.WithError(err).Error("Failed to delete expired entry")
			continue
		}

		entryLog.Info("Expired entry purged")
	}
}
