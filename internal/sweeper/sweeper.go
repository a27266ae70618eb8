// Package sweeper runs periodic TTL sweeps against the context store.
// Expiry is enforced lazily on every read; the sweep only reclaims
// memory held by threads nobody reads anymore.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Store is the slice of the context store the sweeper needs.
type Store interface {
	SweepExpired(ctx context.Context) (int, error)
}

// cronParser accepts both standard 5-field cron expressions and
// 6-field expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper fires SweepExpired on a cron schedule.
type Sweeper struct {
	store    Store
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
}

// New creates a Sweeper with a cron schedule such as "@every 1m".
func New(store Store, schedule string, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(cronParser)),
		logger:   logger,
	}
}

// Start registers the sweep entry and starts the cron ticker.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("ttl sweeper started", "schedule", s.schedule)
	return nil
}

// Stop stops the cron ticker.
func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// RunOnce performs a single sweep immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	return s.store.SweepExpired(ctx)
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.store.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("ttl sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("ttl sweep reclaimed threads", "count", n)
	}
}
