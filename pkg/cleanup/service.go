// Package cleanup provides in-memory session retention.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Pruner removes completed sessions older than the given age and reports how
// many were dropped.
type Pruner interface {
	PruneCompleted(olderThan time.Duration) int
}

// Service periodically drops completed negotiation sessions from the session
// store once they have been terminal for longer than the retention window.
// The archive keeps the durable record; this only bounds process memory.
type Service struct {
	store     Pruner
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service. Zero retention or interval selects
// one hour and five minutes respectively.
func NewService(store Pruner, retention, interval time.Duration, logger *slog.Logger) *Service {
	if retention <= 0 {
		retention = time.Hour
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger.With("component", "cleanup"),
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("cleanup service started",
		"retention", s.retention, "interval", s.interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.prune()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.prune()
		}
	}
}

func (s *Service) prune() {
	if count := s.store.PruneCompleted(s.retention); count > 0 {
		s.logger.Info("pruned completed sessions", "count", count)
	}
}
