package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/database"
	"github.com/felineworks/resolve-engine/pkg/models"
)

// Scheduler drives periodic candidate generation, one pass over every
// entity kind per tick. The run-lock inside the generator keeps multiple
// engine instances from double-running a kind, so the scheduler itself can
// stay dumb.
type Scheduler struct {
	db        *database.DB
	generator CandidateGenerator
	interval  time.Duration
	logger    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewScheduler creates a Scheduler that runs the generator every interval.
func NewScheduler(db *database.DB, generator CandidateGenerator, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		db:        db,
		generator: generator,
		interval:  interval,
		logger:    logger.Named("scheduler"),
	}
}

// Start launches the scheduler loop in a goroutine. The first pass runs
// immediately rather than one interval in.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))
		s.runAll(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Scheduler stopped")
				return
			case <-ticker.C:
				s.runAll(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
	})
}

func (s *Scheduler) runAll(ctx context.Context) {
	for _, kind := range models.ValidEntityKinds {
		if ctx.Err() != nil {
			return
		}
		err := database.RunScoped(ctx, s.db, func(ctx context.Context) error {
			_, err := s.generator.Run(ctx, kind)
			return err
		})
		if err != nil {
			s.logger.Error("Generator run failed",
				zap.String("kind", string(kind)),
				zap.Error(err))
		}
	}
}
