package task

import (
	"context"
	"sync"
	"time"

	"github.com/user/reposync/internal/storage"
	"github.com/user/reposync/pkg/logger"
)

// Scheduler drives the periodic bulk synchronization sweep. Each tick
// enumerates active repositories and enqueues one full-refresh job per
// repository; the queue, not the timer, is the source of truth for
// pending work, so a tick completes in O(active repositories)
// regardless of how long each sync takes.
type Scheduler struct {
	repos      *storage.RepositoryStore
	dispatcher *Dispatcher
	interval   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a sweep scheduler with the given interval.
func NewScheduler(repos *storage.RepositoryStore, dispatcher *Dispatcher, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Scheduler{
		repos:      repos,
		dispatcher: dispatcher,
		interval:   interval,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the sweep loop, running one sweep immediately.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	logger.Info().Dur("interval", s.interval).Msg("Sweep scheduler started")
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	logger.Info().Msg("Sweep scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	s.Sweep(s.ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

// Sweep enqueues a full-refresh job for every active repository.
func (s *Scheduler) Sweep(ctx context.Context) {
	repos, err := s.repos.ListActive(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Sweep failed to list active repositories")
		return
	}

	enqueued := 0
	for _, repo := range repos {
		if s.dispatcher.Enqueue(Job{Kind: KindFullRefresh, RepoID: repo.ID}) {
			enqueued++
		}
	}

	logger.Info().Int("repositories", len(repos)).Int("enqueued", enqueued).Msg("Sweep dispatched")
}
