package compaction

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/latticedb/pkg/log"
)

// Scheduler runs a compaction Engine on a fixed interval until stopped,
// checking the stop channel on each tick.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   log.WithComponent("compaction"),
	}
}

// Start launches the background loop. It is a no-op if already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	go s.run(s.stopCh)
}

// Stop signals the loop to exit. It does not block for the loop to
// observe the signal.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
}

func (s *Scheduler) run(stopCh chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(stopCh)
		case <-stopCh:
			return
		}
	}
}

func (s *Scheduler) runOnce(stopCh chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	result, err := s.engine.Run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("compaction pass failed")
		return
	}
	if !result.Empty() {
		s.logger.Info().
			Int("versions_removed", result.VersionsRemoved).
			Int("tombstones_removed", result.TombstonesRemoved).
			Int64("bytes_reclaimed", result.BytesReclaimed).
			Dur("duration", result.Duration).
			Msg("compaction pass complete")
	}
}
