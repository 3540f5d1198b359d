package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/pagewatch/pagewatch/internal/guard"
)

// BackgroundLoop runs cycles until the context is cancelled. It sleeps
// CheckInterval between idle cycles but chains immediately after a full
// chunk, so a backlog drains at crawl speed rather than one chunk per tick.
func (s *Scheduler) BackgroundLoop(ctx context.Context) {
	s.logger.Info("background loop started",
		zap.Duration("check_interval", s.cfg.CheckInterval),
		zap.Int("chunk_size", s.cfg.ChunkSize),
	)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("background loop stopped", zap.Error(ctx.Err()))
			return
		case <-timer.C:
		}

		hasMore := s.safeCycle(ctx)

		if hasMore {
			timer.Reset(0)
		} else {
			timer.Reset(s.cfg.CheckInterval)
		}
	}
}

// safeCycle runs one cycle with panic recovery so a single broken extraction
// cannot take the whole loop down.
func (s *Scheduler) safeCycle(ctx context.Context) (hasMore bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			hasMore = false
		}
	}()

	hasMore, err := s.RunCycle(ctx)
	if err != nil && !errors.Is(err, guard.ErrAlreadyRunning) {
		s.logger.Error("cycle failed", zap.Error(err))
	}
	return hasMore
}
