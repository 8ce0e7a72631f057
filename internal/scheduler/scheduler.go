// Package scheduler arms one timer per active trade and hands expired trades
// to the settlement resolver on a bounded worker pool.
//
// The scheduler is not the correctness gate for settlement. Cancel is
// advisory and a natural firing may race FireNow; the trade store's
// completion CAS decides which of them takes effect.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"binary-options-sim/internal/metrics"
	"binary-options-sim/internal/models"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// ErrStopped is returned by FireNow after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Resolver settles a single trade. forced, when non-nil, replaces the
// natural outcome.
type Resolver interface {
	Settle(ctx context.Context, id string, forced *models.Outcome) (*models.Trade, error)
}

type armed struct {
	timer Timer
	gen   uint64
}

type Scheduler struct {
	clock    Clock
	resolver Resolver
	pool     *ants.Pool
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	timers  map[string]armed
	gen     uint64
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Scheduler that runs at most workers settlements at once.
func New(clock Clock, resolver Resolver, workers int, logger *zap.Logger, m *metrics.Metrics) (*Scheduler, error) {
	if workers <= 0 {
		workers = 1
	}
	if m == nil {
		m = metrics.NewNop()
	}
	log := logger.Named("scheduler")
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(func(p any) {
		log.Error("Settlement worker panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create settlement pool: %w", err)
	}
	return &Scheduler{
		clock:    clock,
		resolver: resolver,
		pool:     pool,
		logger:   log,
		metrics:  m,
		timers:   make(map[string]armed),
	}, nil
}

// Arm schedules settlement of id at expiresAt. Arming an id that is already
// armed is a no-op.
func (s *Scheduler) Arm(id string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if _, ok := s.timers[id]; ok {
		return
	}

	delay := expiresAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.gen++
	gen := s.gen
	s.timers[id] = armed{
		timer: s.clock.AfterFunc(delay, func() { s.fire(id, gen) }),
		gen:   gen,
	}
	s.metrics.ArmedTimers.Inc()
	s.logger.Debug("Trade armed", zap.String("trade_id", id), zap.Duration("delay", delay))
}

// Cancel stops the pending timer for id, if any. A settlement that has
// already started is not affected.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(id)
}

func (s *Scheduler) disarmLocked(id string) {
	a, ok := s.timers[id]
	if !ok {
		return
	}
	a.timer.Stop()
	delete(s.timers, id)
	s.metrics.ArmedTimers.Dec()
}

// IsArmed reports whether id has a pending timer.
func (s *Scheduler) IsArmed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Armed returns the number of pending timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// FireNow disarms id and settles it on the calling goroutine.
func (s *Scheduler) FireNow(ctx context.Context, id string, forced *models.Outcome) (*models.Trade, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrStopped
	}
	s.disarmLocked(id)
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	return s.resolver.Settle(ctx, id, forced)
}

func (s *Scheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	a, ok := s.timers[id]
	if !ok || a.gen != gen || s.stopped {
		// Cancelled, or replaced by a newer arm, after the timer went off.
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.metrics.ArmedTimers.Dec()
	s.wg.Add(1)
	s.mu.Unlock()

	err := s.pool.Submit(func() {
		defer s.wg.Done()
		if _, err := s.resolver.Settle(context.Background(), id, nil); err != nil {
			s.logger.Error("Scheduled settlement failed", zap.String("trade_id", id), zap.Error(err))
		}
	})
	if err != nil {
		s.wg.Done()
		s.logger.Warn("Could not dispatch settlement, leaving it to the sweep",
			zap.String("trade_id", id), zap.Error(err))
	}
}

// Wait blocks until every dispatched settlement has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Stop disarms every timer, waits for running settlements and releases the
// worker pool. Trades left active are picked up by the next sweep.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id := range s.timers {
		s.disarmLocked(id)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.pool.Release()
	s.logger.Info("Scheduler stopped")
}
