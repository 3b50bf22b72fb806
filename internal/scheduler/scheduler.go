// Package scheduler drives periodic collection. One logical clock triggers a
// poll per tick; a tick that arrives while a poll is still running is
// skipped and counted as an overrun, so at most one poll is ever in flight.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
	"github.com/Dicklesworthstone/sysmoni/internal/sampler"
	"github.com/Dicklesworthstone/sysmoni/internal/state"
)

const (
	DefaultInterval = time.Second
	DefaultGrace    = 2 * time.Second
)

// ErrStopped is returned by Run once the scheduler has been shut down.
var ErrStopped = errors.New("scheduler stopped")

// Sink receives finished poll cycles. *state.Coordinator satisfies it.
type Sink interface {
	Apply(state.Cycle) *state.Snapshot
	SetSchedulerStats(state.SchedulerStats)
}

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration
	Grace    time.Duration // how long Shutdown waits for an in-flight poll
	Logger   *zap.Logger
}

type result struct {
	started  time.Time
	duration time.Duration
	raw      model.RawMetrics
	err      error
}

// Scheduler polls a MetricsSource on a fixed cadence and hands every cycle
// to a Sink.
type Scheduler struct {
	src      sampler.MetricsSource
	sink     Sink
	interval time.Duration
	grace    time.Duration
	logger   *zap.Logger

	paused  atomic.Bool
	started atomic.Bool
	refresh chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	// Only touched by the Run goroutine.
	inFlight bool
	results  chan result

	mu    sync.Mutex
	stats state.SchedulerStats
}

// New creates a scheduler. Zero durations take the package defaults.
func New(src sampler.MetricsSource, sink Sink, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Scheduler{
		src:      src,
		sink:     sink,
		interval: opts.Interval,
		grace:    opts.Grace,
		logger:   opts.Logger,
		refresh:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		results:  make(chan result, 1),
	}
}

// Run polls immediately and then once per interval until Shutdown is called
// or ctx is cancelled. Cancelling ctx is treated like Shutdown: the
// in-flight poll gets the grace period before it is abandoned.
func (s *Scheduler) Run(ctx context.Context) error {
	select {
	case <-s.stop:
		return ErrStopped
	default:
	}
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already running")
	}
	defer close(s.done)

	pollCtx, cancelPoll := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPoll()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	s.trigger(pollCtx)
	for {
		select {
		case <-ctx.Done():
			s.drain(cancelPoll)
			return ctx.Err()
		case <-s.stop:
			s.drain(cancelPoll)
			return nil
		case <-ticker.C:
			if s.paused.Load() {
				continue
			}
			s.trigger(pollCtx)
		case <-s.refresh:
			s.trigger(pollCtx)
		case res := <-s.results:
			s.finish(res)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	if s.inFlight {
		s.update(func(st *state.SchedulerStats) { st.Overruns++ })
		s.logger.Debug("poll overrun, tick skipped", zap.Uint64("overruns", s.Stats().Overruns))
		return
	}
	s.inFlight = true
	started := time.Now()
	go func() {
		raw, err := s.src.Poll(ctx)
		// results has room for the only poll that can be in flight.
		s.results <- result{started: started, duration: time.Since(started), raw: raw, err: err}
	}()
}

func (s *Scheduler) finish(res result) {
	s.inFlight = false
	_, partial := sampler.AsSourceError(res.err)
	s.update(func(st *state.SchedulerStats) {
		st.Polls++
		st.LastDuration = res.duration
		if res.err != nil && !partial {
			st.Failures++
		}
	})
	if res.duration > s.interval {
		s.logger.Debug("poll slower than interval",
			zap.Duration("duration", res.duration),
			zap.Duration("interval", s.interval))
	}
	s.sink.Apply(state.Cycle{Time: res.started, Raw: res.raw, Err: res.err})
}

// drain lets an in-flight poll finish within the grace period and
// abandons it otherwise. An abandoned poll is never applied.
func (s *Scheduler) drain(cancelPoll context.CancelFunc) {
	defer cancelPoll()
	if !s.inFlight {
		s.logger.Info("scheduler stopped")
		return
	}
	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case res := <-s.results:
		s.finish(res)
		s.logger.Info("scheduler stopped", zap.Bool("abandoned", false))
	case <-timer.C:
		s.inFlight = false
		s.logger.Info("scheduler stopped", zap.Bool("abandoned", true), zap.Duration("grace", s.grace))
	}
}

// Pause stops future ticks from polling. An in-flight poll completes and is
// applied normally.
func (s *Scheduler) Pause() {
	s.paused.Store(true)
	s.update(func(st *state.SchedulerStats) { st.Paused = true })
}

// Resume re-enables ticks.
func (s *Scheduler) Resume() {
	s.paused.Store(false)
	s.update(func(st *state.SchedulerStats) { st.Paused = false })
}

// Paused reports whether ticks are suspended.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// Refresh asks for a poll now, even while paused. It is dropped if one is
// already pending and counted as an overrun if a poll is in flight.
func (s *Scheduler) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Shutdown stops the loop and waits for Run to return or ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.stop) })
	if !s.started.Load() {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a copy of the scheduler counters.
func (s *Scheduler) Stats() state.SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Scheduler) update(fn func(*state.SchedulerStats)) {
	// Held across the sink call so stats arrive in order.
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
	s.sink.SetSchedulerStats(s.stats)
}
