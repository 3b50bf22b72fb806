// Package engine wires a metrics source, the sampling scheduler and the
// state coordinator together and exposes the control surface the event loop
// drives.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dicklesworthstone/sysmoni/internal/config"
	"github.com/Dicklesworthstone/sysmoni/internal/proctable"
	"github.com/Dicklesworthstone/sysmoni/internal/sampler"
	"github.com/Dicklesworthstone/sysmoni/internal/scheduler"
	"github.com/Dicklesworthstone/sysmoni/internal/state"
)

// Options configures an Engine.
type Options struct {
	Interval   time.Duration
	Grace      time.Duration
	Retention  time.Duration
	MaxSamples int
	Debounce   int
	View       state.View
	Logger     *zap.Logger
}

// OptionsFromConfig maps a validated Config onto engine options.
func OptionsFromConfig(cfg config.Config, logger *zap.Logger) Options {
	key, dir := cfg.Sort()
	return Options{
		Interval:   cfg.PollInterval,
		Grace:      cfg.ShutdownGrace,
		Retention:  cfg.Retention,
		MaxSamples: cfg.MaxSamples,
		Debounce:   cfg.Debounce,
		View: state.View{
			SortKey:     key,
			Direction:   dir,
			Filter:      cfg.FilterSpec(),
			GroupByName: cfg.GroupByName,
			TreeMode:    cfg.TreeMode,
		},
		Logger: logger,
	}
}

// Engine is the running core. All methods are safe for concurrent use.
type Engine struct {
	coord  *state.Coordinator
	sched  *scheduler.Scheduler
	logger *zap.Logger

	startOnce sync.Once
	done      chan struct{}
	runErr    error
}

// New builds an engine around src. It does not start polling.
func New(src sampler.MetricsSource, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	coord, err := state.New(state.Options{
		Retention:  opts.Retention,
		MaxSamples: opts.MaxSamples,
		Debounce:   opts.Debounce,
		View:       opts.View,
		Logger:     logger.Named("state"),
	})
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(src, coord, scheduler.Options{
		Interval: opts.Interval,
		Grace:    opts.Grace,
		Logger:   logger.Named("scheduler"),
	})
	return &Engine{
		coord:  coord,
		sched:  sched,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Start launches the scheduler in the background. Later calls are no-ops.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		go func() {
			defer close(e.done)
			err := e.sched.Run(ctx)
			// ErrStopped means Shutdown won the race against Run starting.
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, scheduler.ErrStopped) {
				e.runErr = err
				e.logger.Error("scheduler exited", zap.Error(err))
			}
		}()
	})
}

// Current returns the latest snapshot.
func (e *Engine) Current() *state.Snapshot { return e.coord.Current() }

// Wait blocks until a snapshot newer than after is published.
func (e *Engine) Wait(ctx context.Context, after uint64) (*state.Snapshot, error) {
	return e.coord.Wait(ctx, after)
}

func (e *Engine) Pause()       { e.sched.Pause() }
func (e *Engine) Resume()      { e.sched.Resume() }
func (e *Engine) Paused() bool { return e.sched.Paused() }

// TogglePause flips the pause state and returns true if now paused.
func (e *Engine) TogglePause() bool {
	if e.sched.Paused() {
		e.sched.Resume()
		return false
	}
	e.sched.Pause()
	return true
}

// Refresh requests an immediate poll.
func (e *Engine) Refresh() { e.sched.Refresh() }

// SetFilter installs a substring or regex filter. A regex that does not
// compile is rejected and the previous filter stays active.
func (e *Engine) SetFilter(text string, isRegex, caseSensitive bool) error {
	spec := e.coord.View().Filter
	spec.Text = text
	spec.CaseSensitive = caseSensitive
	spec.Mode = proctable.ModeSubstring
	if isRegex {
		spec.Mode = proctable.ModeRegex
	}
	return e.coord.SetFilter(spec)
}

// SetFilterSpec installs a filter with full control over mode and fields.
func (e *Engine) SetFilterSpec(spec proctable.FilterSpec) error {
	return e.coord.SetFilter(spec)
}

func (e *Engine) SetSort(key proctable.SortKey, dir proctable.Direction) {
	e.coord.SetSort(key, dir)
}

func (e *Engine) ToggleGrouping() bool { return e.coord.ToggleGrouping() }
func (e *Engine) ToggleTree() bool     { return e.coord.ToggleTree() }

// View returns the active view settings.
func (e *Engine) View() state.View { return e.coord.View() }

// Shutdown stops polling. The in-flight poll gets the configured grace
// period; ctx bounds the whole call. The last published snapshot stays
// readable afterwards.
func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.sched.Shutdown(ctx); err != nil {
		return err
	}
	// Never started: nothing to wait for.
	e.startOnce.Do(func() { close(e.done) })
	select {
	case <-e.done:
		return e.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}
