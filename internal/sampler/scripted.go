package sampler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
)

// Step is one scripted poll outcome.
type Step struct {
	Metrics model.RawMetrics
	Err     error
	Delay   time.Duration // blocks Poll, honoring ctx
	Block   chan struct{} // if set, Poll waits for it to close
}

// Scripted replays a fixed sequence of poll results. After the script is
// exhausted the last step repeats. Tests drive the scheduler and engine with it.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	next  int
	clock func() time.Time

	calls    atomic.Int64
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

// NewScripted returns a source that plays steps in order. Steps with a zero
// timestamp are stamped with the current time.
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps, clock: time.Now}
}

// WithClock overrides the timestamp source for zero-timestamp steps.
func (s *Scripted) WithClock(clock func() time.Time) *Scripted {
	s.clock = clock
	return s
}

// Poll implements MetricsSource.
func (s *Scripted) Poll(ctx context.Context) (model.RawMetrics, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	s.calls.Add(1)

	s.mu.Lock()
	var step Step
	if len(s.steps) > 0 {
		i := s.next
		if i >= len(s.steps) {
			i = len(s.steps) - 1
		} else {
			s.next++
		}
		step = s.steps[i]
	}
	clock := s.clock
	s.mu.Unlock()

	if step.Delay > 0 {
		t := time.NewTimer(step.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return model.RawMetrics{}, ctx.Err()
		}
	}
	if step.Block != nil {
		select {
		case <-step.Block:
		case <-ctx.Done():
			return model.RawMetrics{}, ctx.Err()
		}
	}

	m := step.Metrics
	if m.Timestamp.IsZero() {
		m.Timestamp = clock()
	}
	return m, step.Err
}

// Calls returns how many times Poll has been entered.
func (s *Scripted) Calls() int { return int(s.calls.Load()) }

// MaxInFlight returns the highest number of concurrent Poll calls observed.
func (s *Scripted) MaxInFlight() int { return int(s.maxSeen.Load()) }

// Failing builds a SourceError for the given sources. Sources wrapped with
// ErrUnavailable are classified as permanent.
func Failing(causes map[model.Source]error) *SourceError {
	se := &SourceError{}
	for _, src := range model.AllSources {
		if err, ok := causes[src]; ok {
			se.add(src, err)
		}
	}
	return se
}
