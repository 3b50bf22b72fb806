// Package series keeps bounded, time-ordered history for every graphable
// metric stream.
//
// Each stream is identified by a SourceID such as "cpu/total" or
// "net/eth0/rx" and backed by a growable ring buffer. Retention is enforced
// on every Record: samples older than the retention window (measured from the
// newest sample) are evicted oldest-first, and a hard sample cap bounds memory
// even when timestamps are closely spaced.
//
// A Store is not safe for concurrent use. The state coordinator owns it and
// hands renderers materialized SeriesView copies instead.
package series

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"
)

// Defaults used when a Store is built with zero values.
const (
	DefaultRetention  = 60 * time.Second
	DefaultMaxSamples = 3600
)

var (
	// ErrUnknownSource is returned when recording to a stream that was never registered.
	ErrUnknownSource = errors.New("unknown series source")
	// ErrOutOfOrder is returned when a sample is not strictly newer than the last one.
	ErrOutOfOrder = errors.New("sample not newer than last recorded sample")
)

// SourceID names one logical metric stream.
type SourceID string

// Sample is one recorded point. Gap marks an explicit "no data" tick, which is
// distinct from a zero value and must not be interpolated across.
type Sample struct {
	Time  time.Time `json:"time" yaml:"time"`
	Value float64   `json:"value" yaml:"value"`
	Gap   bool      `json:"gap,omitempty" yaml:"gap,omitempty"`
}

// Store holds one ring buffer per registered source.
type Store struct {
	retention  time.Duration
	maxSamples int
	series     map[SourceID]*ring
}

// NewStore creates a store that keeps at most retention worth of history and
// never more than maxSamples points per stream.
func NewStore(retention time.Duration, maxSamples int) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Store{
		retention:  retention,
		maxSamples: maxSamples,
		series:     make(map[SourceID]*ring),
	}
}

// Retention returns the configured retention span.
func (s *Store) Retention() time.Duration { return s.retention }

// Register adds a stream. Registering an existing stream is a no-op and
// keeps its history.
func (s *Store) Register(id SourceID) {
	if _, ok := s.series[id]; ok {
		return
	}
	s.series[id] = &ring{}
}

// Deregister drops a stream and its history.
func (s *Store) Deregister(id SourceID) {
	delete(s.series, id)
}

// Registered reports whether id is a known stream.
func (s *Store) Registered(id SourceID) bool {
	_, ok := s.series[id]
	return ok
}

// Sources returns every registered stream in lexical order.
func (s *Store) Sources() []SourceID {
	ids := make([]SourceID, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Record appends a value sample to the stream.
func (s *Store) Record(id SourceID, at time.Time, value float64) error {
	return s.append(id, Sample{Time: at, Value: value})
}

// RecordGap appends an explicit gap marker to the stream.
func (s *Store) RecordGap(id SourceID, at time.Time) error {
	return s.append(id, Sample{Time: at, Gap: true})
}

func (s *Store) append(id SourceID, smp Sample) error {
	r, ok := s.series[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	if r.n > 0 && !smp.Time.After(r.back().Time) {
		return fmt.Errorf("%w: %s at %s", ErrOutOfOrder, id, smp.Time.Format(time.RFC3339Nano))
	}
	r.push(smp, s.maxSamples)

	// Keep samples strictly newer than newest-retention so the retained span
	// stays below the configured retention.
	cutoff := smp.Time.Add(-s.retention)
	for r.n > 0 && !r.front().Time.After(cutoff) {
		r.popFront()
	}
	return nil
}

// Len returns the number of retained samples for id.
func (s *Store) Len(id SourceID) int {
	r, ok := s.series[id]
	if !ok {
		return 0
	}
	return r.n
}

// Latest returns the newest sample for id.
func (s *Store) Latest(id SourceID) (Sample, bool) {
	r, ok := s.series[id]
	if !ok || r.n == 0 {
		return Sample{}, false
	}
	return r.back(), true
}

// Window returns the samples of id that fall within the most recent d
// (relative to the newest sample), oldest first. A non-positive d yields the
// whole retained history. The sequence is lazy and may be ranged over any
// number of times; it reflects the store at iteration time.
func (s *Store) Window(id SourceID, d time.Duration) iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		r, ok := s.series[id]
		if !ok || r.n == 0 {
			return
		}
		for i := r.windowStart(d); i < r.n; i++ {
			if !yield(r.at(i)) {
				return
			}
		}
	}
}

// View materializes the window of id into an immutable copy.
func (s *Store) View(id SourceID, d time.Duration) SeriesView {
	v := SeriesView{ID: id}
	r, ok := s.series[id]
	if !ok || r.n == 0 {
		return v
	}
	start := r.windowStart(d)
	v.Samples = make([]Sample, 0, r.n-start)
	for i := start; i < r.n; i++ {
		v.Samples = append(v.Samples, r.at(i))
	}
	return v
}

// ring is a growable circular buffer of samples.
type ring struct {
	buf  []Sample
	head int
	n    int
}

func (r *ring) at(i int) Sample { return r.buf[(r.head+i)%len(r.buf)] }
func (r *ring) front() Sample   { return r.at(0) }
func (r *ring) back() Sample    { return r.at(r.n - 1) }

func (r *ring) push(smp Sample, maxSamples int) {
	if r.n == len(r.buf) {
		if len(r.buf) < maxSamples {
			r.grow(maxSamples)
		} else {
			r.popFront()
		}
	}
	r.buf[(r.head+r.n)%len(r.buf)] = smp
	r.n++
}

func (r *ring) popFront() {
	r.buf[r.head] = Sample{}
	r.head = (r.head + 1) % len(r.buf)
	r.n--
}

func (r *ring) grow(maxSamples int) {
	size := 2 * len(r.buf)
	if size < 16 {
		size = 16
	}
	if size > maxSamples {
		size = maxSamples
	}
	buf := make([]Sample, size)
	for i := 0; i < r.n; i++ {
		buf[i] = r.at(i)
	}
	r.buf = buf
	r.head = 0
}

// windowStart returns the index of the first sample newer than back-d.
func (r *ring) windowStart(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	cutoff := r.back().Time.Add(-d)
	return sort.Search(r.n, func(i int) bool { return r.at(i).Time.After(cutoff) })
}
