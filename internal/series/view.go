package series

import (
	"iter"
	"slices"
	"sort"
	"time"
)

// SeriesView is an immutable copy of a stream's recent history, safe to
// share between goroutines.
type SeriesView struct {
	ID      SourceID `json:"id" yaml:"id"`
	Samples []Sample `json:"samples" yaml:"samples"`
}

// Len returns the number of samples in the view, gaps included.
func (v SeriesView) Len() int { return len(v.Samples) }

// Latest returns the newest sample.
func (v SeriesView) Latest() (Sample, bool) {
	if len(v.Samples) == 0 {
		return Sample{}, false
	}
	return v.Samples[len(v.Samples)-1], true
}

// Window returns the samples within the most recent d, oldest first.
func (v SeriesView) Window(d time.Duration) iter.Seq[Sample] {
	start := 0
	if d > 0 && len(v.Samples) > 0 {
		cutoff := v.Samples[len(v.Samples)-1].Time.Add(-d)
		start = sort.Search(len(v.Samples), func(i int) bool { return v.Samples[i].Time.After(cutoff) })
	}
	return slices.Values(v.Samples[start:])
}

// Tail returns at most the last n samples.
func (v SeriesView) Tail(n int) []Sample {
	if n <= 0 || len(v.Samples) == 0 {
		return nil
	}
	if n > len(v.Samples) {
		n = len(v.Samples)
	}
	return v.Samples[len(v.Samples)-n:]
}
