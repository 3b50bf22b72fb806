package sampler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Dicklesworthstone/sysmoni/internal/model"
)

// MetricsSource is the polling contract over platform sensors. Poll may
// block on OS I/O and must not be called concurrently. On partial failure it
// returns whatever succeeded together with a *SourceError naming the sources
// that did not.
type MetricsSource interface {
	Poll(ctx context.Context) (model.RawMetrics, error)
}

// ErrUnavailable marks a source that this platform cannot provide. Such
// sources are not retried.
var ErrUnavailable = errors.New("source unavailable on this platform")

// Kind classifies a per-source failure.
type Kind int

const (
	// KindTransient is a failed read that will be retried next cycle.
	KindTransient Kind = iota
	// KindUnavailable is a permanent absence.
	KindUnavailable
)

func (k Kind) String() string {
	if k == KindUnavailable {
		return "unavailable"
	}
	return "transient"
}

// Failure is one source that produced no data this cycle.
type Failure struct {
	Source model.Source
	Kind   Kind
	Err    error
}

// SourceError enumerates the sources that failed during one poll.
type SourceError struct {
	Failures []Failure
}

func (e *SourceError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s): %v", f.Source, f.Kind, f.Err))
	}
	return "poll failed for " + strings.Join(parts, "; ")
}

// Unwrap exposes every underlying error to errors.Is and errors.As.
func (e *SourceError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Failed reports whether source s failed and how.
func (e *SourceError) Failed(s model.Source) (Kind, bool) {
	if e == nil {
		return KindTransient, false
	}
	for _, f := range e.Failures {
		if f.Source == s {
			return f.Kind, true
		}
	}
	return KindTransient, false
}

// Sources returns the failed sources in the order they were recorded.
func (e *SourceError) Sources() []model.Source {
	out := make([]model.Source, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Source)
	}
	return out
}

func (e *SourceError) add(s model.Source, err error) {
	kind := KindTransient
	if errors.Is(err, ErrUnavailable) {
		kind = KindUnavailable
	}
	e.Failures = append(e.Failures, Failure{Source: s, Kind: kind, Err: err})
}

// AsSourceError extracts a *SourceError from err.
func AsSourceError(err error) (*SourceError, bool) {
	var se *SourceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
