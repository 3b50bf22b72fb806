package proctable

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sahilm/fuzzy"
)

// ErrFilterCompile is wrapped by Compile when the search text is not a valid
// regular expression.
var ErrFilterCompile = errors.New("invalid filter expression")

// Mode selects how filter text is matched.
type Mode int

const (
	ModeSubstring Mode = iota
	ModeRegex
	// ModeFuzzy is always case-insensitive; Compile clears CaseSensitive.
	ModeFuzzy
)

func (m Mode) String() string {
	switch m {
	case ModeRegex:
		return "regex"
	case ModeFuzzy:
		return "fuzzy"
	default:
		return "substring"
	}
}

// FilterSpec is the user-facing description of a filter.
type FilterSpec struct {
	Text          string
	Mode          Mode
	CaseSensitive bool
	MatchCommand  bool // also match against the command line
}

// Expr is a compiled, immutable filter predicate over records.
type Expr struct {
	spec   FilterSpec
	needle string
	re     *regexp.Regexp
}

// Compile builds an Expr. Regex errors wrap ErrFilterCompile.
func Compile(spec FilterSpec) (*Expr, error) {
	if spec.Mode == ModeFuzzy {
		spec.CaseSensitive = false
	}
	e := &Expr{spec: spec}
	if spec.Text == "" {
		return e, nil
	}
	switch spec.Mode {
	case ModeRegex:
		pattern := spec.Text
		if !spec.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFilterCompile, err)
		}
		e.re = re
	default:
		e.needle = spec.Text
		if !spec.CaseSensitive {
			e.needle = strings.ToLower(spec.Text)
		}
	}
	return e, nil
}

// Spec returns the spec the expression was compiled from.
func (e *Expr) Spec() FilterSpec {
	if e == nil {
		return FilterSpec{}
	}
	return e.spec
}

// Empty reports whether the expression matches everything.
func (e *Expr) Empty() bool { return e == nil || e.spec.Text == "" }

// Match evaluates the expression against one record.
func (e *Expr) Match(r Record) bool {
	if e.Empty() {
		return true
	}
	if e.matchText(r.Name) {
		return true
	}
	return e.spec.MatchCommand && r.Command != "" && e.matchText(r.Command)
}

func (e *Expr) matchText(s string) bool {
	switch e.spec.Mode {
	case ModeRegex:
		return e.re.MatchString(s)
	case ModeFuzzy:
		return len(fuzzy.Find(e.spec.Text, []string{s})) > 0
	default:
		if !e.spec.CaseSensitive {
			s = strings.ToLower(s)
		}
		return strings.Contains(s, e.needle)
	}
}

// Filter returns the records matching e, preserving their order. An empty
// expression returns records unchanged.
func Filter(records []Record, e *Expr) []Record {
	if e.Empty() {
		return records
	}
	if e.spec.Mode == ModeFuzzy {
		return e.filterFuzzy(records)
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if e.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

// nameSource and commandSource expose records to fuzzy.FindFrom.
type nameSource []Record

func (s nameSource) String(i int) string { return s[i].Name }
func (s nameSource) Len() int            { return len(s) }

type commandSource []Record

func (s commandSource) String(i int) string { return s[i].Command }
func (s commandSource) Len() int            { return len(s) }

// filterFuzzy scores the whole set in one pass per field instead of one
// FindFrom call per record.
func (e *Expr) filterFuzzy(records []Record) []Record {
	hit := make([]bool, len(records))
	for _, m := range fuzzy.FindFrom(e.spec.Text, nameSource(records)) {
		hit[m.Index] = true
	}
	if e.spec.MatchCommand {
		for _, m := range fuzzy.FindFrom(e.spec.Text, commandSource(records)) {
			hit[m.Index] = true
		}
	}
	out := make([]Record, 0, len(records))
	for i, r := range records {
		if hit[i] {
			out = append(out, r)
		}
	}
	return out
}
