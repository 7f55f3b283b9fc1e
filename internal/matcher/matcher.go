// Package matcher scores how alike two normalized names are and finds the
// closest name in an index.
package matcher

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Ratio returns the edit-distance similarity of a and b in [0,1]:
// 1 - distance/max(len(a), len(b)), counted in runes. Two empty strings are
// identical.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Candidate is one indexed name and the value it resolves to.
type Candidate[V any] struct {
	Name  string
	Value V
}

// Result is the outcome of a lookup.
type Result[V any] struct {
	Candidate Candidate[V]
	Score     float64
	Exact     bool
	Found     bool
}

// Index holds normalized names in insertion order. A name may resolve to
// several values; exact lookups take the earliest one accepted by the filter.
type Index[V any] struct {
	exact      map[string][]int
	candidates []Candidate[V]
}

// NewIndex creates an empty index.
func NewIndex[V any]() *Index[V] {
	return &Index[V]{exact: make(map[string][]int)}
}

// Add indexes name. Empty names are ignored.
func (idx *Index[V]) Add(name string, value V) {
	if name == "" {
		return
	}
	idx.exact[name] = append(idx.exact[name], len(idx.candidates))
	idx.candidates = append(idx.candidates, Candidate[V]{Name: name, Value: value})
}

// Len returns the number of indexed values.
func (idx *Index[V]) Len() int {
	return len(idx.candidates)
}

// Best returns the exact hit for name when there is one (score 1, Exact set).
// Otherwise it scans every candidate accepted by keep (nil keeps all) and
// returns the highest ratio; ties go to the earliest candidate.
func (idx *Index[V]) Best(name string, keep func(V) bool) Result[V] {
	for _, i := range idx.exact[name] {
		c := idx.candidates[i]
		if keep == nil || keep(c.Value) {
			return Result[V]{Candidate: c, Score: 1, Exact: true, Found: true}
		}
	}

	var best Result[V]
	for _, c := range idx.candidates {
		if keep != nil && !keep(c.Value) {
			continue
		}
		score := Ratio(name, c.Name)
		if !best.Found || score > best.Score {
			best = Result[V]{Candidate: c, Score: score, Found: true}
		}
	}
	return best
}
