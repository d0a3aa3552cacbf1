// Package matcher resolves a query embedding to the closest enrolled
// employee, or to Unknown when nobody is close enough.
package matcher

import (
	"math"
	"slices"

	"github.com/okian/rollcall/internal/domain/model"
)

// reference is one enrollment embedding tagged with its owner.
type reference struct {
	id  model.EmployeeID
	vec model.Embedding
}

// Matcher is an immutable nearest-neighbour index over a roster.
// It is safe for concurrent use; rebuild to pick up roster changes.
type Matcher struct {
	refs      []reference
	dim       int
	threshold float64
	employees int
}

// Build indexes every embedding of every employee in roster. Employees
// with no embeddings are skipped. All embeddings must share one length.
func Build(roster map[model.EmployeeID][]model.Embedding, threshold float64) (*Matcher, error) {
	if threshold <= 0 || math.IsNaN(threshold) {
		return nil, ErrInvalidThreshold
	}

	ids := make([]model.EmployeeID, 0, len(roster))
	for id, embs := range roster {
		if len(embs) > 0 {
			ids = append(ids, id)
		}
	}
	// sorted so refs are laid out deterministically
	slices.Sort(ids)

	m := &Matcher{threshold: threshold}
	for _, id := range ids {
		for _, e := range roster[id] {
			if m.dim == 0 {
				m.dim = len(e)
			}
			if len(e) != m.dim || len(e) == 0 {
				return nil, &DimensionMismatchError{Expected: m.dim, Actual: len(e)}
			}
			m.refs = append(m.refs, reference{id: id, vec: slices.Clone(e)})
		}
		m.employees++
	}
	return m, nil
}

// BuildFromEmployees is Build over a list of employees.
func BuildFromEmployees(employees []model.Employee, threshold float64) (*Matcher, error) {
	roster := make(map[model.EmployeeID][]model.Embedding, len(employees))
	for i := range employees {
		e := &employees[i]
		roster[e.ID] = append(roster[e.ID], e.Embeddings...)
	}
	return Build(roster, threshold)
}

// Match returns the employee owning the globally closest reference when
// that distance is strictly below the threshold. Equal distances resolve
// to the lowest EmployeeID. An empty matcher always returns Unknown.
func (m *Matcher) Match(query model.Embedding) (model.MatchResult, error) {
	if m == nil || len(m.refs) == 0 {
		return model.Unknown(math.Inf(1)), nil
	}
	if len(query) != m.dim {
		return model.MatchResult{}, &DimensionMismatchError{Expected: m.dim, Actual: len(query)}
	}

	best := math.Inf(1)
	var bestID model.EmployeeID
	for _, r := range m.refs {
		d := squaredL2(query, r.vec)
		if d < best || (d == best && r.id < bestID) {
			best = d
			bestID = r.id
		}
	}

	dist := math.Sqrt(best)
	if dist < m.threshold {
		return model.MatchResult{Known: true, EmployeeID: bestID, Distance: dist}, nil
	}
	return model.Unknown(dist), nil
}

// Dim is the roster dimensionality, zero when empty.
func (m *Matcher) Dim() int {
	if m == nil {
		return 0
	}
	return m.dim
}

// Threshold returns the acceptance threshold.
func (m *Matcher) Threshold() float64 {
	if m == nil {
		return 0
	}
	return m.threshold
}

// Employees is the number of employees that contributed references.
func (m *Matcher) Employees() int {
	if m == nil {
		return 0
	}
	return m.employees
}

// References is the total number of indexed embeddings.
func (m *Matcher) References() int {
	if m == nil {
		return 0
	}
	return len(m.refs)
}
