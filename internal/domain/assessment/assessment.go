// Package assessment accumulates matched scores per submission and merges
// them into existing rubric assessments.
package assessment

import (
	"sort"

	"github.com/knadh/koanf/maps"

	"github.com/okian/rubricsync/internal/domain/matching"
	"github.com/okian/rubricsync/internal/domain/model"
)

type submissionKey struct {
	student    string
	assignment string
}

// Accumulator sums rubric item scores per (student, assignment).
type Accumulator struct {
	scores      map[submissionKey]map[string]float64
	students    map[string]struct{}
	assignments map[string]struct{}
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		scores:      make(map[submissionKey]map[string]float64),
		students:    make(map[string]struct{}),
		assignments: make(map[string]struct{}),
	}
}

// Add credits m's score to its rubric item; repeated items sum.
func (a *Accumulator) Add(m matching.AssignmentMatch) {
	k := submissionKey{student: m.Student.ID, assignment: m.Assignment.ID}
	items, ok := a.scores[k]
	if !ok {
		items = make(map[string]float64)
		a.scores[k] = items
	}
	items[m.RubricItem.ID] += m.Record.Score
	a.students[k.student] = struct{}{}
	a.assignments[k.assignment] = struct{}{}
}

// Students returns the distinct student ids, sorted.
func (a *Accumulator) Students() []string { return sortedKeys(a.students) }

// Assignments returns the distinct assignment ids, sorted.
func (a *Accumulator) Assignments() []string { return sortedKeys(a.assignments) }

// Len returns the number of (student, assignment) pairs.
func (a *Accumulator) Len() int { return len(a.scores) }

// ExistingFunc returns the current rubric assessment of a submission, nil
// when none.
type ExistingFunc func(studentID, assignmentID string) model.RubricAssessment

// Updates merges every accumulated pair into its existing assessment and
// returns one update per pair, sorted by student id then assignment id.
func (a *Accumulator) Updates(existing ExistingFunc) []model.GradeUpdate {
	out := make([]model.GradeUpdate, 0, len(a.scores))
	for k, items := range a.scores {
		patch := make(model.RubricAssessment, len(items))
		for id, points := range items {
			patch[id] = map[string]any{"points": points}
		}
		var base model.RubricAssessment
		if existing != nil {
			base = existing(k.student, k.assignment)
		}
		out = append(out, model.GradeUpdate{
			StudentID:        k.student,
			AssignmentID:     k.assignment,
			RubricAssessment: Merge(base, patch),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].AssignmentID < out[j].AssignmentID
	})
	return out
}

// Merge deep-merges patch over base without mutating either. Nested maps
// merge key by key; any other patch value replaces the base value.
func Merge(base, patch model.RubricAssessment) model.RubricAssessment {
	dst := model.RubricAssessment{}
	if base != nil {
		dst = maps.Copy(base)
	}
	if patch != nil {
		maps.Merge(maps.Copy(patch), dst)
	}
	return dst
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
