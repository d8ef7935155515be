// Package matching resolves grade records to roster students and to
// assignment rubric items. Unmatched or ambiguous records are skipped with a
// reason, never resolved by guessing.
package matching

import (
	"strings"

	"github.com/okian/rubricsync/internal/domain/model"
)

// Skip reasons.
const (
	ReasonNoStudent        = "No student is matched with given SID / Email pair"
	ReasonAmbiguousStudent = "Multiple students are matched with given SID / Email pair"
	ReasonNoAssignment     = "No assignment is matched with given specification grading bundle"
	ReasonNoRubricItem     = "The assignment matched with given specification grading bundle does not have the given rubric item"
)

// StudentMatch pairs a record with its student.
type StudentMatch struct {
	Record  model.GradeRecord
	Student model.Student
}

// AssignmentMatch is a fully resolved record.
type AssignmentMatch struct {
	StudentMatch
	Assignment model.Assignment
	RubricItem model.RubricItem
}

type pairKey struct {
	email string
	sis   string
}

// StudentIndex looks students up by email, by external id and by both.
// Later students replace earlier ones under the same key.
type StudentIndex struct {
	byEmail map[string]model.Student
	bySIS   map[string]model.Student
	byPair  map[pairKey]model.Student
	size    int
}

// NewStudentIndex returns an empty index.
func NewStudentIndex() *StudentIndex {
	return &StudentIndex{
		byEmail: make(map[string]model.Student),
		bySIS:   make(map[string]model.Student),
		byPair:  make(map[pairKey]model.Student),
	}
}

// Add indexes s under every key it has.
func (x *StudentIndex) Add(s model.Student) {
	email, sis := normEmail(s.Email), strings.TrimSpace(s.ExternalStudentID)
	if email != "" {
		x.byEmail[email] = s
	}
	if sis != "" {
		x.bySIS[sis] = s
	}
	if email != "" && sis != "" {
		x.byPair[pairKey{email: email, sis: sis}] = s
	}
	x.size++
}

// Len returns how many students were added.
func (x *StudentIndex) Len() int { return x.size }

// Match resolves rec against every applicable key. It fails when no key
// matches or when the matches name different students.
func (x *StudentIndex) Match(rec model.GradeRecord) (model.Student, string, bool) {
	email, sis := normEmail(rec.Email), strings.TrimSpace(rec.ExternalStudentID)
	var found []model.Student
	if email != "" {
		if s, ok := x.byEmail[email]; ok {
			found = append(found, s)
		}
	}
	if sis != "" {
		if s, ok := x.bySIS[sis]; ok {
			found = append(found, s)
		}
	}
	if email != "" && sis != "" {
		if s, ok := x.byPair[pairKey{email: email, sis: sis}]; ok {
			found = append(found, s)
		}
	}
	if len(found) == 0 {
		return model.Student{}, ReasonNoStudent, false
	}
	for _, s := range found[1:] {
		if s.ID != found[0].ID {
			return model.Student{}, ReasonAmbiguousStudent, false
		}
	}
	return found[0], "", true
}

// MatchStudents splits records into matched and skipped, keeping input order.
func MatchStudents(x *StudentIndex, records []model.GradeRecord) ([]StudentMatch, []model.SkippedRecord) {
	matched := make([]StudentMatch, 0, len(records))
	var skipped []model.SkippedRecord
	for _, rec := range records {
		s, reason, ok := x.Match(rec)
		if !ok {
			skipped = append(skipped, rec.Skip(reason))
			continue
		}
		matched = append(matched, StudentMatch{Record: rec, Student: s})
	}
	return matched, skipped
}

// AssignmentIndex looks rubric-bearing assignments up by name.
type AssignmentIndex struct {
	byName map[string]model.Assignment
}

// NewAssignmentIndex returns an empty index.
func NewAssignmentIndex() *AssignmentIndex {
	return &AssignmentIndex{byName: make(map[string]model.Assignment)}
}

// Add indexes a and reports whether it was kept; assignments without a
// rubric are ignored.
func (x *AssignmentIndex) Add(a model.Assignment) bool {
	if !a.HasRubric() {
		return false
	}
	x.byName[a.Name] = a
	return true
}

// Len returns the number of indexed assignments.
func (x *AssignmentIndex) Len() int { return len(x.byName) }

// Match resolves the assignment and rubric item named by rec.
func (x *AssignmentIndex) Match(rec model.GradeRecord) (model.Assignment, model.RubricItem, string, bool) {
	a, ok := x.byName[rec.AssignmentLabel]
	if !ok {
		return model.Assignment{}, model.RubricItem{}, ReasonNoAssignment, false
	}
	for _, item := range a.Rubric {
		if item.Description == rec.RubricItemLabel {
			return a, item, "", true
		}
	}
	return model.Assignment{}, model.RubricItem{}, ReasonNoRubricItem, false
}

// MatchAssignments splits student matches into resolved and skipped.
func MatchAssignments(x *AssignmentIndex, matches []StudentMatch) ([]AssignmentMatch, []model.SkippedRecord) {
	resolved := make([]AssignmentMatch, 0, len(matches))
	var skipped []model.SkippedRecord
	for _, m := range matches {
		a, item, reason, ok := x.Match(m.Record)
		if !ok {
			skipped = append(skipped, m.Record.Skip(reason))
			continue
		}
		resolved = append(resolved, AssignmentMatch{StudentMatch: m, Assignment: a, RubricItem: item})
	}
	return resolved, skipped
}

func normEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
