package assessment_test

import (
	"testing"

	"github.com/okian/rubricsync/internal/domain/assessment"
	"github.com/okian/rubricsync/internal/domain/matching"
	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func match(student, assignment, item string, score float64) matching.AssignmentMatch {
	return matching.AssignmentMatch{
		StudentMatch: matching.StudentMatch{
			Record:  model.GradeRecord{Score: score},
			Student: model.Student{ID: student},
		},
		Assignment: model.Assignment{ID: assignment},
		RubricItem: model.RubricItem{ID: item},
	}
}

func TestAccumulator(t *testing.T) {
	convey.Convey("Given two scores for the same rubric item", t, func() {
		acc := assessment.NewAccumulator()
		acc.Add(match("u1", "a1", "_r1", 3))
		acc.Add(match("u1", "a1", "_r1", 4))

		convey.Convey("Then they merge into a single value of 7", func() {
			ups := acc.Updates(nil)
			convey.So(len(ups), convey.ShouldEqual, 1)
			convey.So(ups[0].RubricAssessment["_r1"], convey.ShouldResemble, map[string]any{"points": 7.0})
		})
	})

	convey.Convey("Given scores across students and assignments", t, func() {
		acc := assessment.NewAccumulator()
		acc.Add(match("u2", "a1", "_r1", 1))
		acc.Add(match("u1", "a2", "_r1", 1))
		acc.Add(match("u1", "a1", "_r2", 1))

		convey.Convey("Then updates are sorted by student then assignment", func() {
			ups := acc.Updates(nil)
			convey.So(acc.Len(), convey.ShouldEqual, 3)
			convey.So(acc.Students(), convey.ShouldResemble, []string{"u1", "u2"})
			convey.So(acc.Assignments(), convey.ShouldResemble, []string{"a1", "a2"})
			got := [][2]string{}
			for _, u := range ups {
				got = append(got, [2]string{u.StudentID, u.AssignmentID})
			}
			convey.So(got, convey.ShouldResemble, [][2]string{{"u1", "a1"}, {"u1", "a2"}, {"u2", "a1"}})
		})
	})

	convey.Convey("Given an existing assessment with unrelated entries", t, func() {
		existing := model.RubricAssessment{
			"_r9": map[string]any{"points": 2.0, "comments": "kept"},
			"_r1": map[string]any{"points": 1.0, "comments": "old"},
		}
		acc := assessment.NewAccumulator()
		acc.Add(match("u1", "a1", "_r1", 5))

		convey.Convey("When updates are built", func() {
			ups := acc.Updates(func(s, a string) model.RubricAssessment {
				if s == "u1" && a == "a1" {
					return existing
				}
				return nil
			})

			convey.Convey("Then unrelated items are retained and the base is not mutated", func() {
				ra := ups[0].RubricAssessment
				convey.So(ra["_r9"], convey.ShouldResemble, map[string]any{"points": 2.0, "comments": "kept"})
				convey.So(ra["_r1"], convey.ShouldResemble, map[string]any{"points": 5.0, "comments": "old"})
				convey.So(existing["_r1"], convey.ShouldResemble, map[string]any{"points": 1.0, "comments": "old"})
			})
		})
	})
}

func TestMerge(t *testing.T) {
	convey.Convey("Given nil inputs", t, func() {
		convey.So(assessment.Merge(nil, nil), convey.ShouldResemble, model.RubricAssessment{})
		convey.So(assessment.Merge(nil, model.RubricAssessment{"_r1": map[string]any{"points": 1.0}}),
			convey.ShouldResemble, model.RubricAssessment{"_r1": map[string]any{"points": 1.0}})
	})
}
