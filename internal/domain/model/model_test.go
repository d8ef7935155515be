package model_test

import (
	"testing"

	model "github.com/okian/rubricsync/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestGradeRecord(t *testing.T) {
	convey.Convey("Given a grade record", t, func() {
		rec := model.GradeRecord{Email: "a@x.edu", AssignmentLabel: "HW1", RubricItemLabel: "Q1", Score: 3}

		convey.Convey("When it is skipped", func() {
			skipped := rec.Skip("no student")

			convey.Convey("Then the original record is carried with the reason", func() {
				convey.So(skipped.GradeRecord, convey.ShouldResemble, rec)
				convey.So(skipped.Error, convey.ShouldEqual, "no student")
			})
		})
	})
}

func TestAssignmentRubric(t *testing.T) {
	convey.Convey("Given assignments with and without rubrics", t, func() {
		convey.Convey("Then a nil rubric means no rubric and an empty one still counts", func() {
			convey.So(model.Assignment{}.HasRubric(), convey.ShouldBeFalse)
			convey.So(model.Assignment{Rubric: []model.RubricItem{}}.HasRubric(), convey.ShouldBeTrue)
		})
	})
}

func TestJobProgress(t *testing.T) {
	convey.Convey("Given job progress states", t, func() {
		convey.So(model.JobProgress{WorkflowState: model.JobRunning}.Terminal(), convey.ShouldBeFalse)
		convey.So(model.JobProgress{WorkflowState: model.JobQueued}.Terminal(), convey.ShouldBeFalse)
		convey.So(model.JobProgress{WorkflowState: model.JobCompleted}.Terminal(), convey.ShouldBeTrue)
		convey.So(model.JobProgress{WorkflowState: model.JobFailed}.Terminal(), convey.ShouldBeTrue)
	})
}
