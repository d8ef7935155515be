package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	service "github.com/okian/rubricsync/internal/app"
	"github.com/okian/rubricsync/internal/adapters/lms"
	"github.com/okian/rubricsync/internal/domain/matching"
	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/task"
	"github.com/okian/rubricsync/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func request(records []model.GradeRecord) service.Request {
	return service.Request{CourseID: "c1", File: "scores.csv", Label: "Q1", Extract: extractorOf(records)}
}

func TestPipelineEndToEnd(t *testing.T) {
	Convey("Given two matchable records and one unknown email", t, func() {
		api := classroom()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("When the operator accepts the skipped record", func() {
			confirm, asked, stop := answerAll(true)
			svc := service.New(api,
				service.WithBudget(fixedBudget(700)),
				service.WithConfirmations(confirm),
				service.WithLogger(logger.Get()),
			)
			var mu sync.Mutex
			var stages []string
			svc.SubscribeStage(func(p task.Progress) {
				mu.Lock()
				stages = append(stages, p.Message)
				mu.Unlock()
			})
			out := svc.Run(ctx, request(uploadRecords()))
			stop()

			Convey("Then two updates succeed and one record is skipped", func() {
				So(out.Status, ShouldEqual, model.StatusFinished)
				So(out.RunID, ShouldNotBeEmpty)
				So(out.Error, ShouldBeEmpty)
				So(len(out.Updated), ShouldEqual, 2)
				So(len(out.FailedUpdates), ShouldEqual, 0)
				So(len(out.SkippedRecords), ShouldEqual, 1)
				So(out.SkippedRecords[0].Email, ShouldEqual, "eve@uni.edu")
				So(out.SkippedRecords[0].Error, ShouldEqual, matching.ReasonNoStudent)
				So(*asked, ShouldEqual, 1)
			})

			Convey("And existing assessments are merged, missing submissions fetched", func() {
				So(out.Updated[0].StudentID, ShouldEqual, "u1")
				So(out.Updated[0].RubricAssessment["_r7"], ShouldResemble, map[string]any{"points": 1.0})
				So(out.Updated[0].RubricAssessment["_r1"], ShouldResemble, map[string]any{"points": 3.0})
				So(out.Updated[1].StudentID, ShouldEqual, "u2")
				So(out.Updated[1].RubricAssessment["_r1"], ShouldResemble, map[string]any{"points": 4.0})
				So(api.gets, ShouldEqual, 1)
				So(len(api.submitted), ShouldEqual, 2)
			})

			Convey("And stage progress ends with the finish message", func() {
				mu.Lock()
				defer mu.Unlock()
				So(stages[len(stages)-1], ShouldEqual, "Upload process finished!")
				So(svc.Status().State, ShouldEqual, service.StateFinished)
				So(svc.Status().Stage.Fraction, ShouldEqual, 1.0)
			})
		})

		Convey("When the operator rejects the skipped record", func() {
			confirm, _, stop := answerAll(false)
			svc := service.New(api, service.WithBudget(fixedBudget(700)), service.WithConfirmations(confirm))
			out := svc.Run(ctx, request(uploadRecords()))
			stop()

			Convey("Then the run aborts with no updates and the skip kept", func() {
				So(out.Status, ShouldEqual, model.StatusAborted)
				So(len(out.Updated), ShouldEqual, 0)
				So(len(out.SkippedRecords), ShouldEqual, 1)
				So(len(api.submitted), ShouldEqual, 0)
				So(svc.Status().State, ShouldEqual, service.StateAborted)
				So(svc.Status().Stage.Message, ShouldEqual, "Aborted!")
			})
		})
	})

	Convey("Given records naming an unknown rubric item", t, func() {
		api := classroom()
		records := []model.GradeRecord{
			{Email: "ada@uni.edu", AssignmentLabel: "HW1", RubricItemLabel: "Q9", Score: 1},
			{Email: "bob@uni.edu", AssignmentLabel: "Reading", RubricItemLabel: "Q1", Score: 1},
		}
		confirm, asked, stop := answerAll(true)
		svc := service.New(api, service.WithBudget(fixedBudget(700)), service.WithConfirmations(confirm))
		out := svc.Run(context.Background(), request(records))
		stop()

		Convey("Then nothing is uploaded and the run finishes early", func() {
			So(out.Status, ShouldEqual, model.StatusFinished)
			So(len(out.SkippedRecords), ShouldEqual, 2)
			So(out.SkippedRecords[0].Error, ShouldEqual, matching.ReasonNoRubricItem)
			So(out.SkippedRecords[1].Error, ShouldEqual, matching.ReasonNoAssignment)
			So(*asked, ShouldEqual, 1)
			So(svc.Status().Stage.Message, ShouldEqual, "Finished since there is nothing to upload.")
		})
	})
}

func TestPipelineUploadFailures(t *testing.T) {
	records := uploadRecords()[:2]

	Convey("Given an upload that is throttled once", t, func() {
		api := classroom()
		api.submitErr = func(u model.GradeUpdate, attempt int) error {
			if u.StudentID == "u1" && attempt == 1 {
				return &lms.HTTPError{StatusCode: 403, Body: []byte("403 Forbidden (Rate Limit Exceeded)")}
			}
			return nil
		}
		svc := service.New(api, service.WithBudget(fixedBudget(700)))

		Convey("Then it is retried and succeeds", func() {
			out := svc.Run(context.Background(), request(records))
			So(out.Status, ShouldEqual, model.StatusFinished)
			So(len(out.Updated), ShouldEqual, 2)
			So(len(out.FailedUpdates), ShouldEqual, 0)
			So(api.attempts["u1"], ShouldEqual, 2)
		})
	})

	Convey("Given an upload rejected by the platform", t, func() {
		api := classroom()
		api.submitErr = func(u model.GradeUpdate, attempt int) error {
			if u.StudentID == "u2" {
				return &lms.HTTPError{Method: "PUT", URL: "/x", StatusCode: 400, Body: []byte("bad rubric")}
			}
			return nil
		}
		svc := service.New(api, service.WithBudget(fixedBudget(700)))

		Convey("Then it is recorded as a failed update without retry", func() {
			out := svc.Run(context.Background(), request(records))
			So(out.Status, ShouldEqual, model.StatusFinished)
			So(len(out.Updated), ShouldEqual, 1)
			So(len(out.FailedUpdates), ShouldEqual, 1)
			So(out.FailedUpdates[0].StudentID, ShouldEqual, "u2")
			So(out.FailedUpdates[0].Error, ShouldContainSubstring, "bad rubric")
			So(api.attempts["u2"], ShouldEqual, 1)
		})
	})

	Convey("Given a platform that keeps throttling", t, func() {
		api := classroom()
		api.submitErr = func(u model.GradeUpdate, attempt int) error {
			return &lms.HTTPError{StatusCode: 429}
		}
		svc := service.New(api, service.WithBudget(fixedBudget(700)), service.WithUploadAttempts(2))

		Convey("Then each update is retried up to the cap", func() {
			out := svc.Run(context.Background(), request(records))
			So(len(out.FailedUpdates), ShouldEqual, 2)
			So(api.attempts["u1"], ShouldEqual, 3)
		})
	})
}

func TestPipelineErrors(t *testing.T) {
	Convey("Given a roster listing that fails", t, func() {
		api := classroom()
		api.studentsErr = errors.New("connection refused")
		svc := service.New(api)

		Convey("Then the run errors with the formatted message", func() {
			out := svc.Run(context.Background(), request(uploadRecords()))
			So(out.Status, ShouldEqual, model.StatusErrored)
			So(out.Error, ShouldContainSubstring, "match-students")
			So(out.Error, ShouldContainSubstring, "connection refused")
			So(out.SkippedRecords, ShouldBeEmpty)
		})
	})

	Convey("Given a request without an extractor", t, func() {
		svc := service.New(classroom())

		Convey("Then the run errors", func() {
			out := svc.Run(context.Background(), service.Request{CourseID: "c1"})
			So(out.Status, ShouldEqual, model.StatusErrored)
			So(out.Error, ShouldContainSubstring, service.ErrNoExtractor.Error())
		})
	})

	Convey("Given skipped records and no confirmation channel", t, func() {
		svc := service.New(classroom())

		Convey("Then the run errors instead of silently continuing", func() {
			out := svc.Run(context.Background(), request(uploadRecords()))
			So(out.Status, ShouldEqual, model.StatusErrored)
			So(out.Error, ShouldContainSubstring, task.ErrNoConfirmer.Error())
			So(len(out.SkippedRecords), ShouldEqual, 1)
		})
	})
}
