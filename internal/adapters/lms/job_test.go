package lms_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/rubricsync/internal/adapters/lms"
	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestBatchJob(t *testing.T) {
	convey.Convey("Given a platform running a batch grade job", t, func() {
		var polls atomic.Int32
		var posted atomic.Value
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodPost:
				b, _ := io.ReadAll(r.Body)
				posted.Store(string(b))
				_, _ = io.WriteString(w, `{"id":"p1","completion":0,"workflow_state":"queued"}`)
			case r.URL.Path == "/api/v1/progress/p1":
				n := polls.Add(1)
				state := "running"
				if n >= 2 {
					state = "completed"
				}
				_, _ = fmt.Fprintf(w, `{"id":"p1","completion":%d,"workflow_state":%q,"results":{"ok":true}}`, n*50, state)
			}
		}))
		defer srv.Close()
		c := newClient(srv, lms.WithPollInterval(5*time.Millisecond))
		ctx := context.Background()

		updates := []model.GradeUpdate{{
			StudentID:        "u1",
			AssignmentID:     "a1",
			RubricAssessment: map[string]any{"_r1": map[string]any{"points": 3}},
		}}

		convey.Convey("When the job is submitted and awaited", func() {
			job, err := c.SubmitBatchGrades(ctx, "c1", updates)
			convey.So(err, convey.ShouldBeNil)

			var mu sync.Mutex
			var states []string
			job.Subscribe(func(p model.JobProgress) {
				mu.Lock()
				states = append(states, p.WorkflowState)
				mu.Unlock()
			})
			final, err := job.Wait(ctx)

			convey.Convey("Then progress is polled until completion", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(job.ID(), convey.ShouldEqual, "p1")
				convey.So(final.WorkflowState, convey.ShouldEqual, model.JobCompleted)
				convey.So(*final.Completion, convey.ShouldEqual, 100.0)
				convey.So(string(final.Results), convey.ShouldEqual, `{"ok":true}`)
				mu.Lock()
				defer mu.Unlock()
				convey.So(states[len(states)-1], convey.ShouldEqual, model.JobCompleted)
				convey.So(posted.Load(), convey.ShouldContainSubstring, `"grade_data":{"a1":{"u1":{"rubric_assessment"`)
			})
		})
	})

	convey.Convey("Given a job that never finishes", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"id":"p2","completion":null,"workflow_state":"running"}`)
		}))
		defer srv.Close()
		c := newClient(srv, lms.WithPollInterval(time.Millisecond))

		convey.Convey("When it is cancelled", func() {
			job, err := c.SubmitBatchGrades(context.Background(), "c1", nil)
			convey.So(err, convey.ShouldBeNil)
			job.Cancel()
			_, err = job.Wait(context.Background())

			convey.Convey("Then Wait reports the cancellation", func() {
				convey.So(errors.Is(err, lms.ErrJobCancelled), convey.ShouldBeTrue)
				<-job.Done()
			})
		})
	})
}
