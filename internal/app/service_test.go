package service_test

import (
	"context"
	"testing"
	"time"

	service "github.com/okian/rubricsync/internal/app"
	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/task"
	. "github.com/smartystreets/goconvey/convey"
)

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New(classroom())

		Convey("Then it starts idle", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Status().State, ShouldEqual, service.StateIdle)
		})
	})

	Convey("Given a new service with custom options", t, func() {
		svc := service.New(classroom(),
			service.WithQuotaFloor(0),
			service.WithMaxInFlight(1),
			service.WithUploadAttempts(0),
			service.WithPollInterval(time.Millisecond),
			service.WithRateLimitCheck(func(error) bool { return false }),
			service.WithLogger(nil),
		)

		Convey("Then it should be created successfully", func() {
			So(svc, ShouldNotBeNil)
		})
	})
}

func TestService_BudgetAdmission(t *testing.T) {
	Convey("Given a budget that only recovers after a while", t, func() {
		api := classroom()
		b := &recoveringBudget{until: time.Now().Add(30 * time.Millisecond)}
		svc := service.New(api,
			service.WithBudget(b),
			service.WithPollInterval(5*time.Millisecond),
		)
		records := uploadRecords()[:2]

		Convey("Then uploads wait for the floor to clear and then complete", func() {
			out := svc.Run(context.Background(), service.Request{CourseID: "c1", Extract: extractorOf(records)})
			So(out.Status, ShouldEqual, model.StatusFinished)
			So(len(out.Updated), ShouldEqual, 2)
			So(time.Now().After(b.until), ShouldBeTrue)
		})
	})
}

type recoveringBudget struct{ until time.Time }

func (b *recoveringBudget) Available() float64 {
	if time.Now().Before(b.until) {
		return 100
	}
	return 700
}

func TestService_ItemProgress(t *testing.T) {
	Convey("Given a service with an item subscriber", t, func() {
		svc := service.New(classroom(), service.WithBudget(fixedBudget(700)))
		var tasks []string
		svc.SubscribeItem(func(p task.Progress) {
			if len(tasks) == 0 || tasks[len(tasks)-1] != p.Task {
				tasks = append(tasks, p.Task)
			}
		})

		Convey("Then every stage reports under its own name", func() {
			out := svc.Run(context.Background(), service.Request{CourseID: "c1", Extract: extractorOf(uploadRecords()[:2])})
			So(out.Status, ShouldEqual, model.StatusFinished)
			So(tasks, ShouldResemble, []string{"resolve", "match-students", "match-assignments", "transform", "upload"})
		})
	})
}
