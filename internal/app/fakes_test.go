package service_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/pagination"
	"github.com/okian/rubricsync/internal/task"
)

func cursorOf[T any](items []T) *pagination.Cursor[T] {
	if items == nil {
		items = []T{}
	}
	body, _ := json.Marshal(items)
	return pagination.New(pagination.Page{Body: body}, nil, pagination.NewUnwrapper(func(raw json.RawMessage) (T, error) {
		var v T
		err := json.Unmarshal(raw, &v)
		return v, err
	}))
}

type fakeAPI struct {
	mu          sync.Mutex
	students    []model.Student
	assignments []model.Assignment
	submissions map[string][]model.Submission
	studentsErr error
	submitErr   func(u model.GradeUpdate, attempt int) error

	attempts  map[string]int
	submitted []model.GradeUpdate
	gets      int
}

func (f *fakeAPI) ListStudents(context.Context, string) (*pagination.Cursor[model.Student], error) {
	if f.studentsErr != nil {
		return nil, f.studentsErr
	}
	return cursorOf(f.students), nil
}

func (f *fakeAPI) ListAssignments(context.Context, string) (*pagination.Cursor[model.Assignment], error) {
	return cursorOf(f.assignments), nil
}

func (f *fakeAPI) ListSubmissions(_ context.Context, _ string, assignmentID string) (*pagination.Cursor[model.Submission], error) {
	return cursorOf(f.submissions[assignmentID]), nil
}

func (f *fakeAPI) GetSubmission(_ context.Context, _ string, assignmentID, studentID string) (model.Submission, error) {
	f.mu.Lock()
	f.gets++
	f.mu.Unlock()
	return model.Submission{ID: "new", AssignmentID: assignmentID, StudentID: studentID}, nil
}

func (f *fakeAPI) SubmitRubricGrade(_ context.Context, _ string, assignmentID, studentID string, ra model.RubricAssessment) error {
	u := model.GradeUpdate{StudentID: studentID, AssignmentID: assignmentID, RubricAssessment: ra}
	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[studentID]++
	attempt := f.attempts[studentID]
	f.mu.Unlock()
	if f.submitErr != nil {
		if err := f.submitErr(u, attempt); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.submitted = append(f.submitted, u)
	f.mu.Unlock()
	return nil
}

type fixedBudget float64

func (b fixedBudget) Available() float64 { return float64(b) }

func extractorOf(records []model.GradeRecord) func(context.Context, *task.Handle, string, string) ([]model.GradeRecord, error) {
	return func(_ context.Context, h *task.Handle, _, _ string) ([]model.GradeRecord, error) {
		h.SetTotal(1)
		h.ReportProgress(1, "read")
		return records, nil
	}
}

// answerAll replies to every confirmation with ok and counts requests.
func answerAll(ok bool) (chan task.ConfirmationRequest, *int, func()) {
	ch := make(chan task.ConfirmationRequest)
	n := new(int)
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for req := range ch {
			mu.Lock()
			*n++
			mu.Unlock()
			req.Result <- ok
		}
	}()
	return ch, n, func() {
		close(ch)
		<-done
	}
}

func classroom() *fakeAPI {
	return &fakeAPI{
		students: []model.Student{
			{ID: "u1", Name: "Ada", Email: "ada@uni.edu", ExternalStudentID: "S1"},
			{ID: "u2", Name: "Bob", Email: "bob@uni.edu", ExternalStudentID: "S2"},
		},
		assignments: []model.Assignment{
			{ID: "a1", Name: "HW1", Rubric: []model.RubricItem{{ID: "_r1", Description: "Q1", Points: 10}}},
			{ID: "a2", Name: "Reading"},
		},
		submissions: map[string][]model.Submission{
			"a1": {{ID: "s1", AssignmentID: "a1", StudentID: "u1", RubricAssessment: map[string]any{
				"_r7": map[string]any{"points": 1.0},
			}}},
		},
	}
}

func uploadRecords() []model.GradeRecord {
	return []model.GradeRecord{
		{Email: "ada@uni.edu", AssignmentLabel: "HW1", RubricItemLabel: "Q1", Score: 3},
		{ExternalStudentID: "S2", AssignmentLabel: "HW1", RubricItemLabel: "Q1", Score: 4},
		{Email: "eve@uni.edu", AssignmentLabel: "HW1", RubricItemLabel: "Q1", Score: 5},
	}
}
