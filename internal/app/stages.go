package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/rubricsync/internal/domain/assessment"
	"github.com/okian/rubricsync/internal/domain/matching"
	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/parallel"
	"github.com/okian/rubricsync/internal/task"
	"github.com/okian/rubricsync/pkg/logger"
	"github.com/okian/rubricsync/pkg/metrics"
)

const stageCount = 5

// Root progress messages.
const (
	msgResolving   = "Resolving records from the uploaded file"
	msgStudents    = "Matching records with current students"
	msgAssignments = "Matching records with current assignments"
	msgCaching     = "Caching student submissions"
	msgUploading   = "Updating scores"
	msgNothing     = "Finished since there is nothing to upload."
	msgFinished    = "Upload process finished!"
	msgAborted     = "Aborted!"
)

// run carries the state of one Service.Run call.
type run struct {
	svc *Service
	req Request
	out model.Outcome
}

// stage runs fn as a sub-task whose progress is re-published as item
// progress.
func stage[T any](ctx context.Context, r *run, state State, name string, fn task.Func[T]) (task.Result[T], error) {
	s := r.svc
	s.setState(state)
	t := task.New(name, fn, task.WithConfirmations(s.confirm), task.WithLogger(s.logger.Named(name)))
	unsubscribe := t.Subscribe(s.publishItem)
	defer unsubscribe()

	start := time.Now()
	res, err := t.Execute(ctx)
	metrics.RecordStageDuration(string(state), time.Since(start))
	if err != nil {
		return res, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

func (r *run) execute(ctx context.Context, h *task.Handle) (struct{}, error) {
	h.SetTotal(stageCount)
	abort := func(done int) (struct{}, error) {
		h.ReportProgress(done, msgAborted)
		return struct{}{}, h.ExitEarly()
	}

	h.ReportProgress(0, msgResolving)
	resolved, err := stage(ctx, r, StateResolving, "resolve", r.resolve)
	if err != nil {
		return struct{}{}, err
	}
	if resolved.Exited {
		return abort(0)
	}

	h.ReportProgress(1, msgStudents)
	students, err := stage(ctx, r, StateMatchingStudents, "match-students", func(ctx context.Context, sh *task.Handle) ([]matching.StudentMatch, error) {
		return r.matchStudents(ctx, sh, resolved.Value)
	})
	if err != nil {
		return struct{}{}, err
	}
	if students.Exited {
		return abort(1)
	}

	h.ReportProgress(2, msgAssignments)
	assigned, err := stage(ctx, r, StateMatchingAssignments, "match-assignments", func(ctx context.Context, sh *task.Handle) ([]matching.AssignmentMatch, error) {
		return r.matchAssignments(ctx, sh, students.Value)
	})
	if err != nil {
		return struct{}{}, err
	}
	if assigned.Exited {
		return abort(2)
	}

	h.ReportProgress(3, msgCaching)
	updates, err := stage(ctx, r, StateTransforming, "transform", func(ctx context.Context, sh *task.Handle) ([]model.GradeUpdate, error) {
		return r.transform(ctx, sh, assigned.Value)
	})
	if err != nil {
		return struct{}{}, err
	}
	if len(updates.Value) == 0 {
		h.ReportProgress(stageCount, msgNothing)
		return struct{}{}, nil
	}

	h.ReportProgress(4, msgUploading)
	if _, err := stage(ctx, r, StateUploading, "upload", func(ctx context.Context, sh *task.Handle) (struct{}, error) {
		return struct{}{}, r.upload(ctx, sh, updates.Value)
	}); err != nil {
		return struct{}{}, err
	}
	h.ReportProgress(stageCount, msgFinished)
	return struct{}{}, nil
}

func (r *run) resolve(ctx context.Context, h *task.Handle) ([]model.GradeRecord, error) {
	if r.req.Extract == nil {
		return nil, ErrNoExtractor
	}
	return r.req.Extract(ctx, h, r.req.File, r.req.Label)
}

func (r *run) matchStudents(ctx context.Context, h *task.Handle, records []model.GradeRecord) ([]matching.StudentMatch, error) {
	h.ReportProgress(0, "Getting student information from the platform")
	cur, err := r.svc.api.ListStudents(ctx, r.req.CourseID)
	if err != nil {
		return nil, err
	}
	idx := matching.NewStudentIndex()
	for cur.Next(ctx) {
		idx.Add(cur.Value())
		h.ReportProgress(0, fmt.Sprintf("Got information of %d student(s) from the platform", idx.Len()))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	matched, skipped := matching.MatchStudents(idx, records)
	if err := r.checkpoint(ctx, h, len(records), skipped, "failed to match with any current student"); err != nil {
		return nil, err
	}
	return matched, nil
}

func (r *run) matchAssignments(ctx context.Context, h *task.Handle, matches []matching.StudentMatch) ([]matching.AssignmentMatch, error) {
	h.ReportProgress(0, "Getting assignment information from the platform")
	cur, err := r.svc.api.ListAssignments(ctx, r.req.CourseID)
	if err != nil {
		return nil, err
	}
	idx := matching.NewAssignmentIndex()
	for cur.Next(ctx) {
		if idx.Add(cur.Value()) {
			h.ReportProgress(0, fmt.Sprintf("Got information of %d assignment(s) from the platform", idx.Len()))
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	resolved, skipped := matching.MatchAssignments(idx, matches)
	if err := r.checkpoint(ctx, h, len(matches), skipped, "failed to match with any current pair of assignment and rubric item"); err != nil {
		return nil, err
	}
	return resolved, nil
}

// checkpoint records skipped and, if any, asks the operator whether to go
// on. A rejection exits the stage early.
func (r *run) checkpoint(ctx context.Context, h *task.Handle, total int, skipped []model.SkippedRecord, what string) error {
	if len(skipped) == 0 {
		return nil
	}
	r.out.SkippedRecords = append(r.out.SkippedRecords, skipped...)
	desc := fmt.Sprintf("Out of %d records, %d %s. Do you want to proceed anyway by skipping these records?", total, len(skipped), what)
	ok, err := h.RequestConfirmation(ctx, desc, skipped)
	if err != nil {
		return err
	}
	if !ok {
		return h.ExitEarly()
	}
	return nil
}

type pairKey struct {
	student    string
	assignment string
}

func (r *run) transform(ctx context.Context, h *task.Handle, matches []matching.AssignmentMatch) ([]model.GradeUpdate, error) {
	acc := assessment.NewAccumulator()
	for _, m := range matches {
		acc.Add(m)
	}
	students := acc.Students()
	wanted := make(map[string]struct{}, len(students))
	for _, id := range students {
		wanted[id] = struct{}{}
	}
	total := len(students) * len(acc.Assignments())
	h.SetTotal(total)
	h.ReportProgress(0, "Getting student assignment submission information from the platform")

	cache := make(map[pairKey]model.RubricAssessment, total)
	fetched := 0
	progress := func() {
		fetched++
		h.ReportProgress(fetched, fmt.Sprintf("Got %d out of %d submissions from the platform", fetched, total))
	}
	for _, aid := range acc.Assignments() {
		cur, err := r.svc.api.ListSubmissions(ctx, r.req.CourseID, aid)
		if err != nil {
			return nil, err
		}
		for cur.Next(ctx) {
			sub := cur.Value()
			if _, ok := wanted[sub.StudentID]; !ok {
				continue
			}
			k := pairKey{student: sub.StudentID, assignment: aid}
			if _, seen := cache[k]; seen {
				continue
			}
			cache[k] = sub.RubricAssessment
			progress()
		}
		if err := cur.Err(); err != nil {
			return nil, err
		}
		for _, sid := range students {
			k := pairKey{student: sid, assignment: aid}
			if _, ok := cache[k]; ok {
				continue
			}
			sub, err := r.svc.api.GetSubmission(ctx, r.req.CourseID, aid, sid)
			if err != nil {
				return nil, err
			}
			cache[k] = sub.RubricAssessment
			progress()
		}
	}

	return acc.Updates(func(studentID, assignmentID string) model.RubricAssessment {
		return cache[pairKey{student: studentID, assignment: assignmentID}]
	}), nil
}

func (r *run) upload(ctx context.Context, h *task.Handle, updates []model.GradeUpdate) error {
	s := r.svc
	jobs := make([]parallel.Job[model.GradeUpdate], len(updates))
	for i, u := range updates {
		jobs[i] = func(ctx context.Context) (model.GradeUpdate, error) {
			return u, s.api.SubmitRubricGrade(ctx, r.req.CourseID, u.AssignmentID, u.StudentID, u.RubricAssessment)
		}
	}

	ctrl := parallel.New[model.GradeUpdate](
		parallel.WithName("upload"),
		parallel.WithPollInterval(s.pollInterval),
		parallel.WithLogger(s.logger.Named("upload")),
	)
	h.SetTotal(len(jobs))
	unsubscribe := ctrl.Subscribe(func(st parallel.Settlement) {
		msg := fmt.Sprintf("Updated grade for %d out of %d submissions", st.Completed, st.Total)
		if st.Errored != 0 {
			msg += fmt.Sprintf(" (%d error(s) occurred)", st.Errored)
		}
		h.ReportProgress(st.Completed+st.Errored, msg)
	})
	defer unsubscribe()

	admit := func(running int) bool {
		if running >= s.maxInFlight {
			return false
		}
		return s.budget == nil || s.budget.Available() > s.quotaFloor
	}
	retry := func(err error, attempt int) bool {
		return attempt <= s.uploadAttempts && s.rateLimited(err)
	}
	outcome, err := ctrl.Execute(ctx, jobs, admit, retry)

	sort.Slice(outcome.Results, func(i, j int) bool { return outcome.Results[i].Index < outcome.Results[j].Index })
	for _, c := range outcome.Results {
		r.out.Updated = append(r.out.Updated, c.Value)
	}
	sort.Slice(outcome.Failures, func(i, j int) bool { return outcome.Failures[i].Index < outcome.Failures[j].Index })
	for _, f := range outcome.Failures {
		r.out.FailedUpdates = append(r.out.FailedUpdates, model.FailedUpdate{
			GradeUpdate: updates[f.Index],
			Error:       f.Err.Error(),
		})
		s.logger.Warn(ctx, "grade update failed",
			logger.String("student", updates[f.Index].StudentID),
			logger.String("assignment", updates[f.Index].AssignmentID),
			logger.Int("attempts", f.Attempts),
			logger.Error(f.Err),
		)
	}
	return err
}
