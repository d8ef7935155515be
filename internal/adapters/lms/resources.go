package lms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/okian/rubricsync/internal/domain/model"
	"github.com/okian/rubricsync/internal/pagination"
)

// Enrollment types accepted by ListCourses.
const (
	EnrollmentTeacher = "teacher"
	EnrollmentTA      = "ta"
)

// ValidateCredential checks baseURL and token against the platform without
// changing the configured credential.
func (c *Client) ValidateCredential(ctx context.Context, baseURL, token string) error {
	cred := credential{baseURL: trimBase(baseURL), token: token}
	_, err := c.call(ctx, cred, "users_self", http.MethodGet, c.endpoint(cred, "/api/v1/users/self", nil), nil)
	return err
}

// ListCourses lists courses where the user holds enrollmentType, each
// joined with its term.
func (c *Client) ListCourses(ctx context.Context, enrollmentType string) (*pagination.Cursor[model.Course], error) {
	if enrollmentType == "" {
		enrollmentType = EnrollmentTeacher
	}
	q := c.pageQuery()
	q.Set("enrollment_type", enrollmentType)
	q.Add("include[]", "term")
	return list(ctx, c, "courses", "/api/v1/courses", q, decodeCourse,
		pagination.Join{ForeignKey: "enrollment_term_id", Field: "term"})
}

// ListStudents lists the active students of a course.
func (c *Client) ListStudents(ctx context.Context, courseID string) (*pagination.Cursor[model.Student], error) {
	q := c.pageQuery()
	q.Add("enrollment_type[]", "student")
	q.Add("enrollment_state[]", "active")
	return list(ctx, c, "students", fmt.Sprintf("/api/v1/courses/%s/users", segment(courseID)), q, decodeStudent)
}

// ListAssignments lists the assignments of a course.
func (c *Client) ListAssignments(ctx context.Context, courseID string) (*pagination.Cursor[model.Assignment], error) {
	return list(ctx, c, "assignments",
		fmt.Sprintf("/api/v1/courses/%s/assignments", segment(courseID)), c.pageQuery(), decodeAssignment)
}

// ListSubmissions lists the submissions of an assignment with their rubric
// assessments.
func (c *Client) ListSubmissions(ctx context.Context, courseID, assignmentID string) (*pagination.Cursor[model.Submission], error) {
	q := c.pageQuery()
	q.Add("include[]", "rubric_assessment")
	return list(ctx, c, "submissions",
		fmt.Sprintf("/api/v1/courses/%s/assignments/%s/submissions", segment(courseID), segment(assignmentID)),
		q, decodeSubmission)
}

// GetSubmission fetches a single student's submission.
func (c *Client) GetSubmission(ctx context.Context, courseID, assignmentID, studentID string) (model.Submission, error) {
	cred := c.credential()
	q := url.Values{}
	q.Add("include[]", "rubric_assessment")
	resp, err := c.call(ctx, cred, "submission", http.MethodGet, c.endpoint(cred, submissionPath(courseID, assignmentID, studentID), q), nil)
	if err != nil {
		return model.Submission{}, err
	}
	s, err := decodeSubmission(resp.body)
	if err != nil {
		return model.Submission{}, fmt.Errorf("%w: submission: %v", pagination.ErrDecode, err)
	}
	return s, nil
}

// SubmitRubricGrade replaces the rubric assessment of one submission.
func (c *Client) SubmitRubricGrade(ctx context.Context, courseID, assignmentID, studentID string, assessment model.RubricAssessment) error {
	cred := c.credential()
	payload := map[string]any{"rubric_assessment": assessment}
	_, err := c.call(ctx, cred, "grade", http.MethodPut, c.endpoint(cred, submissionPath(courseID, assignmentID, studentID), nil), payload)
	return err
}

// SubmitBatchGrades starts an asynchronous grade update for many submissions
// and returns a job polling its progress.
func (c *Client) SubmitBatchGrades(ctx context.Context, courseID string, updates []model.GradeUpdate) (*Job, error) {
	gradeData := make(map[string]map[string]map[string]any)
	for _, u := range updates {
		byStudent, ok := gradeData[u.AssignmentID]
		if !ok {
			byStudent = make(map[string]map[string]any)
			gradeData[u.AssignmentID] = byStudent
		}
		byStudent[u.StudentID] = map[string]any{"rubric_assessment": u.RubricAssessment}
	}
	cred := c.credential()
	resp, err := c.call(ctx, cred, "batch_grade", http.MethodPost,
		c.endpoint(cred, fmt.Sprintf("/api/v1/courses/%s/submissions/update_grades", segment(courseID)), nil),
		map[string]any{"grade_data": gradeData})
	if err != nil {
		return nil, err
	}
	initial, err := decodeProgress(resp.body)
	if err != nil {
		return nil, fmt.Errorf("%w: progress: %v", pagination.ErrDecode, err)
	}
	return c.watch(ctx, initial), nil
}

// GetProgress fetches an asynchronous job's progress.
func (c *Client) GetProgress(ctx context.Context, id string) (model.JobProgress, error) {
	cred := c.credential()
	resp, err := c.call(ctx, cred, "progress", http.MethodGet,
		c.endpoint(cred, "/api/v1/progress/"+segment(id), nil), nil)
	if err != nil {
		return model.JobProgress{}, err
	}
	p, err := decodeProgress(json.RawMessage(resp.body))
	if err != nil {
		return model.JobProgress{}, fmt.Errorf("%w: progress: %v", pagination.ErrDecode, err)
	}
	return p, nil
}

func submissionPath(courseID, assignmentID, studentID string) string {
	return fmt.Sprintf("/api/v1/courses/%s/assignments/%s/submissions/%s",
		segment(courseID), segment(assignmentID), segment(studentID))
}
