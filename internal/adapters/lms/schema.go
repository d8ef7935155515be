package lms

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/okian/rubricsync/internal/domain/model"
)

// Wire shapes use pointers so that missing required fields can be told
// apart from zero values.

type wireUser struct {
	ID        *string `json:"id"`
	Name      *string `json:"name"`
	SISUserID *string `json:"sis_user_id"`
	Email     *string `json:"email"`
}

type wireRubricItem struct {
	ID          *string  `json:"id"`
	Points      *float64 `json:"points"`
	Description *string  `json:"description"`
}

type wireAssignment struct {
	ID     *string          `json:"id"`
	Name   *string          `json:"name"`
	Rubric []wireRubricItem `json:"rubric"`
}

type wireSubmission struct {
	ID               *string         `json:"id"`
	AssignmentID     *string         `json:"assignment_id"`
	UserID           *string         `json:"user_id"`
	RubricAssessment json.RawMessage `json:"rubric_assessment"`
}

type wireTerm struct {
	Name *string `json:"name"`
}

type wireCourse struct {
	ID        *string   `json:"id"`
	Name      *string   `json:"name"`
	Term      *wireTerm `json:"term"`
	CreatedAt *string   `json:"created_at"`
}

type wireProgress struct {
	ID            *string         `json:"id"`
	Completion    *float64        `json:"completion"`
	WorkflowState *string         `json:"workflow_state"`
	Message       *string         `json:"message"`
	Results       json.RawMessage `json:"results"`
}

var errMissing = errors.New("missing required field")

func required(name string, v *string) (string, error) {
	if v == nil {
		return "", fmt.Errorf("%w %q", errMissing, name)
	}
	return *v, nil
}

func optional(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func decodeStudent(raw json.RawMessage) (model.Student, error) {
	var w wireUser
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Student{}, err
	}
	id, err := required("id", w.ID)
	if err != nil {
		return model.Student{}, err
	}
	name, err := required("name", w.Name)
	if err != nil {
		return model.Student{}, err
	}
	return model.Student{
		ID:                id,
		Name:              name,
		ExternalStudentID: optional(w.SISUserID),
		Email:             optional(w.Email),
	}, nil
}

func decodeAssignment(raw json.RawMessage) (model.Assignment, error) {
	var w wireAssignment
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Assignment{}, err
	}
	id, err := required("id", w.ID)
	if err != nil {
		return model.Assignment{}, err
	}
	name, err := required("name", w.Name)
	if err != nil {
		return model.Assignment{}, err
	}
	a := model.Assignment{ID: id, Name: name}
	if w.Rubric != nil {
		a.Rubric = make([]model.RubricItem, 0, len(w.Rubric))
		for i, r := range w.Rubric {
			rid, err := required("id", r.ID)
			if err != nil {
				return model.Assignment{}, fmt.Errorf("rubric %d: %w", i, err)
			}
			desc, err := required("description", r.Description)
			if err != nil {
				return model.Assignment{}, fmt.Errorf("rubric %d: %w", i, err)
			}
			if r.Points == nil {
				return model.Assignment{}, fmt.Errorf("rubric %d: %w %q", i, errMissing, "points")
			}
			a.Rubric = append(a.Rubric, model.RubricItem{ID: rid, Description: desc, Points: *r.Points})
		}
	}
	return a, nil
}

func decodeSubmission(raw json.RawMessage) (model.Submission, error) {
	var w wireSubmission
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Submission{}, err
	}
	id, err := required("id", w.ID)
	if err != nil {
		return model.Submission{}, err
	}
	aid, err := required("assignment_id", w.AssignmentID)
	if err != nil {
		return model.Submission{}, err
	}
	uid, err := required("user_id", w.UserID)
	if err != nil {
		return model.Submission{}, err
	}
	s := model.Submission{ID: id, AssignmentID: aid, StudentID: uid}
	if len(w.RubricAssessment) > 0 {
		var ra map[string]any
		if err := json.Unmarshal(w.RubricAssessment, &ra); err == nil {
			s.RubricAssessment = ra
		}
	}
	return s, nil
}

func decodeCourse(raw json.RawMessage) (model.Course, error) {
	var w wireCourse
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Course{}, err
	}
	id, err := required("id", w.ID)
	if err != nil {
		return model.Course{}, err
	}
	name, err := required("name", w.Name)
	if err != nil {
		return model.Course{}, err
	}
	if w.Term == nil {
		return model.Course{}, fmt.Errorf("%w %q", errMissing, "term")
	}
	term, err := required("term.name", w.Term.Name)
	if err != nil {
		return model.Course{}, err
	}
	created, err := required("created_at", w.CreatedAt)
	if err != nil {
		return model.Course{}, err
	}
	at, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return model.Course{}, fmt.Errorf("created_at: %w", err)
	}
	return model.Course{ID: id, Name: name, Term: term, CreatedAt: at}, nil
}

func decodeProgress(raw json.RawMessage) (model.JobProgress, error) {
	var w wireProgress
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.JobProgress{}, err
	}
	id, err := required("id", w.ID)
	if err != nil {
		return model.JobProgress{}, err
	}
	state, err := required("workflow_state", w.WorkflowState)
	if err != nil {
		return model.JobProgress{}, err
	}
	p := model.JobProgress{
		ID:            id,
		Completion:    w.Completion,
		WorkflowState: state,
		Message:       optional(w.Message),
	}
	if len(w.Results) > 0 && string(w.Results) != "null" {
		p.Results = append([]byte(nil), w.Results...)
	}
	return p, nil
}
