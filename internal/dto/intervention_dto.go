package dto

import (
	"time"

	"github.com/noah-isme/gema-intervention-api/internal/models"
)

// CheckInRequest is the payload of a daily check-in. Pointers distinguish
// a missing score from a legitimate zero.
type CheckInRequest struct {
	StudentID    string `json:"student_id" validate:"required,max=128"`
	QuizScore    *int   `json:"quiz_score" validate:"required"`
	FocusMinutes *int   `json:"focus_minutes" validate:"required"`
	Penalty      bool   `json:"penalty"`
}

// CheckInResponse reports the verdict of a check-in.
type CheckInResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	StudentID      string `json:"student_id"`
	QuizScore      int    `json:"quiz_score"`
	FocusMinutes   int    `json:"focus_minutes"`
	InterventionID string `json:"intervention_id,omitempty"`
	PenaltyImposed bool   `json:"penalty_imposed"`
}

// AssignTaskRequest carries a mentor's remedial task for an open intervention.
type AssignTaskRequest struct {
	StudentID      string `json:"student_id" query:"student_id" validate:"required,max=128"`
	InterventionID string `json:"intervention_id" query:"intervention_id" validate:"required"`
	Task           string `json:"task" query:"task" validate:"required"`
}

// AssignTaskResponse echoes a successful assignment.
type AssignTaskResponse struct {
	StudentID      string    `json:"student_id"`
	InterventionID string    `json:"intervention_id"`
	Task           string    `json:"task"`
	Status         string    `json:"status"`
	AssignedAt     time.Time `json:"assigned_at"`
}

// StatusResponse is the externally visible state of a student.
type StatusResponse struct {
	StudentID      string     `json:"student_id"`
	Status         string     `json:"status"`
	Task           string     `json:"task,omitempty"`
	InterventionID string     `json:"intervention_id,omitempty"`
	AutoUnlockAt   *time.Time `json:"auto_unlock_at,omitempty"`
}

// CompleteRemedialRequest closes the remediation loop for a student.
type CompleteRemedialRequest struct {
	StudentID string `json:"student_id" validate:"required,max=128"`
}

// CompleteRemedialResponse reports the status after completion.
type CompleteRemedialResponse struct {
	StudentID      string `json:"student_id"`
	Status         string `json:"status"`
	InterventionID string `json:"intervention_id,omitempty"`
}

// MentorAlert is the event handed to mentor notifiers when a check-in needs review.
type MentorAlert struct {
	StudentID            string    `json:"student_id"`
	QuizScore            int       `json:"quiz_score"`
	FocusMinutes         int       `json:"focus_minutes"`
	InterventionID       string    `json:"intervention_id"`
	RequiresIntervention bool      `json:"requires_intervention"`
	PenaltyImposed       bool      `json:"penalty_imposed"`
	PenaltyReason        *string   `json:"penalty_reason"`
	SubmissionType       string    `json:"submission_type"`
	PerformanceIssue     string    `json:"performance_issue"`
	Timestamp            time.Time `json:"timestamp"`
}

// NewStatusResponse projects a student and its open intervention into a response.
func NewStatusResponse(student models.Student, open *models.Intervention) StatusResponse {
	response := StatusResponse{
		StudentID: student.StudentID,
		Status:    student.Status,
	}
	if open == nil {
		return response
	}

	response.InterventionID = open.ID
	unlockAt := open.AutoUnlockAt
	response.AutoUnlockAt = &unlockAt
	if open.Status == models.InterventionStatusAssigned {
		response.Task = open.TaskDescription
	}
	return response
}
