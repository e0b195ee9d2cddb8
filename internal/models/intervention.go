package models

import "time"

const (
	// InterventionStatusPending marks an intervention waiting for a mentor.
	InterventionStatusPending = "Pending"
	// InterventionStatusAssigned marks an intervention with a remedial task.
	InterventionStatusAssigned = "Assigned"
	// InterventionStatusCompleted marks a closed intervention.
	InterventionStatusCompleted = "Completed"
)

// Resolution values recorded when an intervention closes.
const (
	ResolutionCompleted    = "completed"
	ResolutionAutoUnlocked = "auto_unlocked"
	ResolutionSuperseded   = "superseded"
)

// Intervention is a remediation record opened by a failing check-in.
// The partial unique index keeps a single open intervention per student.
type Intervention struct {
	ID              string     `gorm:"primaryKey;size:36" json:"id"`
	StudentID       string     `gorm:"size:128;not null;index;uniqueIndex:idx_interventions_open_student,where:completed_at IS NULL" json:"student_id"`
	Status          string     `gorm:"size:32;not null" json:"status"`
	TaskDescription string     `gorm:"type:text" json:"task_description"`
	MentorApproved  bool       `gorm:"not null;default:false" json:"mentor_approved"`
	Reason          string     `gorm:"size:64" json:"reason"`
	Penalty         bool       `gorm:"not null;default:false" json:"penalty"`
	Resolution      string     `gorm:"size:32" json:"resolution,omitempty"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
	AssignedAt      *time.Time `json:"assigned_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	AutoUnlockAt    time.Time  `gorm:"not null" json:"auto_unlock_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsOpen reports whether the intervention still gates the student.
func (i Intervention) IsOpen() bool {
	return i.CompletedAt == nil && i.Status != InterventionStatusCompleted
}

// IsExpired reports whether the auto-unlock deadline passed at the given instant.
func (i Intervention) IsExpired(now time.Time) bool {
	return now.After(i.AutoUnlockAt)
}
