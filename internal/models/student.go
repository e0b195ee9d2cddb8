package models

import "time"

// Student status literals persisted in the students table.
const (
	StudentStatusNormal            = "Normal"
	StudentStatusOnTrack           = "OnTrack"
	StudentStatusNeedsIntervention = "NeedsIntervention"
	StudentStatusRemedial          = "Remedial"
)

// Student tracks the projected engagement status of a learner.
type Student struct {
	StudentID string    `gorm:"primaryKey;size:128" json:"student_id"`
	Status    string    `gorm:"size:32;not null" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
