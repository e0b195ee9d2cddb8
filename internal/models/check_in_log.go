package models

import (
	"time"

	"gorm.io/datatypes"
)

// CheckInLog is the audit trail of submitted check-ins.
type CheckInLog struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	StudentID    string         `gorm:"size:128;not null;index" json:"student_id"`
	QuizScore    int            `gorm:"not null" json:"quiz_score"`
	FocusMinutes int            `gorm:"not null" json:"focus_minutes"`
	Penalty      bool           `gorm:"not null;default:false" json:"penalty"`
	Verdict      string         `gorm:"size:32;not null" json:"verdict"`
	Context      datatypes.JSON `json:"context,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
