package service

import "github.com/noah-isme/gema-intervention-api/internal/models"

// Verdict is the outcome of classifying a check-in.
type Verdict string

const (
	// VerdictOnTrack means the learner keeps self-directed learning.
	VerdictOnTrack Verdict = models.StudentStatusOnTrack
	// VerdictNeedsIntervention means a mentor has to review the learner.
	VerdictNeedsIntervention Verdict = models.StudentStatusNeedsIntervention
)

const (
	onTrackMinQuizScore    = 7
	onTrackMinFocusMinutes = 60
)

// Mentor alert reasons.
const (
	ReasonFocusViolation       = "Focus violation"
	ReasonLowQuizScore         = "Low quiz score"
	ReasonInsufficientFocus    = "Insufficient focus time"
	penaltyReasonTabSwitching  = "Tab switching detected during focus session"
	submissionTypePenalty      = "Auto-submitted due to penalty"
	submissionTypeManual       = "Manual submission"
	checkInMessageOnTrack      = "Great job! Keep up the good work."
	checkInMessageUnderReview  = "Your progress is under review. A mentor will contact you soon."
	checkInMessageFocusPenalty = "Focus session interrupted! Your progress has been flagged for review."
)

// ClassifyCheckIn maps a check-in to a verdict. Both bounds are exclusive and
// out-of-range values are classified by the same inequality.
func ClassifyCheckIn(quizScore, focusMinutes int) Verdict {
	if quizScore > onTrackMinQuizScore && focusMinutes > onTrackMinFocusMinutes {
		return VerdictOnTrack
	}
	return VerdictNeedsIntervention
}

// InterventionReason describes why a check-in needs a mentor.
func InterventionReason(quizScore, focusMinutes int, penalty bool) string {
	switch {
	case penalty:
		return ReasonFocusViolation
	case quizScore <= onTrackMinQuizScore:
		return ReasonLowQuizScore
	default:
		return ReasonInsufficientFocus
	}
}

func submissionType(penalty bool) string {
	if penalty {
		return submissionTypePenalty
	}
	return submissionTypeManual
}
