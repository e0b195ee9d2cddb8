package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-intervention-api/internal/dto"
)

// MentorNotifier delivers an assignment request to a human mentor.
// Implementations may fail; the lifecycle manager never propagates those errors.
type MentorNotifier interface {
	Notify(ctx context.Context, alert dto.MentorAlert) error
}

// LogMentorNotifier records alerts in the application log only.
type LogMentorNotifier struct {
	logger zerolog.Logger
}

// NewLogMentorNotifier constructs a logging notifier.
func NewLogMentorNotifier(logger zerolog.Logger) *LogMentorNotifier {
	return &LogMentorNotifier{logger: logger.With().Str("component", "mentor_notifier").Logger()}
}

// Notify logs the alert and returns nil.
func (l *LogMentorNotifier) Notify(_ context.Context, alert dto.MentorAlert) error {
	l.logger.Info().
		Str("student_id", alert.StudentID).
		Str("intervention_id", alert.InterventionID).
		Str("performance_issue", alert.PerformanceIssue).
		Bool("penalty_imposed", alert.PenaltyImposed).
		Msg("mentor review requested")
	return nil
}

// MultiMentorNotifier fans an alert out to every configured notifier.
type MultiMentorNotifier []MentorNotifier

// Notify calls every notifier and joins their errors.
func (m MultiMentorNotifier) Notify(ctx context.Context, alert dto.MentorAlert) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
