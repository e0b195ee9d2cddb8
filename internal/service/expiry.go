package service

import (
	"context"
	"time"

	"github.com/noah-isme/gema-intervention-api/internal/models"
	"github.com/noah-isme/gema-intervention-api/internal/observability"
	"github.com/noah-isme/gema-intervention-api/internal/repository"
)

// resolveExpiry reconciles the student's open intervention at read time. An intervention
// past its auto-unlock deadline is closed and the student reverts to Normal; otherwise the
// stored status is re-projected from the open intervention. It reports whether anything
// was written. There is no background sweep: an expired intervention stays open in storage
// until the next status read.
func (s *interventionService) resolveExpiry(ctx context.Context, store repository.InterventionStore, student *models.Student, now time.Time) (*models.Intervention, bool, error) {
	open, err := findOpenIntervention(ctx, store, student.StudentID)
	if err != nil {
		return nil, false, err
	}

	if open != nil && open.IsExpired(now) {
		if err := s.autoUnlock(ctx, store, student, open.ID, now); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	projected := projectStatus(student.Status, open)
	if projected == student.Status {
		return open, false, nil
	}

	s.logger.Warn().
		Str("student_id", student.StudentID).
		Str("stored_status", student.Status).
		Str("projected_status", projected).
		Msg("student status drifted from intervention state")
	student.Status = projected
	if err := store.SaveStudent(ctx, student); err != nil {
		return nil, false, err
	}
	return open, true, nil
}

func (s *interventionService) autoUnlock(ctx context.Context, store repository.InterventionStore, student *models.Student, interventionID string, now time.Time) error {
	if err := closeIntervention(ctx, store, interventionID, models.ResolutionAutoUnlocked, now); err != nil {
		return err
	}

	student.Status = models.StudentStatusNormal
	if err := store.SaveStudent(ctx, student); err != nil {
		return err
	}

	observability.InterventionTransitions().WithLabelValues("auto_unlocked").Inc()
	s.logger.Info().
		Str("student_id", student.StudentID).
		Str("intervention_id", interventionID).
		Msg("intervention auto-unlocked after deadline")
	return nil
}

// projectStatus derives the externally visible status from the open intervention.
// Without one, only the check-in outcomes Normal and OnTrack are valid.
func projectStatus(current string, open *models.Intervention) string {
	if open != nil {
		switch open.Status {
		case models.InterventionStatusAssigned:
			return models.StudentStatusRemedial
		default:
			return models.StudentStatusNeedsIntervention
		}
	}

	switch current {
	case models.StudentStatusOnTrack, models.StudentStatusNormal:
		return current
	default:
		return models.StudentStatusNormal
	}
}
