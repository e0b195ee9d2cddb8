package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-intervention-api/internal/dto"
	"github.com/noah-isme/gema-intervention-api/internal/models"
	"github.com/noah-isme/gema-intervention-api/internal/observability"
	"github.com/noah-isme/gema-intervention-api/internal/repository"
)

var (
	// ErrStudentNotFound indicates the student has never checked in.
	ErrStudentNotFound = errors.New("student not found")
	// ErrInterventionNotFound indicates no intervention with that id belongs to the student.
	ErrInterventionNotFound = errors.New("intervention not found")
	// ErrInterventionClosed indicates the intervention is already completed or expired.
	ErrInterventionClosed = errors.New("intervention already closed")
)

const (
	defaultAutoUnlockAfter = 12 * time.Hour
	defaultNotifyTimeout   = 5 * time.Second
)

// InterventionService drives the intervention lifecycle of a student.
type InterventionService interface {
	RecordCheckIn(ctx context.Context, req dto.CheckInRequest) (dto.CheckInResponse, error)
	AssignTask(ctx context.Context, req dto.AssignTaskRequest) (dto.AssignTaskResponse, error)
	GetStatus(ctx context.Context, studentID string) (dto.StatusResponse, error)
	CompleteRemedial(ctx context.Context, req dto.CompleteRemedialRequest) (dto.CompleteRemedialResponse, error)
}

// InterventionOptions tunes the lifecycle manager.
type InterventionOptions struct {
	AutoUnlockAfter time.Duration
	NotifyTimeout   time.Duration
}

type interventionService struct {
	repo            repository.InterventionRepository
	locker          StudentLocker
	notifier        MentorNotifier
	broadcaster     *StatusBroadcaster
	validator       *validator.Validate
	logger          zerolog.Logger
	tracer          trace.Tracer
	autoUnlockAfter time.Duration
	notifyTimeout   time.Duration
	now             func() time.Time
}

// NewInterventionService constructs the lifecycle manager. A nil locker falls back to an
// in-process lock and a nil broadcaster disables live status pushes.
func NewInterventionService(repo repository.InterventionRepository, locker StudentLocker, notifier MentorNotifier, broadcaster *StatusBroadcaster, validate *validator.Validate, opts InterventionOptions, logger zerolog.Logger) InterventionService {
	if locker == nil {
		locker = NewLocalStudentLocker()
	}
	if opts.AutoUnlockAfter <= 0 {
		opts.AutoUnlockAfter = defaultAutoUnlockAfter
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}

	return &interventionService{
		repo:            repo,
		locker:          locker,
		notifier:        notifier,
		broadcaster:     broadcaster,
		validator:       validate,
		logger:          logger.With().Str("component", "intervention_service").Logger(),
		tracer:          otel.Tracer("github.com/noah-isme/gema-intervention-api/internal/service/intervention"),
		autoUnlockAfter: opts.AutoUnlockAfter,
		notifyTimeout:   opts.NotifyTimeout,
		now:             time.Now,
	}
}

func (s *interventionService) RecordCheckIn(ctx context.Context, req dto.CheckInRequest) (dto.CheckInResponse, error) {
	ctx, span := s.tracer.Start(ctx, "intervention.record_checkin")
	defer span.End()

	req.StudentID = strings.TrimSpace(req.StudentID)
	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.CheckInResponse{}, err
	}

	quizScore := *req.QuizScore
	focusMinutes := *req.FocusMinutes
	verdict := ClassifyCheckIn(quizScore, focusMinutes)
	span.SetAttributes(
		attribute.String("student.id", req.StudentID),
		attribute.String("checkin.verdict", string(verdict)),
		attribute.Bool("checkin.penalty", req.Penalty),
	)

	reason := ""
	if verdict == VerdictNeedsIntervention {
		reason = InterventionReason(quizScore, focusMinutes, req.Penalty)
	}

	unlock, err := s.locker.Lock(ctx, req.StudentID)
	if err != nil {
		span.RecordError(err)
		return dto.CheckInResponse{}, err
	}

	now := s.now().UTC()
	var (
		opened     *models.Intervention
		superseded string
		status     dto.StatusResponse
	)
	err = s.repo.Atomically(ctx, func(store repository.InterventionStore) error {
		student, err := s.ensureStudent(ctx, store, req.StudentID, now)
		if err != nil {
			return err
		}

		open, err := findOpenIntervention(ctx, store, req.StudentID)
		if err != nil {
			return err
		}
		if open != nil {
			if err := closeIntervention(ctx, store, open.ID, models.ResolutionSuperseded, now); err != nil {
				return err
			}
			superseded = open.ID
		}

		if verdict == VerdictOnTrack {
			student.Status = models.StudentStatusOnTrack
		} else {
			intervention := models.Intervention{
				ID:           uuid.NewString(),
				StudentID:    req.StudentID,
				Status:       models.InterventionStatusPending,
				Reason:       reason,
				Penalty:      req.Penalty,
				CreatedAt:    now,
				AutoUnlockAt: now.Add(s.autoUnlockAfter),
			}
			if err := store.InsertIntervention(ctx, &intervention); err != nil {
				return err
			}
			opened = &intervention
			student.Status = models.StudentStatusNeedsIntervention
		}

		if err := store.SaveStudent(ctx, &student); err != nil {
			return err
		}

		status = dto.NewStatusResponse(student, opened)
		return nil
	})
	unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check-in transition failed")
		return dto.CheckInResponse{}, fmt.Errorf("record check-in: %w", err)
	}

	observability.CheckIns().WithLabelValues(string(verdict), submissionLabel(req.Penalty)).Inc()
	if superseded != "" {
		observability.InterventionTransitions().WithLabelValues("superseded").Inc()
		s.logger.Info().Str("student_id", req.StudentID).Str("intervention_id", superseded).Msg("open intervention superseded by new check-in")
	}

	response := dto.CheckInResponse{
		Status:         status.Status,
		StudentID:      req.StudentID,
		QuizScore:      quizScore,
		FocusMinutes:   focusMinutes,
		PenaltyImposed: req.Penalty,
	}

	s.appendCheckInLog(ctx, req, verdict, reason, opened, superseded)

	if opened == nil {
		response.Message = checkInMessageOnTrack
	} else {
		response.InterventionID = opened.ID
		response.Message = checkInMessageUnderReview
		if req.Penalty {
			response.Message = checkInMessageFocusPenalty
		}

		observability.InterventionTransitions().WithLabelValues("opened").Inc()
		span.SetAttributes(attribute.String("intervention.id", opened.ID))
		s.logger.Info().
			Str("student_id", req.StudentID).
			Str("intervention_id", opened.ID).
			Str("reason", reason).
			Msg("intervention opened")

		s.notifyMentor(ctx, newMentorAlert(req.StudentID, quizScore, focusMinutes, req.Penalty, opened.ID, now))
	}

	s.broadcaster.Broadcast(status)
	span.SetStatus(codes.Ok, string(verdict))

	return response, nil
}

func (s *interventionService) AssignTask(ctx context.Context, req dto.AssignTaskRequest) (dto.AssignTaskResponse, error) {
	ctx, span := s.tracer.Start(ctx, "intervention.assign_task")
	defer span.End()

	req.StudentID = strings.TrimSpace(req.StudentID)
	req.InterventionID = strings.TrimSpace(req.InterventionID)
	if strings.TrimSpace(req.Task) == "" {
		// whitespace-only tasks fail the required rule
		req.Task = ""
	}
	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.AssignTaskResponse{}, err
	}
	span.SetAttributes(
		attribute.String("student.id", req.StudentID),
		attribute.String("intervention.id", req.InterventionID),
	)

	unlock, err := s.locker.Lock(ctx, req.StudentID)
	if err != nil {
		span.RecordError(err)
		return dto.AssignTaskResponse{}, err
	}

	now := s.now().UTC()
	expired := false
	var status dto.StatusResponse
	err = s.repo.Atomically(ctx, func(store repository.InterventionStore) error {
		intervention, err := store.GetIntervention(ctx, req.InterventionID, req.StudentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInterventionNotFound
		}
		if err != nil {
			return err
		}
		if !intervention.IsOpen() {
			return ErrInterventionClosed
		}

		student, err := store.GetStudent(ctx, req.StudentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrStudentNotFound
		}
		if err != nil {
			return err
		}

		if intervention.IsExpired(now) {
			if err := s.autoUnlock(ctx, store, &student, intervention.ID, now); err != nil {
				return err
			}
			expired = true
			status = dto.NewStatusResponse(student, nil)
			return nil
		}

		if err := store.UpdateIntervention(ctx, intervention.ID, map[string]interface{}{
			"task_description": req.Task,
			"mentor_approved":  true,
			"status":           models.InterventionStatusAssigned,
			"assigned_at":      now,
		}); err != nil {
			return err
		}
		intervention.TaskDescription = req.Task
		intervention.MentorApproved = true
		intervention.Status = models.InterventionStatusAssigned
		intervention.AssignedAt = &now

		student.Status = models.StudentStatusRemedial
		if err := store.SaveStudent(ctx, &student); err != nil {
			return err
		}

		status = dto.NewStatusResponse(student, &intervention)
		return nil
	})
	unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assign failed")
		return dto.AssignTaskResponse{}, err
	}

	s.broadcaster.Broadcast(status)

	if expired {
		span.SetStatus(codes.Error, "intervention expired")
		s.logger.Info().Str("student_id", req.StudentID).Str("intervention_id", req.InterventionID).Msg("assignment rejected, intervention auto-unlocked")
		return dto.AssignTaskResponse{}, ErrInterventionClosed
	}

	observability.InterventionTransitions().WithLabelValues("assigned").Inc()
	s.logger.Info().Str("student_id", req.StudentID).Str("intervention_id", req.InterventionID).Msg("remedial task assigned")
	span.SetStatus(codes.Ok, "assigned")

	return dto.AssignTaskResponse{
		StudentID:      req.StudentID,
		InterventionID: req.InterventionID,
		Task:           req.Task,
		Status:         status.Status,
		AssignedAt:     now,
	}, nil
}

func (s *interventionService) GetStatus(ctx context.Context, studentID string) (dto.StatusResponse, error) {
	ctx, span := s.tracer.Start(ctx, "intervention.get_status")
	defer span.End()

	studentID = strings.TrimSpace(studentID)
	if err := s.validator.Var(studentID, "required,max=128"); err != nil {
		span.RecordError(err)
		return dto.StatusResponse{}, err
	}
	span.SetAttributes(attribute.String("student.id", studentID))

	unlock, err := s.locker.Lock(ctx, studentID)
	if err != nil {
		span.RecordError(err)
		return dto.StatusResponse{}, err
	}

	now := s.now().UTC()
	changed := false
	var status dto.StatusResponse
	err = s.repo.Atomically(ctx, func(store repository.InterventionStore) error {
		student, err := store.GetStudent(ctx, studentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrStudentNotFound
		}
		if err != nil {
			return err
		}

		open, reconciled, err := s.resolveExpiry(ctx, store, &student, now)
		if err != nil {
			return err
		}
		changed = reconciled

		status = dto.NewStatusResponse(student, open)
		return nil
	})
	unlock()
	if err != nil {
		if !errors.Is(err, ErrStudentNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "status read failed")
		}
		return dto.StatusResponse{}, err
	}

	if changed {
		s.broadcaster.Broadcast(status)
	}

	return status, nil
}

func (s *interventionService) CompleteRemedial(ctx context.Context, req dto.CompleteRemedialRequest) (dto.CompleteRemedialResponse, error) {
	ctx, span := s.tracer.Start(ctx, "intervention.complete_remedial")
	defer span.End()

	req.StudentID = strings.TrimSpace(req.StudentID)
	if err := s.validator.Struct(req); err != nil {
		span.RecordError(err)
		return dto.CompleteRemedialResponse{}, err
	}
	span.SetAttributes(attribute.String("student.id", req.StudentID))

	unlock, err := s.locker.Lock(ctx, req.StudentID)
	if err != nil {
		span.RecordError(err)
		return dto.CompleteRemedialResponse{}, err
	}

	now := s.now().UTC()
	closed := ""
	var status dto.StatusResponse
	err = s.repo.Atomically(ctx, func(store repository.InterventionStore) error {
		student, err := store.GetStudent(ctx, req.StudentID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrStudentNotFound
		}
		if err != nil {
			return err
		}

		open, err := findOpenIntervention(ctx, store, req.StudentID)
		if err != nil {
			return err
		}
		if open != nil {
			if err := closeIntervention(ctx, store, open.ID, models.ResolutionCompleted, now); err != nil {
				return err
			}
			closed = open.ID
		}

		student.Status = models.StudentStatusNormal
		if err := store.SaveStudent(ctx, &student); err != nil {
			return err
		}

		status = dto.NewStatusResponse(student, nil)
		return nil
	})
	unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return dto.CompleteRemedialResponse{}, err
	}

	if closed != "" {
		observability.InterventionTransitions().WithLabelValues("completed").Inc()
		s.logger.Info().Str("student_id", req.StudentID).Str("intervention_id", closed).Msg("remedial task completed")
	}
	s.broadcaster.Broadcast(status)

	return dto.CompleteRemedialResponse{
		StudentID:      req.StudentID,
		Status:         status.Status,
		InterventionID: closed,
	}, nil
}

func (s *interventionService) ensureStudent(ctx context.Context, store repository.InterventionStore, studentID string, now time.Time) (models.Student, error) {
	student, err := store.GetStudent(ctx, studentID)
	if err == nil {
		return student, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Student{}, err
	}

	s.logger.Info().Str("student_id", studentID).Msg("creating student on first check-in")
	return models.Student{
		StudentID: studentID,
		Status:    models.StudentStatusNormal,
		CreatedAt: now,
	}, nil
}

func (s *interventionService) appendCheckInLog(ctx context.Context, req dto.CheckInRequest, verdict Verdict, reason string, opened *models.Intervention, superseded string) {
	details := map[string]interface{}{
		"submission_type": submissionType(req.Penalty),
	}
	if reason != "" {
		details["reason"] = reason
	}
	if opened != nil {
		details["intervention_id"] = opened.ID
	}
	if superseded != "" {
		details["superseded_intervention_id"] = superseded
	}

	payload, err := json.Marshal(details)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode check-in log context")
		payload = nil
	}

	entry := models.CheckInLog{
		StudentID:    req.StudentID,
		QuizScore:    *req.QuizScore,
		FocusMinutes: *req.FocusMinutes,
		Penalty:      req.Penalty,
		Verdict:      string(verdict),
		Context:      payload,
	}
	if err := s.repo.AppendCheckInLog(ctx, &entry); err != nil {
		s.logger.Warn().Err(err).Str("student_id", req.StudentID).Msg("failed to append check-in log")
	}
}

func (s *interventionService) notifyMentor(ctx context.Context, alert dto.MentorAlert) {
	if s.notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	defer cancel()

	defer func() {
		if recovered := recover(); recovered != nil {
			observability.MentorNotifications().WithLabelValues("failed").Inc()
			s.logger.Error().Interface("panic", recovered).Str("intervention_id", alert.InterventionID).Msg("mentor notifier panicked")
		}
	}()

	if err := s.notifier.Notify(notifyCtx, alert); err != nil {
		observability.MentorNotifications().WithLabelValues("failed").Inc()
		s.logger.Warn().Err(err).Str("intervention_id", alert.InterventionID).Msg("mentor notification failed")
		return
	}

	observability.MentorNotifications().WithLabelValues("delivered").Inc()
}

func newMentorAlert(studentID string, quizScore, focusMinutes int, penalty bool, interventionID string, now time.Time) dto.MentorAlert {
	alert := dto.MentorAlert{
		StudentID:            studentID,
		QuizScore:            quizScore,
		FocusMinutes:         focusMinutes,
		InterventionID:       interventionID,
		RequiresIntervention: true,
		PenaltyImposed:       penalty,
		SubmissionType:       submissionType(penalty),
		PerformanceIssue:     InterventionReason(quizScore, focusMinutes, penalty),
		Timestamp:            now,
	}
	if penalty {
		reason := penaltyReasonTabSwitching
		alert.PenaltyReason = &reason
	}
	return alert
}

func findOpenIntervention(ctx context.Context, store repository.InterventionStore, studentID string) (*models.Intervention, error) {
	intervention, err := store.FindOpenIntervention(ctx, studentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intervention, nil
}

func closeIntervention(ctx context.Context, store repository.InterventionStore, id, resolution string, now time.Time) error {
	return store.UpdateIntervention(ctx, id, map[string]interface{}{
		"status":       models.InterventionStatusCompleted,
		"completed_at": now,
		"resolution":   resolution,
	})
}

func submissionLabel(penalty bool) string {
	if penalty {
		return "penalty"
	}
	return "manual"
}
