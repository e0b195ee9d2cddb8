package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-intervention-api/internal/dto"
	"github.com/noah-isme/gema-intervention-api/internal/models"
	"github.com/noah-isme/gema-intervention-api/internal/repository"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []dto.MentorAlert
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, alert dto.MentorAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return r.err
}

func (r *recordingNotifier) sent() []dto.MentorAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dto.MentorAlert(nil), r.alerts...)
}

type panickingNotifier struct{}

func (panickingNotifier) Notify(context.Context, dto.MentorAlert) error {
	panic("notifier exploded")
}

type failingRepo struct {
	repository.InterventionRepository
	err error
}

func (f failingRepo) Atomically(context.Context, func(repository.InterventionStore) error) error {
	return f.err
}

type fixture struct {
	db       *gorm.DB
	svc      *interventionService
	notifier *recordingNotifier
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupServiceTestDB(t)
	notifier := &recordingNotifier{}
	f := &fixture{
		db:       db,
		notifier: notifier,
		clock:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}

	svc := NewInterventionService(
		repository.NewInterventionRepository(db),
		NewLocalStudentLocker(),
		notifier,
		NewStatusBroadcaster(),
		validator.New(validator.WithRequiredStructEnabled()),
		InterventionOptions{},
		testLogger(),
	).(*interventionService)
	svc.now = func() time.Time { return f.clock }
	f.svc = svc
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func checkIn(studentID string, score, focus int, penalty bool) dto.CheckInRequest {
	return dto.CheckInRequest{StudentID: studentID, QuizScore: &score, FocusMinutes: &focus, Penalty: penalty}
}

func TestInterventionLifecycleEndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkInResp, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 4, 30, false))
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNeedsIntervention, checkInResp.Status)
	require.NotEmpty(t, checkInResp.InterventionID)

	var stored models.Intervention
	require.NoError(t, f.db.First(&stored, "id = ?", checkInResp.InterventionID).Error)
	require.Equal(t, models.InterventionStatusPending, stored.Status)
	require.True(t, stored.AutoUnlockAt.Equal(f.clock.Add(12*time.Hour)))

	_, err = f.svc.AssignTask(ctx, dto.AssignTaskRequest{StudentID: "s1", InterventionID: checkInResp.InterventionID, Task: "Review chapter 3"})
	require.NoError(t, err)

	status, err := f.svc.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusRemedial, status.Status)
	require.Equal(t, "Review chapter 3", status.Task)
	require.Equal(t, checkInResp.InterventionID, status.InterventionID)

	completed, err := f.svc.CompleteRemedial(ctx, dto.CompleteRemedialRequest{StudentID: "s1"})
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNormal, completed.Status)
	require.Equal(t, checkInResp.InterventionID, completed.InterventionID)

	status, err = f.svc.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNormal, status.Status)
	require.Empty(t, status.InterventionID)

	onTrack, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 9, 70, false))
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusOnTrack, onTrack.Status)
	require.Empty(t, onTrack.InterventionID)
	require.Equal(t, checkInMessageOnTrack, onTrack.Message)

	require.NoError(t, f.db.First(&stored, "id = ?", checkInResp.InterventionID).Error)
	require.Equal(t, models.InterventionStatusCompleted, stored.Status)
	require.Equal(t, models.ResolutionCompleted, stored.Resolution)
	require.True(t, stored.MentorApproved)
	require.NotNil(t, stored.AssignedAt)
	require.NotNil(t, stored.CompletedAt)
}

func TestRecordCheckInBootstrapsStudent(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordCheckIn(context.Background(), checkIn("new-student", 10, 90, false))
	require.NoError(t, err)

	var student models.Student
	require.NoError(t, f.db.First(&student, "student_id = ?", "new-student").Error)
	require.Equal(t, models.StudentStatusOnTrack, student.Status)
	require.Empty(t, f.notifier.sent())
}

func TestRecordCheckInFailingIssuesFreshInterventionEachTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seen := map[string]struct{}{}
	for i := 0; i < 4; i++ {
		resp, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 3, 20, false))
		require.NoError(t, err)
		require.Equal(t, models.StudentStatusNeedsIntervention, resp.Status)
		require.NotContains(t, seen, resp.InterventionID)
		seen[resp.InterventionID] = struct{}{}
		f.advance(time.Minute)
	}

	var open int64
	require.NoError(t, f.db.Model(&models.Intervention{}).Where("student_id = ? AND completed_at IS NULL", "s1").Count(&open).Error)
	require.Equal(t, int64(1), open)

	var superseded int64
	require.NoError(t, f.db.Model(&models.Intervention{}).Where("student_id = ? AND resolution = ?", "s1", models.ResolutionSuperseded).Count(&superseded).Error)
	require.Equal(t, int64(3), superseded)
}

func TestRecordCheckInOnTrackClosesOpenIntervention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	failing, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 5, 90, false))
	require.NoError(t, err)

	resp, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 9, 90, false))
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusOnTrack, resp.Status)

	status, err := f.svc.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusOnTrack, status.Status)
	require.Empty(t, status.InterventionID)

	var stored models.Intervention
	require.NoError(t, f.db.First(&stored, "id = ?", failing.InterventionID).Error)
	require.Equal(t, models.ResolutionSuperseded, stored.Resolution)
}

func TestAssignTaskPreservesExactMultilineText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 2, 10, false))
	require.NoError(t, err)

	task := "Review chapter 3\n  - redo exercises 4 & 5\n<b>Summarise</b> in 200 words"
	assigned, err := f.svc.AssignTask(ctx, dto.AssignTaskRequest{StudentID: "s1", InterventionID: resp.InterventionID, Task: task})
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusRemedial, assigned.Status)

	status, err := f.svc.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusRemedial, status.Status)
	require.Equal(t, task, status.Task)
}

func TestAssignTaskLastWriteWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 2, 10, false))
	require.NoError(t, err)

	_, err = f.svc.AssignTask(ctx, dto.AssignTaskRequest{StudentID: "s1", InterventionID: resp.InterventionID, Task: "first"})
	require.NoError(t, err)
	_, err = f.svc.AssignTask(ctx, dto.AssignTaskRequest{StudentID: "s1", InterventionID: resp.InterventionID, Task: "second"})
	require.NoError(t, err)

	status, err := f.svc.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "second", status.Task)
}

func TestAssignTaskErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 2, 10, false))
	require.NoError(t, err)
	_, err = f.svc.RecordCheckIn(ctx, checkIn("s2", 2, 10, false))
	require.NoError(t, err)

	_, err = f.svc.AssignTask(ctx, dto.AssignTaskRequest{StudentID: "s1", InterventionID: uuid.NewString(), Task: "x"})
	require.ErrorIs(t, err, ErrInterventionNotFound)

	_, err = f.svc.AssignTask(ctx, dto.AssignTaskRequest{StudentID: "s2", InterventionID: resp.InterventionID, Task: "x"})
	require.ErrorIs(t, err, ErrInterventionNotFound)

	_, err = f.svc.AssignTask(ctx, dto.AssignTaskRequest{StudentID: "s1", InterventionID: resp.InterventionID, Task: "   "})
	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)

	_, err = f.svc.CompleteRemedial(ctx, dto.CompleteRemedialRequest{StudentID: "s1"})
	require.NoError(t, err)

	_, err = f.svc.AssignTask(ctx, dto.AssignTaskRequest{StudentID: "s1", InterventionID: resp.InterventionID, Task: "x"})
	require.ErrorIs(t, err, ErrInterventionClosed)
}

func TestAssignTaskAfterDeadlineAutoUnlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 2, 10, false))
	require.NoError(t, err)

	f.advance(13 * time.Hour)
	_, err = f.svc.AssignTask(ctx, dto.AssignTaskRequest{StudentID: "s1", InterventionID: resp.InterventionID, Task: "late"})
	require.ErrorIs(t, err, ErrInterventionClosed)

	var stored models.Intervention
	require.NoError(t, f.db.First(&stored, "id = ?", resp.InterventionID).Error)
	require.Equal(t, models.ResolutionAutoUnlocked, stored.Resolution)

	status, err := f.svc.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNormal, status.Status)
}

func TestCompleteRemedialIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 2, 10, false))
	require.NoError(t, err)
	_, err = f.svc.AssignTask(ctx, dto.AssignTaskRequest{StudentID: "s1", InterventionID: resp.InterventionID, Task: "Do it"})
	require.NoError(t, err)

	first, err := f.svc.CompleteRemedial(ctx, dto.CompleteRemedialRequest{StudentID: "s1"})
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNormal, first.Status)

	second, err := f.svc.CompleteRemedial(ctx, dto.CompleteRemedialRequest{StudentID: "s1"})
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNormal, second.Status)
	require.Empty(t, second.InterventionID)
}

func TestCompleteRemedialForcesNormalWithoutOpenIntervention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 9, 90, false))
	require.NoError(t, err)

	resp, err := f.svc.CompleteRemedial(ctx, dto.CompleteRemedialRequest{StudentID: "s1"})
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNormal, resp.Status)
}

func TestGetStatusAutoUnlocksExpiredIntervention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 2, 10, false))
	require.NoError(t, err)

	f.advance(12 * time.Hour)
	status, err := f.svc.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNeedsIntervention, status.Status, "deadline itself is not past")

	f.advance(time.Second)
	status, err = f.svc.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNormal, status.Status)
	require.Empty(t, status.InterventionID)

	again, err := f.svc.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, status, again)

	var stored models.Intervention
	require.NoError(t, f.db.First(&stored, "id = ?", resp.InterventionID).Error)
	require.Equal(t, models.InterventionStatusCompleted, stored.Status)
	require.Equal(t, models.ResolutionAutoUnlocked, stored.Resolution)

	completed, err := f.svc.CompleteRemedial(ctx, dto.CompleteRemedialRequest{StudentID: "s1"})
	require.NoError(t, err)
	require.Empty(t, completed.InterventionID)
}

func TestGetStatusAutoUnlocksAssignedIntervention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.RecordCheckIn(ctx, checkIn("s1", 2, 10, false))
	require.NoError(t, err)
	_, err = f.svc.AssignTask(ctx, dto.AssignTaskRequest{StudentID: "s1", InterventionID: resp.InterventionID, Task: "Do it"})
	require.NoError(t, err)

	f.advance(13 * time.Hour)
	status, err := f.svc.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNormal, status.Status)
	require.Empty(t, status.Task)
}

func TestGetStatusReconcilesDriftedStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.db.Create(&models.Student{StudentID: "s1", Status: models.StudentStatusRemedial}).Error)

	status, err := f.svc.GetStatus(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNormal, status.Status)

	var student models.Student
	require.NoError(t, f.db.First(&student, "student_id = ?", "s1").Error)
	require.Equal(t, models.StudentStatusNormal, student.Status)
}

func TestUnknownStudentIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetStatus(ctx, "ghost")
	require.ErrorIs(t, err, ErrStudentNotFound)

	_, err = f.svc.CompleteRemedial(ctx, dto.CompleteRemedialRequest{StudentID: "ghost"})
	require.ErrorIs(t, err, ErrStudentNotFound)
}

func TestRecordCheckInValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordCheckIn(context.Background(), dto.CheckInRequest{StudentID: "s1"})
	var validationErrs validator.ValidationErrors
	require.ErrorAs(t, err, &validationErrs)

	fields := make([]string, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		fields = append(fields, fieldErr.Field())
	}
	require.ElementsMatch(t, []string{"QuizScore", "FocusMinutes"}, fields)

	_, err = f.svc.GetStatus(context.Background(), "  ")
	require.ErrorAs(t, err, &validationErrs)
}

func TestRecordCheckInAcceptsOutOfRangeValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.svc.RecordCheckIn(ctx, checkIn("neg", 9, -5, false))
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNeedsIntervention, resp.Status)
	require.NotEmpty(t, resp.InterventionID)

	resp, err = f.svc.RecordCheckIn(ctx, checkIn("neg", -3, 90, false))
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusNeedsIntervention, resp.Status)

	resp, err = f.svc.RecordCheckIn(ctx, checkIn("neg", 100, 600, false))
	require.NoError(t, err)
	require.Equal(t, models.StudentStatusOnTrack, resp.Status)
}

func TestPenaltyCheckInMatchesManualTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	manual, err := f.svc.RecordCheckIn(ctx, checkIn("manual", 0, 0, false))
	require.NoError(t, err)
	penalty, err := f.svc.RecordCheckIn(ctx, checkIn("penalty", 0, 0, true))
	require.NoError(t, err)

	require.Equal(t, manual.Status, penalty.Status)
	require.True(t, penalty.PenaltyImposed)
	require.Equal(t, checkInMessageFocusPenalty, penalty.Message)

	manualStatus, err := f.svc.GetStatus(ctx, "manual")
	require.NoError(t, err)
	penaltyStatus, err := f.svc.GetStatus(ctx, "penalty")
	require.NoError(t, err)
	require.Equal(t, manualStatus.Status, penaltyStatus.Status)

	alerts := f.notifier.sent()
	require.Len(t, alerts, 2)
	require.Equal(t, ReasonLowQuizScore, alerts[0].PerformanceIssue)
	require.Equal(t, submissionTypeManual, alerts[0].SubmissionType)
	require.Nil(t, alerts[0].PenaltyReason)
	require.Equal(t, ReasonFocusViolation, alerts[1].PerformanceIssue)
	require.Equal(t, submissionTypePenalty, alerts[1].SubmissionType)
	require.NotNil(t, alerts[1].PenaltyReason)
	require.Equal(t, penalty.InterventionID, alerts[1].InterventionID)
	require.True(t, alerts[1].RequiresIntervention)
}

func TestNotifierFailureDoesNotAffectCheckIn(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("webhook down")

	resp, err := f.svc.RecordCheckIn(context.Background(), checkIn("s1", 1, 1, false))
	require.NoError(t, err)
	require.NotEmpty(t, resp.InterventionID)
	require.Len(t, f.notifier.sent(), 1)

	f.svc.notifier = panickingNotifier{}
	resp, err = f.svc.RecordCheckIn(context.Background(), checkIn("s2", 1, 1, false))
	require.NoError(t, err)
	require.NotEmpty(t, resp.InterventionID)
}

func TestInterventionCommittedBeforeNotify(t *testing.T) {
	f := newFixture(t)
	var committed bool
	f.svc.notifier = notifierFunc(func(_ context.Context, alert dto.MentorAlert) error {
		var stored models.Intervention
		committed = f.db.First(&stored, "id = ?", alert.InterventionID).Error == nil
		return nil
	})

	_, err := f.svc.RecordCheckIn(context.Background(), checkIn("s1", 1, 1, false))
	require.NoError(t, err)
	require.True(t, committed)
}

func TestStoreFailurePropagatesWithoutNotify(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("store unavailable")
	f.svc.repo = failingRepo{InterventionRepository: f.svc.repo, err: boom}

	_, err := f.svc.RecordCheckIn(context.Background(), checkIn("s1", 1, 1, false))
	require.ErrorIs(t, err, boom)
	require.Empty(t, f.notifier.sent())
}

func TestRecordCheckInAppendsAuditLog(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.RecordCheckIn(context.Background(), checkIn("s1", 0, 0, true))
	require.NoError(t, err)

	var entry models.CheckInLog
	require.NoError(t, f.db.First(&entry, "student_id = ?", "s1").Error)
	require.Equal(t, string(VerdictNeedsIntervention), entry.Verdict)
	require.True(t, entry.Penalty)

	var details map[string]string
	require.NoError(t, json.Unmarshal(entry.Context, &details))
	require.Equal(t, ReasonFocusViolation, details["reason"])
	require.Equal(t, resp.InterventionID, details["intervention_id"])
}

func TestConcurrentFailingCheckInsKeepSingleOpenIntervention(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordCheckIn(context.Background(), checkIn("s1", 1, 1, false))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var open int64
	require.NoError(t, f.db.Model(&models.Intervention{}).Where("student_id = ? AND completed_at IS NULL", "s1").Count(&open).Error)
	require.Equal(t, int64(1), open)
}

func TestStatusChangesAreBroadcast(t *testing.T) {
	f := newFixture(t)
	updates, cancel := f.svc.broadcaster.Subscribe("s1")
	defer cancel()

	resp, err := f.svc.RecordCheckIn(context.Background(), checkIn("s1", 1, 1, false))
	require.NoError(t, err)

	select {
	case update := <-updates:
		require.Equal(t, models.StudentStatusNeedsIntervention, update.Status)
		require.Equal(t, resp.InterventionID, update.InterventionID)
	case <-time.After(time.Second):
		t.Fatal("expected a status update")
	}
}

type notifierFunc func(ctx context.Context, alert dto.MentorAlert) error

func (fn notifierFunc) Notify(ctx context.Context, alert dto.MentorAlert) error {
	return fn(ctx, alert)
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Student{}, &models.Intervention{}, &models.CheckInLog{}))
	return db
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
