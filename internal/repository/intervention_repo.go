package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-intervention-api/internal/models"
)

// InterventionStore exposes persistence for students, their interventions and check-in audit logs.
type InterventionStore interface {
	GetStudent(ctx context.Context, studentID string) (models.Student, error)
	SaveStudent(ctx context.Context, student *models.Student) error
	InsertIntervention(ctx context.Context, intervention *models.Intervention) error
	UpdateIntervention(ctx context.Context, id string, updates map[string]interface{}) error
	GetIntervention(ctx context.Context, id, studentID string) (models.Intervention, error)
	FindOpenIntervention(ctx context.Context, studentID string) (models.Intervention, error)
	AppendCheckInLog(ctx context.Context, entry *models.CheckInLog) error
}

// InterventionRepository is an InterventionStore that can run a unit of work atomically.
type InterventionRepository interface {
	InterventionStore
	Atomically(ctx context.Context, fn func(store InterventionStore) error) error
}

type interventionRepository struct {
	db   *gorm.DB
	lock bool
}

// NewInterventionRepository constructs a gorm backed intervention repository.
func NewInterventionRepository(db *gorm.DB) InterventionRepository {
	return &interventionRepository{db: db}
}

// Atomically runs fn inside a single database transaction. Reads inside fn lock the rows they touch.
func (r *interventionRepository) Atomically(ctx context.Context, fn func(store InterventionStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&interventionRepository{db: tx, lock: true})
	})
}

func (r *interventionRepository) query(ctx context.Context) *gorm.DB {
	query := r.db.WithContext(ctx)
	if r.lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

func (r *interventionRepository) GetStudent(ctx context.Context, studentID string) (models.Student, error) {
	var student models.Student
	if err := r.query(ctx).Where("student_id = ?", studentID).First(&student).Error; err != nil {
		return models.Student{}, err
	}

	return student, nil
}

func (r *interventionRepository) SaveStudent(ctx context.Context, student *models.Student) error {
	return r.db.WithContext(ctx).Save(student).Error
}

func (r *interventionRepository) InsertIntervention(ctx context.Context, intervention *models.Intervention) error {
	return r.db.WithContext(ctx).Create(intervention).Error
}

func (r *interventionRepository) UpdateIntervention(ctx context.Context, id string, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Intervention{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	return nil
}

func (r *interventionRepository) GetIntervention(ctx context.Context, id, studentID string) (models.Intervention, error) {
	var intervention models.Intervention
	if err := r.query(ctx).
		Where("id = ?", id).
		Where("student_id = ?", studentID).
		First(&intervention).Error; err != nil {
		return models.Intervention{}, err
	}

	return intervention, nil
}

func (r *interventionRepository) FindOpenIntervention(ctx context.Context, studentID string) (models.Intervention, error) {
	var intervention models.Intervention
	if err := r.query(ctx).
		Where("student_id = ?", studentID).
		Where("completed_at IS NULL").
		Order("created_at DESC").
		First(&intervention).Error; err != nil {
		return models.Intervention{}, err
	}

	return intervention, nil
}

func (r *interventionRepository) AppendCheckInLog(ctx context.Context, entry *models.CheckInLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
