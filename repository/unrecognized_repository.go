package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/camden-git/attendancebackend/models"
	"gorm.io/gorm"
)

// UnrecognizedUpdate is the full set of columns an adjudication writes
type UnrecognizedUpdate struct {
	Status              models.UnrecognizedStatus
	IdentifiedStudentID *uint
	SampleID            *uint
	ReviewedBy          *uint
}

// UnrecognizedRepository handles database operations for UnrecognizedItem entities
type UnrecognizedRepository struct {
	DB *gorm.DB
}

var _ UnrecognizedRepositoryInterface = (*UnrecognizedRepository)(nil)

func NewUnrecognizedRepository(db *gorm.DB) *UnrecognizedRepository {
	return &UnrecognizedRepository{DB: db}
}

func (r *UnrecognizedRepository) Create(ctx context.Context, item *models.UnrecognizedItem) error {
	now := time.Now().Unix()
	if item.Status == "" {
		item.Status = models.UnrecognizedStatusPending
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	if err := r.DB.WithContext(ctx).Create(item).Error; err != nil {
		return fmt.Errorf("failed to create unrecognized item: %w", err)
	}
	return nil
}

func (r *UnrecognizedRepository) GetByID(ctx context.Context, id uint) (*models.UnrecognizedItem, error) {
	var item models.UnrecognizedItem
	err := r.DB.WithContext(ctx).First(&item, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get unrecognized item by ID %d: %w", id, err)
	}
	return &item, nil
}

func (r *UnrecognizedRepository) List(ctx context.Context, statuses ...models.UnrecognizedStatus) ([]models.UnrecognizedItem, error) {
	var items []models.UnrecognizedItem
	query := r.DB.WithContext(ctx).Order("created_at DESC, id DESC")
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list unrecognized items: %w", err)
	}
	return items, nil
}

// ListIdentifiedAs returns the identified items credited to studentID
func (r *UnrecognizedRepository) ListIdentifiedAs(ctx context.Context, studentID uint) ([]models.UnrecognizedItem, error) {
	var items []models.UnrecognizedItem
	err := r.DB.WithContext(ctx).
		Where("identified_student_id = ? AND status = ?", studentID, models.UnrecognizedStatusIdentified).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unrecognized items for student %d: %w", studentID, err)
	}
	return items, nil
}

// Transition applies update only while the item is still in status from
func (r *UnrecognizedRepository) Transition(ctx context.Context, id uint, from models.UnrecognizedStatus, update UnrecognizedUpdate) error {
	result := r.DB.WithContext(ctx).Model(&models.UnrecognizedItem{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":                update.Status,
			"identified_student_id": update.IdentifiedStudentID,
			"sample_id":             update.SampleID,
			"reviewed_by":           update.ReviewedBy,
			"updated_at":            time.Now().Unix(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update unrecognized item ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}
