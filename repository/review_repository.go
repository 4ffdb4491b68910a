package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/camden-git/attendancebackend/models"
	"gorm.io/gorm"
)

// ReviewUpdate is the full set of columns an adjudication writes
type ReviewUpdate struct {
	Status             models.ReviewStatus
	ConfirmedStudentID *uint
	SampleID           *uint
	ReviewedBy         *uint
}

// ReviewRepository handles database operations for ReviewItem entities
type ReviewRepository struct {
	DB *gorm.DB
}

var _ ReviewRepositoryInterface = (*ReviewRepository)(nil)

// NewReviewRepository creates a new instance of ReviewRepository
func NewReviewRepository(db *gorm.DB) *ReviewRepository {
	return &ReviewRepository{DB: db}
}

// Create inserts a new review item, pending unless a status is set
func (r *ReviewRepository) Create(ctx context.Context, item *models.ReviewItem) error {
	now := time.Now().Unix()
	if item.Status == "" {
		item.Status = models.ReviewStatusPending
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	err := r.DB.WithContext(ctx).Create(item).Error
	if err != nil {
		return fmt.Errorf("failed to create review item: %w", err)
	}
	return nil
}

// GetByID retrieves a review item by its ID
func (r *ReviewRepository) GetByID(ctx context.Context, id uint) (*models.ReviewItem, error) {
	var item models.ReviewItem
	err := r.DB.WithContext(ctx).First(&item, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get review item by ID %d: %w", id, err)
	}
	return &item, nil
}

// List retrieves review items, newest first, optionally restricted to statuses
func (r *ReviewRepository) List(ctx context.Context, statuses ...models.ReviewStatus) ([]models.ReviewItem, error) {
	var items []models.ReviewItem
	query := r.DB.WithContext(ctx).Order("created_at DESC, id DESC")
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list review items: %w", err)
	}
	return items, nil
}

// ListAssignedTo returns the confirmed or reassigned items currently credited to studentID
func (r *ReviewRepository) ListAssignedTo(ctx context.Context, studentID uint) ([]models.ReviewItem, error) {
	var items []models.ReviewItem
	err := r.DB.WithContext(ctx).
		Where("confirmed_student_id = ? AND status IN ?", studentID,
			[]models.ReviewStatus{models.ReviewStatusConfirmed, models.ReviewStatusReassigned}).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list review items for student %d: %w", studentID, err)
	}
	return items, nil
}

// Transition applies update only while the item is still in status from.
// ErrStaleWrite means the item moved on since it was read.
func (r *ReviewRepository) Transition(ctx context.Context, id uint, from models.ReviewStatus, update ReviewUpdate) error {
	result := r.DB.WithContext(ctx).Model(&models.ReviewItem{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":               update.Status,
			"confirmed_student_id": update.ConfirmedStudentID,
			"sample_id":            update.SampleID,
			"reviewed_by":          update.ReviewedBy,
			"updated_at":           time.Now().Unix(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update review item ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleWrite
	}
	return nil
}
