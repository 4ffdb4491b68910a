package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/camden-git/attendancebackend/models"
	"gorm.io/gorm"
)

// GalleryRepository handles database operations for GalleryEntry and the
// FaceSample rows each entry is derived from
type GalleryRepository struct {
	DB *gorm.DB
}

var _ GalleryRepositoryInterface = (*GalleryRepository)(nil)

// NewGalleryRepository creates a new instance of GalleryRepository
func NewGalleryRepository(db *gorm.DB) *GalleryRepository {
	return &GalleryRepository{DB: db}
}

// GetEntry retrieves the gallery entry of a student
func (r *GalleryRepository) GetEntry(ctx context.Context, studentID uint) (*models.GalleryEntry, error) {
	var entry models.GalleryEntry
	err := r.DB.WithContext(ctx).Where("student_id = ?", studentID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get gallery entry for student %d: %w", studentID, err)
	}
	return &entry, nil
}

// ListEntries retrieves every gallery entry ordered by student ID
func (r *GalleryRepository) ListEntries(ctx context.Context) ([]models.GalleryEntry, error) {
	var entries []models.GalleryEntry
	err := r.DB.WithContext(ctx).Order("student_id ASC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list gallery entries: %w", err)
	}
	return entries, nil
}

// CreateEntry inserts a new entry at version 1. A concurrent insert for the
// same student surfaces as ErrStaleWrite.
func (r *GalleryRepository) CreateEntry(ctx context.Context, entry *models.GalleryEntry) error {
	now := time.Now().Unix()
	entry.Version = 1
	entry.CreatedAt = now
	entry.UpdatedAt = now

	err := r.DB.WithContext(ctx).Create(entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrStaleWrite
		}
		return fmt.Errorf("failed to create gallery entry for student %d: %w", entry.StudentID, err)
	}
	return nil
}

// UpdateEntry writes the average and count only if the stored version still
// equals expectedVersion, then bumps the version
func (r *GalleryRepository) UpdateEntry(ctx context.Context, entry *models.GalleryEntry, expectedVersion int64) error {
	now := time.Now().Unix()
	result := r.DB.WithContext(ctx).Model(&models.GalleryEntry{}).
		Where("student_id = ? AND version = ?", entry.StudentID, expectedVersion).
		Updates(map[string]interface{}{
			"average_data": entry.AverageData,
			"sample_count": entry.SampleCount,
			"version":      expectedVersion + 1,
			"updated_at":   now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update gallery entry for student %d: %w", entry.StudentID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStaleWrite
	}
	entry.Version = expectedVersion + 1
	entry.UpdatedAt = now
	return nil
}

// DeleteEntry removes a student's entry; deleting a missing entry is not an error
func (r *GalleryRepository) DeleteEntry(ctx context.Context, studentID uint) error {
	err := r.DB.WithContext(ctx).Where("student_id = ?", studentID).Delete(&models.GalleryEntry{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete gallery entry for student %d: %w", studentID, err)
	}
	return nil
}

// CreateSample appends a raw embedding to the retention log
func (r *GalleryRepository) CreateSample(ctx context.Context, sample *models.FaceSample) error {
	if sample.CreatedAt == 0 {
		sample.CreatedAt = time.Now().Unix()
	}
	err := r.DB.WithContext(ctx).Create(sample).Error
	if err != nil {
		return fmt.Errorf("failed to create face sample for student %d: %w", sample.StudentID, err)
	}
	return nil
}

func (r *GalleryRepository) GetSample(ctx context.Context, id uint) (*models.FaceSample, error) {
	var sample models.FaceSample
	err := r.DB.WithContext(ctx).First(&sample, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get face sample ID %d: %w", id, err)
	}
	return &sample, nil
}

// ListSamples retrieves a student's retained samples in insertion order
func (r *GalleryRepository) ListSamples(ctx context.Context, studentID uint) ([]models.FaceSample, error) {
	var samples []models.FaceSample
	err := r.DB.WithContext(ctx).Where("student_id = ?", studentID).Order("id ASC").Find(&samples).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list face samples for student %d: %w", studentID, err)
	}
	return samples, nil
}

// MoveSample re-attributes a sample to another student
func (r *GalleryRepository) MoveSample(ctx context.Context, sampleID, studentID uint) error {
	result := r.DB.WithContext(ctx).Model(&models.FaceSample{}).
		Where("id = ?", sampleID).
		Update("student_id", studentID)
	if result.Error != nil {
		return fmt.Errorf("failed to move face sample %d to student %d: %w", sampleID, studentID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteSample removes a single retained sample
func (r *GalleryRepository) DeleteSample(ctx context.Context, id uint) error {
	result := r.DB.WithContext(ctx).Delete(&models.FaceSample{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete face sample ID %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteSamplesByStudent removes every sample of a student and returns the
// removed rows so their stored images can be cleaned up
func (r *GalleryRepository) DeleteSamplesByStudent(ctx context.Context, studentID uint) ([]models.FaceSample, error) {
	samples, err := r.ListSamples(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return samples, nil
	}
	err = r.DB.WithContext(ctx).Where("student_id = ?", studentID).Delete(&models.FaceSample{}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to delete face samples for student %d: %w", studentID, err)
	}
	return samples, nil
}

// ListSampledStudentIDs returns the students that own an entry or at least one sample
func (r *GalleryRepository) ListSampledStudentIDs(ctx context.Context) ([]uint, error) {
	var fromSamples []uint
	err := r.DB.WithContext(ctx).Model(&models.FaceSample{}).
		Distinct().
		Pluck("student_id", &fromSamples).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sampled students: %w", err)
	}

	var fromEntries []uint
	err = r.DB.WithContext(ctx).Model(&models.GalleryEntry{}).Pluck("student_id", &fromEntries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list gallery students: %w", err)
	}

	seen := make(map[uint]bool, len(fromSamples)+len(fromEntries))
	ids := make([]uint, 0, len(fromSamples)+len(fromEntries))
	for _, id := range append(fromSamples, fromEntries...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}
