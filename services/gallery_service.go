package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/realtime"
	"github.com/camden-git/attendancebackend/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AssetRemover deletes stored images. *media.Processor satisfies it.
type AssetRemover interface {
	Delete(relativePath string) error
}

// SampleInput describes where a contributed embedding came from
type SampleInput struct {
	Source       models.SampleSource
	SourceItemID *uint
	ImagePath    string
}

// GalleryService owns the per-student average embeddings and the retained
// samples they are computed from. Writes for one student are serialized.
type GalleryService struct {
	store  *repository.Store
	locks  *KeyedMutex
	assets AssetRemover
	events Broadcaster
	logger *zap.Logger
}

func NewGalleryService(store *repository.Store, locks *KeyedMutex, assets AssetRemover, events Broadcaster, logger *zap.Logger) *GalleryService {
	return &GalleryService{
		store:  store,
		locks:  locks,
		assets: assets,
		events: orNoop(events),
		logger: logger.Named("gallery"),
	}
}

// Get returns a student's entry, ErrNotFound when the student has none
func (s *GalleryService) Get(ctx context.Context, studentID uint) (*models.GalleryEntry, error) {
	entry, err := s.store.Gallery.GetEntry(ctx, studentID)
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("gallery entry for student %d", studentID))
	}
	return entry, nil
}

// Snapshot loads the whole gallery in student ID order
func (s *GalleryService) Snapshot(ctx context.Context) (Snapshot, error) {
	entries, err := s.store.Gallery.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(entries), nil
}

// Contribute folds one embedding into the student's running average and
// retains it as a sample. The first contribution creates the entry.
func (s *GalleryService) Contribute(ctx context.Context, studentID uint, embedding []float32, in SampleInput) (*models.GalleryEntry, *models.FaceSample, error) {
	unlock := s.locks.Lock(studentKey(studentID))
	defer unlock()

	var (
		entry  *models.GalleryEntry
		sample *models.FaceSample
	)
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		exists, err := tx.Students.Exists(ctx, studentID)
		if err != nil {
			return err
		}
		if !exists {
			return notFoundErrorf("student %d", studentID)
		}
		entry, sample, err = contributeTx(ctx, tx, studentID, embedding, in)
		return err
	})
	if err != nil {
		return nil, nil, translateRepoError(err, fmt.Sprintf("contribute to student %d", studentID))
	}

	s.publishUpdate(studentID, entry.SampleCount)
	return entry, sample, nil
}

// contributeTx applies the incremental mean. Callers hold the student lock.
func contributeTx(ctx context.Context, tx *repository.Store, studentID uint, embedding []float32, in SampleInput) (*models.GalleryEntry, *models.FaceSample, error) {
	if len(embedding) == 0 {
		return nil, nil, validationErrorf("embedding is empty")
	}

	entry, err := tx.Gallery.GetEntry(ctx, studentID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = &models.GalleryEntry{StudentID: studentID, SampleCount: 1}
		entry.SetAverage(embedding)
		if err := tx.Gallery.CreateEntry(ctx, entry); err != nil {
			return nil, nil, err
		}
	case err != nil:
		return nil, nil, err
	default:
		avg := entry.Average()
		if len(avg) != len(embedding) {
			return nil, nil, validationErrorf("embedding has %d dimensions, gallery uses %d", len(embedding), len(avg))
		}
		n := float64(entry.SampleCount)
		next := make([]float32, len(avg))
		for i := range avg {
			next[i] = float32((float64(avg[i])*n + float64(embedding[i])) / (n + 1))
		}
		entry.SetAverage(next)
		entry.SampleCount++
		if err := tx.Gallery.UpdateEntry(ctx, entry, entry.Version); err != nil {
			return nil, nil, err
		}
	}

	sample := &models.FaceSample{
		StudentID:    studentID,
		Source:       in.Source,
		SourceItemID: in.SourceItemID,
		ImagePath:    in.ImagePath,
	}
	sample.SetEmbedding(embedding)
	if err := tx.Gallery.CreateSample(ctx, sample); err != nil {
		return nil, nil, err
	}
	return entry, sample, nil
}

// RecomputeFromSamples replaces the cached average with the mean of samples.
// An empty set deletes the entry and returns nil.
func (s *GalleryService) RecomputeFromSamples(ctx context.Context, studentID uint, samples [][]float32) (*models.GalleryEntry, error) {
	unlock := s.locks.Lock(studentKey(studentID))
	defer unlock()

	var entry *models.GalleryEntry
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		entry, err = recomputeTx(ctx, tx, studentID, samples)
		return err
	})
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("recompute student %d", studentID))
	}

	s.publishUpdate(studentID, len(samples))
	return entry, nil
}

func recomputeTx(ctx context.Context, tx *repository.Store, studentID uint, samples [][]float32) (*models.GalleryEntry, error) {
	if len(samples) == 0 {
		return nil, tx.Gallery.DeleteEntry(ctx, studentID)
	}
	mean, ok := meanEmbedding(samples)
	if !ok {
		return nil, validationErrorf("samples for student %d have mismatched dimensions", studentID)
	}

	entry, err := tx.Gallery.GetEntry(ctx, studentID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry = &models.GalleryEntry{StudentID: studentID, SampleCount: len(samples)}
		entry.SetAverage(mean)
		return entry, tx.Gallery.CreateEntry(ctx, entry)
	case err != nil:
		return nil, err
	}

	entry.SetAverage(mean)
	entry.SampleCount = len(samples)
	return entry, tx.Gallery.UpdateEntry(ctx, entry, entry.Version)
}

// rebuildTx recomputes a student's entry from the retained samples
func rebuildTx(ctx context.Context, tx *repository.Store, studentID uint) (*models.GalleryEntry, error) {
	rows, err := tx.Gallery.ListSamples(ctx, studentID)
	if err != nil {
		return nil, err
	}
	samples := make([][]float32, 0, len(rows))
	for i := range rows {
		samples = append(samples, rows[i].Embedding())
	}
	return recomputeTx(ctx, tx, studentID, samples)
}

// Rebuild recomputes one student's entry from the retained samples
func (s *GalleryService) Rebuild(ctx context.Context, studentID uint) (*models.GalleryEntry, error) {
	unlock := s.locks.Lock(studentKey(studentID))
	defer unlock()

	var entry *models.GalleryEntry
	err := s.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		entry, err = rebuildTx(ctx, tx, studentID)
		return err
	})
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("rebuild student %d", studentID))
	}

	count := 0
	if entry != nil {
		count = entry.SampleCount
	}
	s.publishUpdate(studentID, count)
	return entry, nil
}

// RebuildAll recomputes every entry that has samples or a cached average.
// progress, when set, is called after each student.
func (s *GalleryService) RebuildAll(ctx context.Context, progress func(done, total int)) (int, error) {
	ids, err := s.store.Gallery.ListSampledStudentIDs(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if _, err := s.Rebuild(ctx, id); err != nil {
			return i, err
		}
		if progress != nil {
			progress(i+1, len(ids))
		}
	}
	return len(ids), nil
}

// ListSamples returns a student's retained samples
func (s *GalleryService) ListSamples(ctx context.Context, studentID uint) ([]models.FaceSample, error) {
	return s.store.Gallery.ListSamples(ctx, studentID)
}

// RemoveSample deletes one enrollment or auto-accepted sample and rebuilds
// the student. Samples owned by a queue item are removed by discarding the item.
func (s *GalleryService) RemoveSample(ctx context.Context, sampleID uint) (*models.GalleryEntry, error) {
	sample, err := s.store.Gallery.GetSample(ctx, sampleID)
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("face sample %d", sampleID))
	}
	if sample.LinkedToQueue() {
		return nil, validationErrorf("sample %d belongs to a %s item; discard the item instead", sampleID, sample.Source)
	}

	unlock := s.locks.Lock(studentKey(sample.StudentID))
	defer unlock()

	var entry *models.GalleryEntry
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		current, err := tx.Gallery.GetSample(ctx, sampleID)
		if err != nil {
			return err
		}
		if current.StudentID != sample.StudentID {
			return conflictErrorf("sample %d moved to another student", sampleID)
		}
		if err := tx.Gallery.DeleteSample(ctx, sampleID); err != nil {
			return err
		}
		entry, err = rebuildTx(ctx, tx, sample.StudentID)
		return err
	})
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("remove face sample %d", sampleID))
	}

	s.deleteAsset(sample.ImagePath)
	count := 0
	if entry != nil {
		count = entry.SampleCount
	}
	s.publishUpdate(sample.StudentID, count)
	return entry, nil
}

func (s *GalleryService) deleteAsset(path string) {
	if path == "" || s.assets == nil {
		return
	}
	if err := s.assets.Delete(path); err != nil {
		s.logger.Warn("failed to delete stored image", zap.String("path", path), zap.Error(err))
	}
}

func (s *GalleryService) publishUpdate(studentID uint, sampleCount int) {
	s.events.Broadcast(realtime.Event{
		Type:      realtime.EventGalleryUpdated,
		StudentID: studentID,
		Extra:     map[string]interface{}{"sample_count": sampleCount},
	})
}
