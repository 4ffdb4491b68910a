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

// UnrecognizedService adjudicates faces that had no usable gallery match
type UnrecognizedService struct {
	store   *repository.Store
	gallery *GalleryService
	locks   *KeyedMutex
	events  Broadcaster
	logger  *zap.Logger
}

func NewUnrecognizedService(store *repository.Store, gallery *GalleryService, locks *KeyedMutex, events Broadcaster, logger *zap.Logger) *UnrecognizedService {
	return &UnrecognizedService{
		store:   store,
		gallery: gallery,
		locks:   locks,
		events:  orNoop(events),
		logger:  logger.Named("unrecognized"),
	}
}

// ListPending returns items still waiting for a decision, newest first
func (s *UnrecognizedService) ListPending(ctx context.Context) ([]models.UnrecognizedItem, error) {
	return s.store.Unrecognized.List(ctx, models.UnrecognizedStatusPending)
}

func (s *UnrecognizedService) Get(ctx context.Context, itemID uint) (*models.UnrecognizedItem, error) {
	item, err := s.store.Unrecognized.GetByID(ctx, itemID)
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("unrecognized item %d", itemID))
	}
	return item, nil
}

// Assign identifies a pending item as studentID and contributes its
// embedding. A nil student leaves the item pending.
func (s *UnrecognizedService) Assign(ctx context.Context, itemID uint, studentID *uint, actor *uint) (*models.UnrecognizedItem, error) {
	unlock := s.locks.Lock(unrecognizedKey(itemID))
	defer unlock()

	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if studentID == nil {
		return item, nil
	}
	if err := requireStudentTx(ctx, s.store, *studentID); err != nil {
		return nil, err
	}

	switch {
	case item.Status == models.UnrecognizedStatusIdentified && item.IdentifiedStudentID != nil && *item.IdentifiedStudentID == *studentID:
		return item, nil
	case !item.Status.CanTransition(models.UnrecognizedStatusIdentified):
		return nil, conflictErrorf("unrecognized item %d is %s and cannot be assigned", itemID, item.Status)
	}

	unlockStudent := s.locks.Lock(studentKey(*studentID))
	defer unlockStudent()

	var entry *models.GalleryEntry
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := requireStudentTx(ctx, tx, *studentID); err != nil {
			return err
		}
		var sample *models.FaceSample
		var err error
		entry, sample, err = contributeTx(ctx, tx, *studentID, item.Embedding(), SampleInput{
			Source:       models.SampleSourceUnrecognized,
			SourceItemID: &item.ID,
			ImagePath:    item.ImagePath,
		})
		if err != nil {
			return err
		}
		return tx.Unrecognized.Transition(ctx, item.ID, item.Status, repository.UnrecognizedUpdate{
			Status:              models.UnrecognizedStatusIdentified,
			IdentifiedStudentID: studentID,
			SampleID:            &sample.ID,
			ReviewedBy:          actor,
		})
	})
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("assign unrecognized item %d", itemID))
	}

	s.logger.Info("unrecognized item identified", zap.Uint("item_id", itemID), zap.Uint("student_id", *studentID))
	s.gallery.publishUpdate(*studentID, entry.SampleCount)
	return s.finish(ctx, itemID)
}

// Discard retires an item. An identified item's sample is removed first so a
// discarded item never contributes. Discarding twice is a no-op.
func (s *UnrecognizedService) Discard(ctx context.Context, itemID uint, actor *uint) (*models.UnrecognizedItem, error) {
	unlock := s.locks.Lock(unrecognizedKey(itemID))
	defer unlock()

	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.Status.CanTransition(models.UnrecognizedStatusDiscarded) {
		return item, nil
	}

	var affected *uint
	if item.Status == models.UnrecognizedStatusIdentified && item.IdentifiedStudentID != nil {
		affected = item.IdentifiedStudentID
		unlockStudent := s.locks.Lock(studentKey(*affected))
		defer unlockStudent()
	}

	var entry *models.GalleryEntry
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if affected != nil && item.SampleID != nil {
			if err := tx.Gallery.DeleteSample(ctx, *item.SampleID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			var err error
			if entry, err = rebuildTx(ctx, tx, *affected); err != nil {
				return err
			}
		}
		return tx.Unrecognized.Transition(ctx, item.ID, item.Status, repository.UnrecognizedUpdate{
			Status:              models.UnrecognizedStatusDiscarded,
			IdentifiedStudentID: item.IdentifiedStudentID,
			ReviewedBy:          actor,
		})
	})
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("discard unrecognized item %d", itemID))
	}

	s.logger.Info("unrecognized item discarded", zap.Uint("item_id", itemID))
	if affected != nil {
		s.gallery.publishUpdate(*affected, entryCount(entry))
	}
	s.gallery.deleteAsset(item.ImagePath)
	return s.finish(ctx, itemID)
}

func (s *UnrecognizedService) finish(ctx context.Context, itemID uint) (*models.UnrecognizedItem, error) {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	ev := realtime.Event{Type: realtime.EventUnrecognizedAdjudicated, ItemID: item.ID, Status: string(item.Status)}
	if item.IdentifiedStudentID != nil {
		ev.StudentID = *item.IdentifiedStudentID
	}
	s.events.Broadcast(ev)
	return item, nil
}
