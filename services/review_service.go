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

// ReviewAction is an adjudication requested on a review item
type ReviewAction string

const (
	ReviewActionConfirm  ReviewAction = "confirm"
	ReviewActionReassign ReviewAction = "reassign"
	ReviewActionDiscard  ReviewAction = "discard"
)

// ReviewService adjudicates review items. Every mutation of one item is
// serialized, and gallery changes run in the same transaction as the status
// transition.
type ReviewService struct {
	store   *repository.Store
	gallery *GalleryService
	locks   *KeyedMutex
	assets  AssetRemover
	events  Broadcaster
	logger  *zap.Logger
}

func NewReviewService(store *repository.Store, gallery *GalleryService, locks *KeyedMutex, assets AssetRemover, events Broadcaster, logger *zap.Logger) *ReviewService {
	return &ReviewService{
		store:   store,
		gallery: gallery,
		locks:   locks,
		assets:  assets,
		events:  orNoop(events),
		logger:  logger.Named("review"),
	}
}

// List returns review items. No statuses means every non-discarded item.
func (s *ReviewService) List(ctx context.Context, statuses ...models.ReviewStatus) ([]models.ReviewItem, error) {
	for _, st := range statuses {
		if !st.Valid() {
			return nil, validationErrorf("unknown review status %q", st)
		}
	}
	if len(statuses) == 0 {
		statuses = []models.ReviewStatus{models.ReviewStatusPending, models.ReviewStatusConfirmed, models.ReviewStatusReassigned}
	}
	return s.store.Reviews.List(ctx, statuses...)
}

func (s *ReviewService) Get(ctx context.Context, itemID uint) (*models.ReviewItem, error) {
	item, err := s.store.Reviews.GetByID(ctx, itemID)
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("review item %d", itemID))
	}
	return item, nil
}

// Adjudicate dispatches an action by name
func (s *ReviewService) Adjudicate(ctx context.Context, itemID uint, action ReviewAction, studentID *uint, actor *uint) (*models.ReviewItem, error) {
	switch action {
	case ReviewActionConfirm:
		return s.Confirm(ctx, itemID, studentID, actor)
	case ReviewActionReassign:
		return s.Reassign(ctx, itemID, studentID, actor)
	case ReviewActionDiscard:
		return s.Discard(ctx, itemID, actor)
	}
	return nil, validationErrorf("unknown action %q, expected confirm, reassign or discard", action)
}

// Confirm assigns a pending item to a student and contributes its embedding.
// Confirming an item already assigned to the same student changes nothing.
func (s *ReviewService) Confirm(ctx context.Context, itemID uint, studentID *uint, actor *uint) (*models.ReviewItem, error) {
	if studentID == nil {
		return nil, validationErrorf("confirm requires a student_id")
	}

	unlock := s.locks.Lock(reviewKey(itemID))
	defer unlock()

	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.requireStudent(ctx, *studentID); err != nil {
		return nil, err
	}

	switch {
	case item.Status.Assigned() && item.ConfirmedStudentID != nil && *item.ConfirmedStudentID == *studentID:
		return item, nil
	case !item.Status.CanTransition(models.ReviewStatusConfirmed):
		return nil, conflictErrorf("review item %d is %s and cannot be confirmed", itemID, item.Status)
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
			Source:       models.SampleSourceReview,
			SourceItemID: &item.ID,
			ImagePath:    item.ImagePath,
		})
		if err != nil {
			return err
		}
		return tx.Reviews.Transition(ctx, item.ID, item.Status, repository.ReviewUpdate{
			Status:             models.ReviewStatusConfirmed,
			ConfirmedStudentID: studentID,
			SampleID:           &sample.ID,
			ReviewedBy:         actor,
		})
	})
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("confirm review item %d", itemID))
	}

	s.logger.Info("review item confirmed", zap.Uint("item_id", itemID), zap.Uint("student_id", *studentID))
	s.gallery.publishUpdate(*studentID, entry.SampleCount)
	return s.finish(ctx, itemID)
}

// Reassign moves a confirmed item's sample to another student and rebuilds
// both students from their retained samples
func (s *ReviewService) Reassign(ctx context.Context, itemID uint, studentID *uint, actor *uint) (*models.ReviewItem, error) {
	if studentID == nil {
		return nil, validationErrorf("reassign requires a student_id")
	}

	unlock := s.locks.Lock(reviewKey(itemID))
	defer unlock()

	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.Status.CanTransition(models.ReviewStatusReassigned) || item.ConfirmedStudentID == nil || item.SampleID == nil {
		return nil, conflictErrorf("review item %d is %s; only a confirmed item can be reassigned", itemID, item.Status)
	}
	if err := s.requireStudent(ctx, *studentID); err != nil {
		return nil, err
	}
	oldStudent := *item.ConfirmedStudentID
	if oldStudent == *studentID {
		return nil, validationErrorf("review item %d is already assigned to student %d", itemID, oldStudent)
	}

	unlockStudents := s.locks.LockAll(studentKeys(oldStudent, *studentID)...)
	defer unlockStudents()

	var oldEntry, newEntry *models.GalleryEntry
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := requireStudentTx(ctx, tx, *studentID); err != nil {
			return err
		}
		if err := tx.Gallery.MoveSample(ctx, *item.SampleID, *studentID); err != nil {
			return err
		}
		var err error
		if oldEntry, err = rebuildTx(ctx, tx, oldStudent); err != nil {
			return err
		}
		if newEntry, err = rebuildTx(ctx, tx, *studentID); err != nil {
			return err
		}
		return tx.Reviews.Transition(ctx, item.ID, item.Status, repository.ReviewUpdate{
			Status:             models.ReviewStatusReassigned,
			ConfirmedStudentID: studentID,
			SampleID:           item.SampleID,
			ReviewedBy:         actor,
		})
	})
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("reassign review item %d", itemID))
	}

	s.logger.Info("review item reassigned",
		zap.Uint("item_id", itemID), zap.Uint("from_student_id", oldStudent), zap.Uint("to_student_id", *studentID))
	s.gallery.publishUpdate(oldStudent, entryCount(oldEntry))
	s.gallery.publishUpdate(*studentID, entryCount(newEntry))
	return s.finish(ctx, itemID)
}

// Discard retires an item. If it had contributed to a student, the sample is
// removed and that student rebuilt. Discarding twice is a no-op.
func (s *ReviewService) Discard(ctx context.Context, itemID uint, actor *uint) (*models.ReviewItem, error) {
	unlock := s.locks.Lock(reviewKey(itemID))
	defer unlock()

	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.Status.CanTransition(models.ReviewStatusDiscarded) {
		return item, nil
	}

	var affected *uint
	if item.Status.Assigned() && item.ConfirmedStudentID != nil {
		affected = item.ConfirmedStudentID
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
		return tx.Reviews.Transition(ctx, item.ID, item.Status, repository.ReviewUpdate{
			Status:             models.ReviewStatusDiscarded,
			ConfirmedStudentID: item.ConfirmedStudentID,
			ReviewedBy:         actor,
		})
	})
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("discard review item %d", itemID))
	}

	s.logger.Info("review item discarded", zap.Uint("item_id", itemID))
	if affected != nil {
		s.gallery.publishUpdate(*affected, entryCount(entry))
	}
	// The removed sample shared this crop, so it is deleted here only.
	s.gallery.deleteAsset(item.ImagePath)
	return s.finish(ctx, itemID)
}

func (s *ReviewService) requireStudent(ctx context.Context, studentID uint) error {
	return requireStudentTx(ctx, s.store, studentID)
}

// requireStudentTx reports an unknown target student as a validation error
func requireStudentTx(ctx context.Context, store *repository.Store, studentID uint) error {
	exists, err := store.Students.Exists(ctx, studentID)
	if err != nil {
		return err
	}
	if !exists {
		return validationErrorf("student %d does not exist", studentID)
	}
	return nil
}

func (s *ReviewService) finish(ctx context.Context, itemID uint) (*models.ReviewItem, error) {
	item, err := s.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	ev := realtime.Event{Type: realtime.EventReviewAdjudicated, ItemID: item.ID, Status: string(item.Status)}
	if item.ConfirmedStudentID != nil {
		ev.StudentID = *item.ConfirmedStudentID
	}
	s.events.Broadcast(ev)
	return item, nil
}

func entryCount(entry *models.GalleryEntry) int {
	if entry == nil {
		return 0
	}
	return entry.SampleCount
}
