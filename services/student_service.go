package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/realtime"
	"github.com/camden-git/attendancebackend/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StudentService manages the identities faces are matched against
type StudentService struct {
	store   *repository.Store
	gallery *GalleryService
	locks   *KeyedMutex
	logger  *zap.Logger
}

func NewStudentService(store *repository.Store, gallery *GalleryService, locks *KeyedMutex, logger *zap.Logger) *StudentService {
	return &StudentService{store: store, gallery: gallery, locks: locks, logger: logger.Named("students")}
}

func (s *StudentService) Create(ctx context.Context, rollNumber, fullName string) (*models.Student, error) {
	rollNumber = strings.TrimSpace(rollNumber)
	fullName = strings.TrimSpace(fullName)
	if rollNumber == "" || fullName == "" {
		return nil, validationErrorf("roll_number and full_name are required")
	}

	student := &models.Student{RollNumber: rollNumber, FullName: fullName}
	if err := s.store.Students.Create(ctx, student); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, validationErrorf("roll number %q is already taken", rollNumber)
		}
		return nil, err
	}
	s.logger.Info("student created", zap.Uint("student_id", student.ID), zap.String("roll_number", rollNumber))
	return student, nil
}

// List returns every student with a gallery summary, in roll-number order
func (s *StudentService) List(ctx context.Context) ([]models.Student, error) {
	students, err := s.store.Students.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.Gallery.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	byStudent := make(map[uint]*models.GalleryEntry, len(entries))
	for i := range entries {
		byStudent[entries[i].StudentID] = &entries[i]
	}
	for i := range students {
		students[i].Gallery = byStudent[students[i].ID]
	}
	return students, nil
}

func (s *StudentService) Get(ctx context.Context, id uint) (*models.Student, error) {
	student, err := s.store.Students.GetByID(ctx, id)
	if err != nil {
		return nil, translateRepoError(err, fmt.Sprintf("student %d", id))
	}
	entry, err := s.store.Gallery.GetEntry(ctx, id)
	switch {
	case err == nil:
		student.Gallery = entry
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return student, nil
}

// maxDeleteAttempts bounds how often Delete re-reads the queue items credited
// to a student when an adjudication commits between the read and the lock
const maxDeleteAttempts = 3

var errLinkedItemsChanged = errors.New("queue items credited to the student changed")

// linkedItems are the adjudicated queue items whose samples live in one
// student's gallery
type linkedItems struct {
	reviews      []models.ReviewItem
	unrecognized []models.UnrecognizedItem
}

func loadLinkedItems(ctx context.Context, store *repository.Store, studentID uint) (linkedItems, error) {
	var linked linkedItems
	var err error
	if linked.reviews, err = store.Reviews.ListAssignedTo(ctx, studentID); err != nil {
		return linked, err
	}
	if linked.unrecognized, err = store.Unrecognized.ListIdentifiedAs(ctx, studentID); err != nil {
		return linked, err
	}
	return linked, nil
}

func (l linkedItems) keys() []string {
	keys := make([]string, 0, len(l.reviews)+len(l.unrecognized))
	for _, item := range l.reviews {
		keys = append(keys, reviewKey(item.ID))
	}
	for _, item := range l.unrecognized {
		keys = append(keys, unrecognizedKey(item.ID))
	}
	return keys
}

// coveredBy reports whether every item in l is in the held key set
func (l linkedItems) coveredBy(held []string) bool {
	set := make(map[string]struct{}, len(held))
	for _, key := range held {
		set[key] = struct{}{}
	}
	for _, key := range l.keys() {
		if _, ok := set[key]; !ok {
			return false
		}
	}
	return true
}

// Delete removes a student together with their samples and gallery entry.
// Confirmed, reassigned or identified queue items credited to the student
// are discarded in the same transaction.
func (s *StudentService) Delete(ctx context.Context, id uint) error {
	for attempt := 1; ; attempt++ {
		err := s.delete(ctx, id)
		if !errors.Is(err, errLinkedItemsChanged) {
			return err
		}
		if attempt == maxDeleteAttempts {
			return conflictErrorf("student %d is being adjudicated concurrently", id)
		}
	}
}

func (s *StudentService) delete(ctx context.Context, id uint) error {
	seen, err := loadLinkedItems(ctx, s.store, id)
	if err != nil {
		return err
	}

	// Item locks before the student lock, the order adjudications use.
	held := seen.keys()
	unlockItems := s.locks.LockAll(held...)
	defer unlockItems()
	unlock := s.locks.Lock(studentKey(id))
	defer unlock()

	var removed []models.FaceSample
	var retired linkedItems
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		if _, err := tx.Students.GetByID(ctx, id); err != nil {
			return err
		}
		current, err := loadLinkedItems(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.coveredBy(held) {
			return errLinkedItemsChanged
		}
		for _, item := range current.reviews {
			err := tx.Reviews.Transition(ctx, item.ID, item.Status, repository.ReviewUpdate{
				Status:             models.ReviewStatusDiscarded,
				ConfirmedStudentID: item.ConfirmedStudentID,
				ReviewedBy:         item.ReviewedBy,
			})
			if err != nil {
				return err
			}
		}
		for _, item := range current.unrecognized {
			err := tx.Unrecognized.Transition(ctx, item.ID, item.Status, repository.UnrecognizedUpdate{
				Status:              models.UnrecognizedStatusDiscarded,
				IdentifiedStudentID: item.IdentifiedStudentID,
				ReviewedBy:          item.ReviewedBy,
			})
			if err != nil {
				return err
			}
		}
		retired = current

		if removed, err = tx.Gallery.DeleteSamplesByStudent(ctx, id); err != nil {
			return err
		}
		if err := tx.Gallery.DeleteEntry(ctx, id); err != nil {
			return err
		}
		return tx.Students.Delete(ctx, id)
	})
	if errors.Is(err, errLinkedItemsChanged) {
		return err
	}
	if err != nil {
		return translateRepoError(err, fmt.Sprintf("student %d", id))
	}

	// Queue samples share their item's crop; delete each file once.
	paths := make(map[string]struct{}, len(removed))
	for _, sample := range removed {
		paths[sample.ImagePath] = struct{}{}
	}
	for _, item := range retired.reviews {
		paths[item.ImagePath] = struct{}{}
	}
	for _, item := range retired.unrecognized {
		paths[item.ImagePath] = struct{}{}
	}
	for path := range paths {
		s.gallery.deleteAsset(path)
	}

	for _, item := range retired.reviews {
		s.gallery.events.Broadcast(realtime.Event{
			Type: realtime.EventReviewAdjudicated, ItemID: item.ID, StudentID: id, Status: string(models.ReviewStatusDiscarded),
		})
	}
	for _, item := range retired.unrecognized {
		s.gallery.events.Broadcast(realtime.Event{
			Type: realtime.EventUnrecognizedAdjudicated, ItemID: item.ID, StudentID: id, Status: string(models.UnrecognizedStatusDiscarded),
		})
	}
	s.gallery.publishUpdate(id, 0)
	s.logger.Info("student deleted",
		zap.Uint("student_id", id),
		zap.Int("samples_removed", len(removed)),
		zap.Int("review_items_discarded", len(retired.reviews)),
		zap.Int("unrecognized_items_discarded", len(retired.unrecognized)))
	return nil
}
