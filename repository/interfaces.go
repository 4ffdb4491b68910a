package repository

import (
	"context"

	"github.com/camden-git/attendancebackend/models"
)

// StudentRepositoryInterface defines the methods for student data operations
type StudentRepositoryInterface interface {
	Create(ctx context.Context, student *models.Student) error
	GetByID(ctx context.Context, id uint) (*models.Student, error)
	GetByRollNumber(ctx context.Context, rollNumber string) (*models.Student, error)
	Exists(ctx context.Context, id uint) (bool, error)
	ListAll(ctx context.Context) ([]models.Student, error)
	Delete(ctx context.Context, id uint) error
}

// GalleryRepositoryInterface defines the methods for gallery entries and
// the retained face samples they are derived from
type GalleryRepositoryInterface interface {
	GetEntry(ctx context.Context, studentID uint) (*models.GalleryEntry, error)
	ListEntries(ctx context.Context) ([]models.GalleryEntry, error)
	CreateEntry(ctx context.Context, entry *models.GalleryEntry) error
	UpdateEntry(ctx context.Context, entry *models.GalleryEntry, expectedVersion int64) error
	DeleteEntry(ctx context.Context, studentID uint) error

	CreateSample(ctx context.Context, sample *models.FaceSample) error
	GetSample(ctx context.Context, id uint) (*models.FaceSample, error)
	ListSamples(ctx context.Context, studentID uint) ([]models.FaceSample, error)
	MoveSample(ctx context.Context, sampleID, studentID uint) error
	DeleteSample(ctx context.Context, id uint) error
	DeleteSamplesByStudent(ctx context.Context, studentID uint) ([]models.FaceSample, error)
	ListSampledStudentIDs(ctx context.Context) ([]uint, error)
}

// ReviewRepositoryInterface defines the methods for review queue items
type ReviewRepositoryInterface interface {
	Create(ctx context.Context, item *models.ReviewItem) error
	GetByID(ctx context.Context, id uint) (*models.ReviewItem, error)
	List(ctx context.Context, statuses ...models.ReviewStatus) ([]models.ReviewItem, error)
	ListAssignedTo(ctx context.Context, studentID uint) ([]models.ReviewItem, error)
	Transition(ctx context.Context, id uint, from models.ReviewStatus, update ReviewUpdate) error
}

// UnrecognizedRepositoryInterface defines the methods for unrecognized queue items
type UnrecognizedRepositoryInterface interface {
	Create(ctx context.Context, item *models.UnrecognizedItem) error
	GetByID(ctx context.Context, id uint) (*models.UnrecognizedItem, error)
	List(ctx context.Context, statuses ...models.UnrecognizedStatus) ([]models.UnrecognizedItem, error)
	ListIdentifiedAs(ctx context.Context, studentID uint) ([]models.UnrecognizedItem, error)
	Transition(ctx context.Context, id uint, from models.UnrecognizedStatus, update UnrecognizedUpdate) error
}

// UserRepository defines the methods for user data operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id uint) error
	ListAll(ctx context.Context) ([]models.User, error)
	SetUserGlobalPermissions(ctx context.Context, userID uint, permissions []string) error
}
