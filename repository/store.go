package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrStaleWrite is returned when a conditional update matched no row because
// another writer changed the record first
var ErrStaleWrite = errors.New("record was modified concurrently")

// Store bundles the repositories sharing one gorm handle so a unit of work
// can run all of them inside a single transaction
type Store struct {
	DB           *gorm.DB
	Students     *StudentRepository
	Gallery      *GalleryRepository
	Reviews      *ReviewRepository
	Unrecognized *UnrecognizedRepository
	Users        *GormUserRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		DB:           db,
		Students:     NewStudentRepository(db),
		Gallery:      NewGalleryRepository(db),
		Reviews:      NewReviewRepository(db),
		Unrecognized: NewUnrecognizedRepository(db),
		Users:        NewGormUserRepository(db),
	}
}

// Transaction runs fn with a Store bound to a single database transaction.
// Returning an error from fn rolls everything back.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
