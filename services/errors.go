package services

import (
	"errors"
	"fmt"

	"github.com/camden-git/attendancebackend/repository"
	"gorm.io/gorm"
)

var (
	// ErrValidation marks malformed input rejected before any mutation
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a referenced student or queue item that does not exist
	ErrNotFound = errors.New("not found")
	// ErrModel marks a failure of the detection or embedding model
	ErrModel = errors.New("face model error")
	// ErrDegenerateInput marks an enrollment image without exactly one face
	ErrDegenerateInput = errors.New("image must contain exactly one face")
	// ErrConflict marks a lost update or a double adjudication; callers may retry
	ErrConflict = errors.New("concurrent modification, retry")
)

func validationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func conflictErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// translateRepoError maps persistence sentinels onto the service taxonomy
func translateRepoError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFoundErrorf("%s", what)
	case errors.Is(err, repository.ErrStaleWrite):
		return conflictErrorf("%s", what)
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
		return err
	}
	return fmt.Errorf("%s: %w", what, err)
}
