package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/camden-git/attendancebackend/database"
	"github.com/camden-git/attendancebackend/realtime"
	"go.uber.org/zap"
)

// RecognitionNote is recorded on entries created by the recognition pipeline
const RecognitionNote = "Marked via facial recognition"

// StudentLookup reports whether a student exists
type StudentLookup interface {
	Exists(ctx context.Context, id uint) (bool, error)
}

// AttendanceService writes the attendance ledger. Emission is first writer
// wins per (student, date); only SetStatus overwrites.
type AttendanceService struct {
	ledger   database.Querier
	students StudentLookup
	events   Broadcaster
	logger   *zap.Logger
	now      func() time.Time
}

func NewAttendanceService(ledger database.Querier, students StudentLookup, events Broadcaster, logger *zap.Logger) *AttendanceService {
	return &AttendanceService{
		ledger:   ledger,
		students: students,
		events:   orNoop(events),
		logger:   logger.Named("attendance"),
		now:      time.Now,
	}
}

// Today is the local calendar date in DateLayout
func (s *AttendanceService) Today() string {
	return s.now().Format(database.DateLayout)
}

// StatusFromLabel maps the status label sent with a marking request.
// "onTime" and an empty label mean present; anything else is late.
func StatusFromLabel(label string) database.AttendanceStatus {
	switch label {
	case "", "onTime", string(database.AttendancePresent):
		return database.AttendancePresent
	}
	return database.AttendanceLate
}

func (s *AttendanceService) validateDate(date string) error {
	if _, err := time.Parse(database.DateLayout, date); err != nil {
		return validationErrorf("date %q must be formatted YYYY-MM-DD", date)
	}
	return nil
}

// Emit records status for every student lacking an entry on date and returns
// the entries it created. Students already marked are left untouched.
func (s *AttendanceService) Emit(ctx context.Context, studentIDs []uint, date string, status database.AttendanceStatus) ([]database.AttendanceEntry, error) {
	if err := s.validateDate(date); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, validationErrorf("unknown attendance status %q", status)
	}

	ids := uniqueSorted(studentIDs)
	created := make([]database.AttendanceEntry, 0, len(ids))
	var errs []error
	for _, id := range ids {
		entry := database.AttendanceEntry{StudentID: id, Date: date, Status: status, Note: RecognitionNote}
		ok, err := database.InsertAttendanceIfAbsent(ctx, s.ledger, entry)
		if err != nil {
			s.logger.Error("failed to emit attendance", zap.Uint("student_id", id), zap.String("date", date), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if ok {
			created = append(created, entry)
		}
	}

	if len(created) > 0 {
		createdIDs := make([]uint, 0, len(created))
		for _, e := range created {
			createdIDs = append(createdIDs, e.StudentID)
		}
		s.logger.Info("attendance emitted", zap.String("date", date), zap.Int("created", len(created)), zap.Int("requested", len(ids)))
		s.events.Broadcast(realtime.Event{
			Type:   realtime.EventAttendanceMarked,
			Status: string(status),
			Extra:  map[string]interface{}{"date": date, "student_ids": createdIDs},
		})
	}
	return created, errors.Join(errs...)
}

// SetStatus is a manual correction and overwrites any existing entry
func (s *AttendanceService) SetStatus(ctx context.Context, studentID uint, date string, status database.AttendanceStatus, note string, actor *uint) (database.AttendanceEntry, error) {
	if err := s.validateDate(date); err != nil {
		return database.AttendanceEntry{}, err
	}
	if !status.Valid() {
		return database.AttendanceEntry{}, validationErrorf("unknown attendance status %q", status)
	}
	exists, err := s.students.Exists(ctx, studentID)
	if err != nil {
		return database.AttendanceEntry{}, err
	}
	if !exists {
		return database.AttendanceEntry{}, notFoundErrorf("student %d", studentID)
	}

	entry := database.AttendanceEntry{StudentID: studentID, Date: date, Status: status, Note: note, RecordedBy: actor}
	if err := database.UpsertAttendanceStatus(ctx, s.ledger, entry); err != nil {
		return database.AttendanceEntry{}, err
	}
	return s.Get(ctx, studentID, date)
}

func (s *AttendanceService) Get(ctx context.Context, studentID uint, date string) (database.AttendanceEntry, error) {
	entry, err := database.GetAttendance(ctx, s.ledger, studentID, date)
	if errors.Is(err, sql.ErrNoRows) {
		return database.AttendanceEntry{}, notFoundErrorf("attendance for student %d on %s", studentID, date)
	}
	return entry, err
}

func (s *AttendanceService) ListByDate(ctx context.Context, date string) ([]database.AttendanceEntry, error) {
	if err := s.validateDate(date); err != nil {
		return nil, err
	}
	entries, err := database.ListAttendanceByDate(ctx, s.ledger, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	return entries, nil
}

func uniqueSorted(ids []uint) []uint {
	out := append([]uint(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}
