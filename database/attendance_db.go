package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// AttendanceStatus is the ledger status of a student on a date
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceLate    AttendanceStatus = "late"
	AttendanceAbsent  AttendanceStatus = "absent"
	AttendanceLeave   AttendanceStatus = "leave"
)

func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendancePresent, AttendanceLate, AttendanceAbsent, AttendanceLeave:
		return true
	}
	return false
}

// DateLayout is the format of AttendanceEntry.Date
const DateLayout = "2006-01-02"

// AttendanceEntry is one row of the attendance ledger, unique per (student, date)
type AttendanceEntry struct {
	ID         int64            `json:"id"`
	StudentID  uint             `json:"student_id"`
	Date       string           `json:"date"`
	Status     AttendanceStatus `json:"status"`
	Note       string           `json:"note"`
	RecordedBy *uint            `json:"recorded_by"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

var attendanceColumns = []string{"id", "student_id", "date", "status", "note", "recorded_by", "created_at", "updated_at"}

func scanAttendance(row interface{ Scan(...interface{}) error }) (AttendanceEntry, error) {
	var (
		e          AttendanceEntry
		recordedBy sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.StudentID, &e.Date, &e.Status, &e.Note, &recordedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return AttendanceEntry{}, err
	}
	if recordedBy.Valid {
		v := uint(recordedBy.Int64)
		e.RecordedBy = &v
	}
	return e, nil
}

// InsertAttendanceIfAbsent creates the entry for (StudentID, Date) unless one
// already exists. An existing entry is never modified. Returns true when a
// row was created.
func InsertAttendanceIfAbsent(ctx context.Context, db Querier, entry AttendanceEntry) (bool, error) {
	now := time.Now().Unix()
	queryBuilder := psql.Insert("attendance_entries").
		Columns("student_id", "date", "status", "note", "recorded_by", "created_at", "updated_at").
		Values(entry.StudentID, entry.Date, entry.Status, entry.Note, entry.RecordedBy, now, now).
		Suffix("ON CONFLICT(student_id, date) DO NOTHING")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build SQL query for InsertAttendanceIfAbsent: %w", err)
	}

	result, err := db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert attendance for student %d on %s: %w", entry.StudentID, entry.Date, err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

// UpsertAttendanceStatus writes a manual correction, overwriting any existing entry
func UpsertAttendanceStatus(ctx context.Context, db Querier, entry AttendanceEntry) error {
	now := time.Now().Unix()
	queryBuilder := psql.Insert("attendance_entries").
		Columns("student_id", "date", "status", "note", "recorded_by", "created_at", "updated_at").
		Values(entry.StudentID, entry.Date, entry.Status, entry.Note, entry.RecordedBy, now, now).
		Suffix("ON CONFLICT(student_id, date) DO UPDATE SET").
		Suffix("status = excluded.status,").
		Suffix("note = excluded.note,").
		Suffix("recorded_by = excluded.recorded_by,").
		Suffix("updated_at = excluded.updated_at")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL query for UpsertAttendanceStatus: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to set attendance for student %d on %s: %w", entry.StudentID, entry.Date, err)
	}
	return nil
}

// GetAttendance returns sql.ErrNoRows when no entry exists
func GetAttendance(ctx context.Context, db Querier, studentID uint, date string) (AttendanceEntry, error) {
	sqlStr, args, err := psql.Select(attendanceColumns...).
		From("attendance_entries").
		Where(sq.Eq{"student_id": studentID, "date": date}).
		ToSql()
	if err != nil {
		return AttendanceEntry{}, fmt.Errorf("failed to build SQL query for GetAttendance: %w", err)
	}

	entry, err := scanAttendance(db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AttendanceEntry{}, sql.ErrNoRows
		}
		return AttendanceEntry{}, fmt.Errorf("failed to query attendance for student %d on %s: %w", studentID, date, err)
	}
	return entry, nil
}

// ListAttendanceByDate returns every entry for the date ordered by student id
func ListAttendanceByDate(ctx context.Context, db Querier, date string) ([]AttendanceEntry, error) {
	sqlStr, args, err := psql.Select(attendanceColumns...).
		From("attendance_entries").
		Where(sq.Eq{"date": date}).
		OrderBy("student_id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for ListAttendanceByDate: %w", err)
	}

	rows, err := db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance for %s: %w", date, err)
	}
	defer rows.Close()

	entries := []AttendanceEntry{}
	for rows.Next() {
		entry, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance rows: %w", err)
	}
	return entries, nil
}
