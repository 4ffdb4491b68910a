package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func openTestLedger(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "ledger.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertAttendanceIfAbsent_FirstWriterWins(t *testing.T) {
	db := openTestLedger(t)
	ctx := context.Background()

	entry := AttendanceEntry{StudentID: 7, Date: "2024-03-01", Status: AttendancePresent, Note: "first"}
	created, err := InsertAttendanceIfAbsent(ctx, db, entry)
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}

	entry.Status = AttendanceLate
	entry.Note = "second"
	created, err = InsertAttendanceIfAbsent(ctx, db, entry)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if created {
		t.Error("second insert for the same key should be a no-op")
	}

	got, err := GetAttendance(ctx, db, 7, "2024-03-01")
	if err != nil {
		t.Fatalf("GetAttendance: %v", err)
	}
	if got.Status != AttendancePresent || got.Note != "first" {
		t.Errorf("entry was overwritten: %+v", got)
	}

	entries, err := ListAttendanceByDate(ctx, db, "2024-03-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one entry, got %d", len(entries))
	}
}

func TestInsertAttendanceIfAbsent_Concurrent(t *testing.T) {
	db := openTestLedger(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := InsertAttendanceIfAbsent(ctx, db, AttendanceEntry{StudentID: 1, Date: "2024-03-02", Status: AttendancePresent})
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
}

func TestUpsertAttendanceStatus_Overwrites(t *testing.T) {
	db := openTestLedger(t)
	ctx := context.Background()

	if _, err := InsertAttendanceIfAbsent(ctx, db, AttendanceEntry{StudentID: 3, Date: "2024-03-03", Status: AttendancePresent}); err != nil {
		t.Fatal(err)
	}
	operator := uint(42)
	if err := UpsertAttendanceStatus(ctx, db, AttendanceEntry{StudentID: 3, Date: "2024-03-03", Status: AttendanceLeave, Note: "sick", RecordedBy: &operator}); err != nil {
		t.Fatal(err)
	}

	got, err := GetAttendance(ctx, db, 3, "2024-03-03")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != AttendanceLeave || got.RecordedBy == nil || *got.RecordedBy != operator {
		t.Errorf("unexpected entry after correction: %+v", got)
	}

	// a later recognition pass must not undo the correction
	if created, _ := InsertAttendanceIfAbsent(ctx, db, AttendanceEntry{StudentID: 3, Date: "2024-03-03", Status: AttendancePresent}); created {
		t.Error("emission overwrote a corrected entry")
	}
}

func TestGetAttendance_NotFound(t *testing.T) {
	db := openTestLedger(t)
	_, err := GetAttendance(context.Background(), db, 99, "2024-01-01")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}
