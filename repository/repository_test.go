package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/camden-git/attendancebackend/database"
	"github.com/camden-git/attendancebackend/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.InitGormDB(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("InitGormDB: %v", err)
	}
	if err := database.AutoMigrateModels(db); err != nil {
		t.Fatalf("AutoMigrateModels: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewStore(db)
}

func TestStudentRepository_NaturalOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, roll := range []string{"A10", "A2", "A1"} {
		if err := store.Students.Create(ctx, &models.Student{RollNumber: roll, FullName: "Student " + roll}); err != nil {
			t.Fatalf("Create %s: %v", roll, err)
		}
	}

	students, err := store.Students.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{students[0].RollNumber, students[1].RollNumber, students[2].RollNumber}
	want := []string{"A1", "A2", "A10"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}

	err = store.Students.Create(ctx, &models.Student{RollNumber: "A1", FullName: "dup"})
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("expected ErrDuplicatedKey, got %v", err)
	}

	if _, err := store.Students.GetByID(ctx, 999); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestGalleryRepository_VersionedUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &models.GalleryEntry{StudentID: 1, SampleCount: 1}
	entry.SetAverage([]float32{1, 0})
	if err := store.Gallery.CreateEntry(ctx, entry); err != nil {
		t.Fatal(err)
	}
	if err := store.Gallery.CreateEntry(ctx, &models.GalleryEntry{StudentID: 1, SampleCount: 1}); !errors.Is(err, ErrStaleWrite) {
		t.Errorf("duplicate create: expected ErrStaleWrite, got %v", err)
	}

	entry.SampleCount = 2
	if err := store.Gallery.UpdateEntry(ctx, entry, 1); err != nil {
		t.Fatal(err)
	}
	if entry.Version != 2 {
		t.Errorf("version = %d, want 2", entry.Version)
	}

	// a writer still holding version 1 loses
	if err := store.Gallery.UpdateEntry(ctx, entry, 1); !errors.Is(err, ErrStaleWrite) {
		t.Errorf("stale update: expected ErrStaleWrite, got %v", err)
	}

	got, err := store.Gallery.GetEntry(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.SampleCount != 2 || got.Version != 2 {
		t.Errorf("unexpected entry %+v", got)
	}
}

func TestGalleryRepository_Samples(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s1 := &models.FaceSample{StudentID: 1, Source: models.SampleSourceEnrollment}
	s1.SetEmbedding([]float32{1, 0})
	s2 := &models.FaceSample{StudentID: 1, Source: models.SampleSourceAutoAccept}
	s2.SetEmbedding([]float32{0, 1})
	for _, s := range []*models.FaceSample{s1, s2} {
		if err := store.Gallery.CreateSample(ctx, s); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.Gallery.MoveSample(ctx, s2.ID, 2); err != nil {
		t.Fatal(err)
	}
	samples, err := store.Gallery.ListSamples(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 1 || samples[0].ID != s1.ID {
		t.Errorf("student 1 samples = %+v", samples)
	}

	ids, err := store.Gallery.ListSampledStudentIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Errorf("sampled students = %v, want two", ids)
	}

	removed, err := store.Gallery.DeleteSamplesByStudent(ctx, 2)
	if err != nil || len(removed) != 1 {
		t.Fatalf("DeleteSamplesByStudent: removed=%d err=%v", len(removed), err)
	}
	if err := store.Gallery.DeleteSample(ctx, s2.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound deleting removed sample, got %v", err)
	}
}

func TestReviewRepository_ConditionalTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := &models.ReviewItem{Similarity: 0.5}
	item.SetEmbedding([]float32{1, 2, 3})
	if err := store.Reviews.Create(ctx, item); err != nil {
		t.Fatal(err)
	}
	if item.Status != models.ReviewStatusPending {
		t.Fatalf("status = %s, want pending", item.Status)
	}

	student := uint(4)
	upd := ReviewUpdate{Status: models.ReviewStatusConfirmed, ConfirmedStudentID: &student}
	if err := store.Reviews.Transition(ctx, item.ID, models.ReviewStatusPending, upd); err != nil {
		t.Fatal(err)
	}
	// second adjudicator still believes the item is pending
	if err := store.Reviews.Transition(ctx, item.ID, models.ReviewStatusPending, upd); !errors.Is(err, ErrStaleWrite) {
		t.Errorf("expected ErrStaleWrite, got %v", err)
	}

	pending, err := store.Reviews.List(ctx, models.ReviewStatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending items, got %d", len(pending))
	}

	got, err := store.Reviews.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ConfirmedStudentID == nil || *got.ConfirmedStudentID != student {
		t.Errorf("confirmed student not stored: %+v", got)
	}
	if len(got.Embedding()) != 3 {
		t.Errorf("embedding not persisted")
	}
}

func TestUnrecognizedRepository_Transition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := &models.UnrecognizedItem{}
	item.SetEmbedding([]float32{0.1})
	if err := store.Unrecognized.Create(ctx, item); err != nil {
		t.Fatal(err)
	}
	err := store.Unrecognized.Transition(ctx, item.ID, models.UnrecognizedStatusPending, UnrecognizedUpdate{Status: models.UnrecognizedStatusDiscarded})
	if err != nil {
		t.Fatal(err)
	}
	err = store.Unrecognized.Transition(ctx, item.ID, models.UnrecognizedStatusPending, UnrecognizedUpdate{Status: models.UnrecognizedStatusDiscarded})
	if !errors.Is(err, ErrStaleWrite) {
		t.Errorf("expected ErrStaleWrite, got %v", err)
	}
}

func TestStore_TransactionRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.Transaction(ctx, func(tx *Store) error {
		if err := tx.Students.Create(ctx, &models.Student{RollNumber: "R1", FullName: "Rolled Back"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := store.Students.GetByRollNumber(ctx, "R1"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("student should have been rolled back, got %v", err)
	}
}

func TestUserRepository(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := &models.User{Username: "teacher", GlobalPermissions: []string{"attendance.mark"}}
	if err := u.SetPassword("pw"); err != nil {
		t.Fatal(err)
	}
	if err := store.Users.Create(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := store.Users.SetUserGlobalPermissions(ctx, u.ID, []string{"review.adjudicate"}); err != nil {
		t.Fatal(err)
	}
	got, err := store.Users.GetByUsername(ctx, "teacher")
	if err != nil {
		t.Fatal(err)
	}
	if !got.HasGlobalPermission("review.adjudicate") || got.HasGlobalPermission("attendance.mark") {
		t.Errorf("permissions = %v", got.GlobalPermissions)
	}
}
