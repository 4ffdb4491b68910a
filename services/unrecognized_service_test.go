package services

import (
	"context"
	"errors"
	"testing"

	"github.com/camden-git/attendancebackend/models"
)

func TestUnrecognizedService_AssignNilIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.queueUnrecognized(t, []float32{1, 0})

	got, err := env.unrecognized.Assign(ctx, item, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.UnrecognizedStatusPending || got.IdentifiedStudentID != nil {
		t.Errorf("nil assignment should leave the item pending, got %+v", got)
	}
}

func TestUnrecognizedService_AssignContributes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s1 := env.createStudent(t, "S1")
	env.contribute(t, s1, []float32{1, 0})
	item := env.queueUnrecognized(t, []float32{0, 1})

	got, err := env.unrecognized.Assign(ctx, item, &s1, uintPtr(7))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.UnrecognizedStatusIdentified || *got.IdentifiedStudentID != s1 || got.SampleID == nil {
		t.Fatalf("unexpected item %+v", got)
	}
	e := env.entry(t, s1)
	if e.SampleCount != 2 {
		t.Errorf("count %d, want 2", e.SampleCount)
	}
	assertVector(t, e.Average(), []float32{0.5, 0.5})

	if _, err := env.unrecognized.Assign(ctx, item, &s1, nil); err != nil {
		t.Errorf("assigning again to the same student should be a no-op, got %v", err)
	}
	if got := env.entry(t, s1).SampleCount; got != 2 {
		t.Errorf("repeat assignment contributed again: count %d", got)
	}

	s2 := env.createStudent(t, "S2")
	if _, err := env.unrecognized.Assign(ctx, item, &s2, nil); !errors.Is(err, ErrConflict) {
		t.Errorf("assigning an identified item elsewhere: expected ErrConflict, got %v", err)
	}

	pending, err := env.unrecognized.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("identified item still listed as pending")
	}
}

func TestUnrecognizedService_Discard(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	s1 := env.createStudent(t, "S1")
	env.contribute(t, s1, []float32{1, 0})

	pending := env.queueUnrecognized(t, []float32{0, 1})
	got, err := env.unrecognized.Discard(ctx, pending, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.UnrecognizedStatusDiscarded {
		t.Errorf("status %s, want discarded", got.Status)
	}
	if _, err := env.unrecognized.Assign(ctx, pending, &s1, nil); !errors.Is(err, ErrConflict) {
		t.Errorf("assigning a discarded item: expected ErrConflict, got %v", err)
	}
	if _, err := env.unrecognized.Discard(ctx, pending, nil); err != nil {
		t.Errorf("discarding twice should be a no-op, got %v", err)
	}

	identified := env.queueUnrecognized(t, []float32{0, 1})
	assigned, err := env.unrecognized.Assign(ctx, identified, &s1, nil)
	if err != nil {
		t.Fatal(err)
	}
	sample, err := env.store.Gallery.GetSample(ctx, *assigned.SampleID)
	if err != nil {
		t.Fatal(err)
	}
	if sample.ImagePath == "" || sample.ImagePath != assigned.ImagePath {
		t.Errorf("sample image %q, want the item crop %q", sample.ImagePath, assigned.ImagePath)
	}
	if _, err := env.unrecognized.Discard(ctx, identified, nil); err != nil {
		t.Fatal(err)
	}
	if n := env.media.deleteCount(assigned.ImagePath); n != 1 {
		t.Errorf("crop deleted %d times, want once", n)
	}
	e := env.entry(t, s1)
	if e.SampleCount != 1 {
		t.Errorf("discarded item still contributes: count %d", e.SampleCount)
	}
	assertVector(t, e.Average(), []float32{1, 0})
}

func TestUnrecognizedService_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.queueUnrecognized(t, []float32{1, 0})

	if _, err := env.unrecognized.Assign(ctx, 999, uintPtr(1), nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown item: expected ErrNotFound, got %v", err)
	}
	if _, err := env.unrecognized.Assign(ctx, item, uintPtr(999), nil); !errors.Is(err, ErrValidation) {
		t.Errorf("unknown student: expected ErrValidation, got %v", err)
	}
	if _, err := env.unrecognized.Discard(ctx, 999, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("discard unknown item: expected ErrNotFound, got %v", err)
	}
}
