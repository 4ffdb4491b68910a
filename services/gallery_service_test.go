package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/realtime"
)

func TestGalleryService_IncrementalMeanIsOrderIndependent(t *testing.T) {
	env := newTestEnv(t)
	a := env.createStudent(t, "A1")
	b := env.createStudent(t, "A2")

	vecs := [][]float32{{1, 0, 0}, {0, 2, 0}, {0, 0, 3}, {1, 1, 1}}
	for _, v := range vecs {
		env.contribute(t, a, v)
	}
	for i := len(vecs) - 1; i >= 0; i-- {
		env.contribute(t, b, vecs[i])
	}

	want := []float32{0.5, 0.75, 1}
	ea, eb := env.entry(t, a), env.entry(t, b)
	assertVector(t, ea.Average(), want)
	assertVector(t, eb.Average(), want)
	if ea.SampleCount != 4 || eb.SampleCount != 4 {
		t.Errorf("sample counts %d and %d, want 4", ea.SampleCount, eb.SampleCount)
	}
	if ea.Version != 4 {
		t.Errorf("version %d, want 4 after one create and three updates", ea.Version)
	}

	samples, err := env.gallery.ListSamples(context.Background(), a)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 4 {
		t.Errorf("retained %d samples, want 4", len(samples))
	}
}

func TestGalleryService_ContributeValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.createStudent(t, "A1")

	if _, _, err := env.gallery.Contribute(ctx, 404, []float32{1, 0}, SampleInput{Source: models.SampleSourceEnrollment}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown student: expected ErrNotFound, got %v", err)
	}
	if _, _, err := env.gallery.Contribute(ctx, a, nil, SampleInput{Source: models.SampleSourceEnrollment}); !errors.Is(err, ErrValidation) {
		t.Errorf("empty embedding: expected ErrValidation, got %v", err)
	}

	env.contribute(t, a, []float32{1, 0})
	if _, _, err := env.gallery.Contribute(ctx, a, []float32{1, 0, 0}, SampleInput{Source: models.SampleSourceEnrollment}); !errors.Is(err, ErrValidation) {
		t.Errorf("dimension mismatch: expected ErrValidation, got %v", err)
	}
	if got := env.entry(t, a).SampleCount; got != 1 {
		t.Errorf("failed contribution changed the count to %d", got)
	}
}

func TestGalleryService_RecomputeFromSamples(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.createStudent(t, "A1")
	env.contribute(t, a, []float32{9, 9})

	entry, err := env.gallery.RecomputeFromSamples(ctx, a, [][]float32{{1, 0}, {0, 1}, {2, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if entry.SampleCount != 3 {
		t.Errorf("count %d, want 3", entry.SampleCount)
	}
	assertVector(t, env.entry(t, a).Average(), []float32{1, 1})

	entry, err = env.gallery.RecomputeFromSamples(ctx, a, nil)
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Errorf("empty recompute should return no entry, got %+v", entry)
	}
	if _, err := env.gallery.Get(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Errorf("entry should be deleted, got %v", err)
	}

	// recomputing a student without an entry creates one
	b := env.createStudent(t, "A2")
	if _, err := env.gallery.RecomputeFromSamples(ctx, b, [][]float32{{0, 4}}); err != nil {
		t.Fatal(err)
	}
	assertVector(t, env.entry(t, b).Average(), []float32{0, 4})
}

func TestGalleryService_RemoveSampleRebuilds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.createStudent(t, "A1")

	path, err := env.media.SaveEnrollmentImage(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, first, err := env.gallery.Contribute(ctx, a, []float32{4, 0}, SampleInput{Source: models.SampleSourceEnrollment, ImagePath: path})
	if err != nil {
		t.Fatal(err)
	}
	env.contribute(t, a, []float32{0, 2})

	entry, err := env.gallery.RemoveSample(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.SampleCount != 1 {
		t.Errorf("count %d after removal, want 1", entry.SampleCount)
	}
	assertVector(t, entry.Average(), []float32{0, 2})
	if !env.media.wasDeleted(path) {
		t.Error("stored enrollment image should be deleted")
	}

	if _, err := env.gallery.RemoveSample(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second removal: expected ErrNotFound, got %v", err)
	}

	samples, _ := env.gallery.ListSamples(ctx, a)
	if _, err := env.gallery.RemoveSample(ctx, samples[0].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.gallery.Get(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Errorf("removing the last sample should delete the entry, got %v", err)
	}
}

func TestGalleryService_RemoveSampleRejectsQueueSamples(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.createStudent(t, "A1")
	b := env.createStudent(t, "A2")
	env.contribute(t, b, []float32{1, 0})

	item := env.queueReview(t, b, []float32{0, 1})
	confirmed, err := env.reviews.Confirm(ctx, item, &a, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.gallery.RemoveSample(ctx, *confirmed.SampleID); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for a review-owned sample, got %v", err)
	}
}

func TestGalleryService_ConcurrentContributions(t *testing.T) {
	env := newTestEnv(t)
	a := env.createStudent(t, "A1")
	b := env.createStudent(t, "A2")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for _, id := range []uint{a, b} {
			wg.Add(1)
			go func(id uint) {
				defer wg.Done()
				_, _, err := env.gallery.Contribute(context.Background(), id, []float32{1, 1}, SampleInput{Source: models.SampleSourceAutoAccept})
				errs <- err
			}(id)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent contribute: %v", err)
		}
	}
	if got := env.entry(t, a).SampleCount; got != 10 {
		t.Errorf("student A count %d, want 10", got)
	}
	if got := env.entry(t, b).SampleCount; got != 10 {
		t.Errorf("student B count %d, want 10", got)
	}
}

func TestGalleryService_RebuildAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.createStudent(t, "A1")
	b := env.createStudent(t, "A2")
	env.contribute(t, a, []float32{1, 0})
	env.contribute(t, a, []float32{0, 1})
	env.contribute(t, b, []float32{2, 2})

	// corrupt the cached average, rebuild must restore it from samples
	stale := env.entry(t, a)
	stale.SetAverage([]float32{7, 7})
	if err := env.store.Gallery.UpdateEntry(ctx, stale, stale.Version); err != nil {
		t.Fatal(err)
	}

	var calls int
	n, err := env.gallery.RebuildAll(ctx, func(done, total int) {
		calls++
		if total != 2 {
			t.Errorf("total %d, want 2", total)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 || calls != 2 {
		t.Errorf("rebuilt %d students with %d progress calls, want 2 and 2", n, calls)
	}
	assertVector(t, env.entry(t, a).Average(), []float32{0.5, 0.5})
	if env.events.count(realtime.EventGalleryUpdated) == 0 {
		t.Error("expected gallery.updated events")
	}
}
