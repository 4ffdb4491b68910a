package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/services"
	"go.uber.org/zap"
)

type fakeEnroller struct {
	mu      sync.Mutex
	order   map[uint][]string
	counts  map[uint]int
	release chan struct{}
}

func newFakeEnroller() *fakeEnroller {
	return &fakeEnroller{order: map[uint][]string{}, counts: map[uint]int{}}
}

func (f *fakeEnroller) Enroll(ctx context.Context, studentID uint, r io.Reader) (*services.EnrollResult, error) {
	if f.release != nil {
		<-f.release
	}
	data, _ := io.ReadAll(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	if string(data) == "noface" {
		return nil, fmt.Errorf("%w (found 0)", services.ErrDegenerateInput)
	}
	f.order[studentID] = append(f.order[studentID], string(data))
	f.counts[studentID]++
	return &services.EnrollResult{
		Sample: &models.FaceSample{ID: uint(len(f.order[studentID])), StudentID: studentID},
		Entry:  &models.GalleryEntry{StudentID: studentID, SampleCount: f.counts[studentID]},
	}, nil
}

func images(names ...string) []EnrollImage {
	out := make([]EnrollImage, 0, len(names))
	for _, n := range names {
		out = append(out, EnrollImage{Name: n + ".jpg", Data: []byte(n)})
	}
	return out
}

func TestEnrollBatch_GroupsByStudentAndIsolatesFailures(t *testing.T) {
	enroller := newFakeEnroller()
	proc := NewEnrollmentProcessor(enroller, 10, 3, zap.NewNop())
	defer proc.Stop()

	outcomes := proc.EnrollBatch(context.Background(), []EnrollRequest{
		{StudentID: 2, Images: images("b1", "noface")},
		{StudentID: 1, Images: images("a1")},
		{StudentID: 2, Images: images("b2")},
	})

	if len(outcomes) != 4 {
		t.Fatalf("got %d outcomes, want 4", len(outcomes))
	}
	if outcomes[0].StudentID != 1 || outcomes[0].Error != "" {
		t.Errorf("student 1 outcome %+v", outcomes[0])
	}
	if outcomes[2].Image != "noface.jpg" || !errors.Is(outcomes[2].Err, services.ErrDegenerateInput) {
		t.Errorf("expected the faceless photo to fail alone, got %+v", outcomes[2])
	}
	if outcomes[3].Error != "" || outcomes[3].SampleCount != 2 {
		t.Errorf("photo after a failure should still enroll, got %+v", outcomes[3])
	}

	got := enroller.order[2]
	if len(got) != 2 || got[0] != "b1" || got[1] != "b2" {
		t.Errorf("student 2 photos applied as %v, want request order", got)
	}

	proc.Mutex.Lock()
	pending := len(proc.Pending)
	proc.Mutex.Unlock()
	if pending != 0 {
		t.Errorf("%d students still marked pending", pending)
	}
}

func TestQueueJob_DedupesPendingStudent(t *testing.T) {
	enroller := newFakeEnroller()
	enroller.release = make(chan struct{})
	proc := NewEnrollmentProcessor(enroller, 10, 1, zap.NewNop())
	defer proc.Stop()

	first := EnrollJob{Ctx: context.Background(), StudentID: 5, Images: images("x"), Result: make(chan []ImageOutcome, 1)}
	if !proc.QueueJob(first) {
		t.Fatal("first job should be queued")
	}
	second := EnrollJob{Ctx: context.Background(), StudentID: 5, Images: images("y"), Result: make(chan []ImageOutcome, 1)}
	if proc.QueueJob(second) {
		t.Error("a second job for a pending student should be rejected")
	}

	close(enroller.release)
	select {
	case out := <-first.Result:
		if len(out) != 1 || out[0].Error != "" {
			t.Errorf("unexpected outcome %+v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never finished")
	}

	// once finished the student can be queued again
	deadline := time.Now().Add(time.Second)
	for {
		third := EnrollJob{Ctx: context.Background(), StudentID: 5, Images: images("z"), Result: make(chan []ImageOutcome, 1)}
		if proc.QueueJob(third) {
			<-third.Result
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("student stayed pending after the job finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnrollBatch_CancelledContext(t *testing.T) {
	proc := NewEnrollmentProcessor(newFakeEnroller(), 10, 2, zap.NewNop())
	defer proc.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes := proc.EnrollBatch(ctx, []EnrollRequest{{StudentID: 1, Images: images("a")}})
	if len(outcomes) != 1 || !errors.Is(outcomes[0].Err, context.Canceled) {
		t.Errorf("expected a cancellation error, got %+v", outcomes)
	}
}
