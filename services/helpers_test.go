package services

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	"io"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/camden-git/attendancebackend/database"
	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/realtime"
	"github.com/camden-git/attendancebackend/repository"
	"go.uber.org/zap"
)

// fakeAnalyzer returns canned faces keyed by image width
type fakeAnalyzer struct {
	mu    sync.Mutex
	faces map[int][]media.DetectedFace
	errs  map[int]error
	calls int
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{faces: map[int][]media.DetectedFace{}, errs: map[int]error{}}
}

func (f *fakeAnalyzer) set(width int, embeddings ...[]float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	faces := make([]media.DetectedFace, 0, len(embeddings))
	for i, e := range embeddings {
		faces = append(faces, media.DetectedFace{
			Box:        image.Rect(i*10, 0, i*10+8, 8),
			Embedding:  e,
			Confidence: 0.99,
		})
	}
	f.faces[width] = faces
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, img image.Image) ([]media.DetectedFace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	w := img.Bounds().Dx()
	if err := f.errs[w]; err != nil {
		return nil, err
	}
	return f.faces[w], nil
}

// fakeMedia decodes an upload into a 1px high image as wide as the payload
type fakeMedia struct {
	mu      sync.Mutex
	n       int
	saved   []string
	deleted []string
}

func (m *fakeMedia) CompressUpload(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "corrupt" {
		return nil, fmt.Errorf("image: unknown format")
	}
	return image.NewGray(image.Rect(0, 0, len(data), 1)), nil
}

func (m *fakeMedia) next(dir, prefix string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	path := fmt.Sprintf("%s/%s_%d.jpg", dir, prefix, m.n)
	m.saved = append(m.saved, path)
	return path
}

func (m *fakeMedia) SaveEnrollmentImage(img image.Image) (string, error) {
	return m.next("enrollments", "enroll"), nil
}

func (m *fakeMedia) SaveFaceCrop(img image.Image, box image.Rectangle, prefix string) (string, error) {
	return m.next("face_crops", prefix), nil
}

func (m *fakeMedia) Delete(relativePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, relativePath)
	return nil
}

func (m *fakeMedia) wasDeleted(path string) bool {
	return m.deleteCount(path) > 0
}

func (m *fakeMedia) deleteCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.deleted {
		if p == path {
			n++
		}
	}
	return n
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (b *recordingBroadcaster) Broadcast(ev realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

func (b *recordingBroadcaster) count(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	store        *repository.Store
	ledger       *sql.DB
	analyzer     *fakeAnalyzer
	media        *fakeMedia
	events       *recordingBroadcaster
	gallery      *GalleryService
	router       *Router
	reviews      *ReviewService
	unrecognized *UnrecognizedService
	attendance   *AttendanceService
	recognition  *RecognitionService
	students     *StudentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	db, err := database.InitGormDB(filepath.Join(dir, "main.db"), logger)
	if err != nil {
		t.Fatalf("InitGormDB: %v", err)
	}
	if err := database.AutoMigrateModels(db); err != nil {
		t.Fatalf("AutoMigrateModels: %v", err)
	}
	ledger, err := database.InitDB(filepath.Join(dir, "ledger.db"), logger)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		ledger.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	env := &testEnv{
		store:    repository.NewStore(db),
		ledger:   ledger,
		analyzer: newFakeAnalyzer(),
		media:    &fakeMedia{},
		events:   &recordingBroadcaster{},
	}
	locks := NewKeyedMutex()
	env.gallery = NewGalleryService(env.store, locks, env.media, env.events, logger)
	env.router, err = NewRouter(Thresholds{Similarity: 0.4, HighConfidence: 0.9}, env.gallery, env.store, env.media, env.events, logger)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	env.reviews = NewReviewService(env.store, env.gallery, locks, env.media, env.events, logger)
	env.unrecognized = NewUnrecognizedService(env.store, env.gallery, locks, env.events, logger)
	env.attendance = NewAttendanceService(ledger, env.store.Students, env.events, logger)
	env.recognition = NewRecognitionService(env.store.Students, env.gallery, env.router, env.attendance, env.analyzer, env.media, 5, logger)
	env.students = NewStudentService(env.store, env.gallery, locks, logger)
	return env
}

func (e *testEnv) createStudent(t *testing.T, roll string) uint {
	t.Helper()
	s, err := e.students.Create(context.Background(), roll, "Student "+roll)
	if err != nil {
		t.Fatalf("create student %s: %v", roll, err)
	}
	return s.ID
}

func (e *testEnv) contribute(t *testing.T, studentID uint, emb []float32) *models.GalleryEntry {
	t.Helper()
	entry, _, err := e.gallery.Contribute(context.Background(), studentID, emb, SampleInput{Source: models.SampleSourceEnrollment})
	if err != nil {
		t.Fatalf("contribute to %d: %v", studentID, err)
	}
	return entry
}

// queueReview routes a mid-confidence match and returns the new item id
func (e *testEnv) queueReview(t *testing.T, suggested uint, emb []float32) uint {
	t.Helper()
	out, err := e.router.Route(context.Background(), image.NewGray(image.Rect(0, 0, 20, 20)),
		media.DetectedFace{Box: image.Rect(0, 0, 10, 10), Embedding: emb},
		MatchResult{StudentID: &suggested, Similarity: 0.6}, nil)
	if err != nil {
		t.Fatalf("route to review: %v", err)
	}
	if out.Route != RouteReview || out.ItemID == 0 {
		t.Fatalf("expected a review item, got %+v", out)
	}
	return out.ItemID
}

func (e *testEnv) queueUnrecognized(t *testing.T, emb []float32) uint {
	t.Helper()
	out, err := e.router.Route(context.Background(), image.NewGray(image.Rect(0, 0, 20, 20)),
		media.DetectedFace{Box: image.Rect(0, 0, 10, 10), Embedding: emb},
		MatchResult{}, nil)
	if err != nil {
		t.Fatalf("route to unrecognized: %v", err)
	}
	if out.Route != RouteUnrecognized || out.ItemID == 0 {
		t.Fatalf("expected an unrecognized item, got %+v", out)
	}
	return out.ItemID
}

func (e *testEnv) entry(t *testing.T, studentID uint) *models.GalleryEntry {
	t.Helper()
	entry, err := e.gallery.Get(context.Background(), studentID)
	if err != nil {
		t.Fatalf("gallery entry for %d: %v", studentID, err)
	}
	return entry
}

func assertVector(t *testing.T, got, want []float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("vector length %d, want %d (%v vs %v)", len(got), len(want), got, want)
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-5 {
			t.Fatalf("vector %v, want %v", got, want)
		}
	}
}

func uintPtr(v uint) *uint { return &v }
