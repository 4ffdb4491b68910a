package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestAssetServer(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "face_crops"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "face_crops", "review_1.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "secret.txt"), []byte("no"), 0o644); err != nil {
		t.Fatal(err)
	}

	serve, err := AssetServer(base, "face_crops", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	r.Get("/api/crops/*", serve)

	tests := []struct {
		path string
		want int
	}{
		{"/api/crops/review_1.jpg", http.StatusOK},
		{"/api/crops/missing.jpg", http.StatusNotFound},
		{"/api/crops/..%2Fsecret.txt", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s: status %d, want %d", tt.path, rec.Code, tt.want)
		}
	}

	if _, err := AssetServer(base, "../elsewhere", testLogger()); err == nil {
		t.Error("subdirectory outside the media root should be rejected")
	}
}
