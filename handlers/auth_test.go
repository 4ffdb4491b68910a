package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/permissions"
)

func newTestAuth(t *testing.T, perms ...string) (*AuthHandler, *models.User) {
	t.Helper()
	user := &models.User{ID: 1, Username: "teacher", GlobalPermissions: perms}
	if err := user.SetPassword("correct horse"); err != nil {
		t.Fatal(err)
	}
	return NewAuthHandler(newFakeUserRepo(user), []byte("test-secret"), time.Hour, testLogger()), user
}

func TestLogin(t *testing.T) {
	h, _ := newTestAuth(t)

	rec := httptest.NewRecorder()
	h.Login(rec, jsonRequest(t, http.MethodPost, "/api/auth/login", LoginPayload{Username: "teacher", Password: "correct horse"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp LoginResponse
	decodeBody(t, rec, &resp)
	if resp.Token == "" || resp.User.Username != "teacher" {
		t.Errorf("unexpected response %+v", resp)
	}

	rec = httptest.NewRecorder()
	h.Login(rec, jsonRequest(t, http.MethodPost, "/api/auth/login", LoginPayload{Username: "teacher", Password: "wrong"}))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.Login(rec, jsonRequest(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "teacher"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing password: status %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	h, user := newTestAuth(t, permissions.ReviewView)
	token, _, err := h.issueToken(user.ID)
	if err != nil {
		t.Fatal(err)
	}

	var seen *models.User
	protected := AuthMiddleware(h.UserRepo, h.Secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = currentUser(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + token, http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, r)
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if seen == nil || seen.ID != user.ID {
		t.Errorf("user not stored in context: %+v", seen)
	}

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ws?token="+token, nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("query token on GET: status %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/review/1?token="+token, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("query token on POST: status %d", rec.Code)
	}

	other := NewAuthHandler(h.UserRepo, []byte("other-secret"), time.Hour, testLogger())
	forged, _, err := other.issueToken(user.ID)
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	r.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("token signed with another secret: status %d", rec.Code)
	}
}

func TestRequireGlobalPermission(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name  string
		perms []string
		want  int
	}{
		{"holds permission", []string{permissions.ReviewAdjudicate}, http.StatusNoContent},
		{"admin grants everything", []string{permissions.Admin}, http.StatusNoContent},
		{"other permission", []string{permissions.ReviewView}, http.StatusForbidden},
		{"no permissions", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := withUser(httptest.NewRequest(http.MethodPost, "/api/review/1", nil), &models.User{ID: 2, GlobalPermissions: tt.perms})
			rec := httptest.NewRecorder()
			RequireGlobalPermission(permissions.ReviewAdjudicate)(ok).ServeHTTP(rec, r)
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
		})
	}

	r := withUser(httptest.NewRequest(http.MethodGet, "/api/review", nil), &models.User{ID: 3, GlobalPermissions: []string{permissions.ReviewView}})
	rec := httptest.NewRecorder()
	RequireAnyGlobalPermission(permissions.ReviewAdjudicate, permissions.ReviewView)(ok).ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Errorf("any-of check: status %d", rec.Code)
	}
}
