package handlers

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/camden-git/attendancebackend/database"
	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/permissions"
)

func TestCreateUser_ValidatesPermissions(t *testing.T) {
	repo := newFakeUserRepo()
	h := NewAdminUserHandler(repo, testLogger())

	rec := httptest.NewRecorder()
	h.CreateUser(rec, jsonRequest(t, http.MethodPost, "/api/admin/users", UserCreatePayload{
		Username: "reviewer", Password: "longenough", GlobalPermissions: []string{permissions.ReviewView, permissions.ReviewAdjudicate},
	}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var created models.User
	decodeBody(t, rec, &created)
	if created.ID == 0 || !created.HasGlobalPermission(permissions.ReviewAdjudicate) {
		t.Errorf("unexpected user %+v", created)
	}

	rec = httptest.NewRecorder()
	h.CreateUser(rec, jsonRequest(t, http.MethodPost, "/api/admin/users", UserCreatePayload{
		Username: "other", Password: "longenough", GlobalPermissions: []string{"album.upload"},
	}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown permission: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.CreateUser(rec, jsonRequest(t, http.MethodPost, "/api/admin/users", UserCreatePayload{Username: "reviewer", Password: "longenough"}))
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate username: status %d", rec.Code)
	}
}

func TestSetPermissionsAndDelete(t *testing.T) {
	admin := &models.User{ID: 1, Username: "admin", GlobalPermissions: []string{permissions.Admin}}
	teacher := &models.User{ID: 2, Username: "teacher"}
	h := NewAdminUserHandler(newFakeUserRepo(admin, teacher), testLogger())

	r := jsonRequest(t, http.MethodPut, "/api/admin/users/2/permissions", UserPermissionsPayload{GlobalPermissions: []string{permissions.AttendanceMark}})
	rec := httptest.NewRecorder()
	h.SetPermissions(rec, withURLParams(r, map[string]string{"id": "2"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if !teacher.HasGlobalPermission(permissions.AttendanceMark) {
		t.Error("permission not applied")
	}

	r = withUser(withURLParams(httptest.NewRequest(http.MethodDelete, "/api/admin/users/1", nil), map[string]string{"id": "1"}), admin)
	rec = httptest.NewRecorder()
	h.DeleteUser(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("self delete: status %d", rec.Code)
	}

	r = withUser(withURLParams(httptest.NewRequest(http.MethodDelete, "/api/admin/users/2", nil), map[string]string{"id": "2"}), admin)
	rec = httptest.NewRecorder()
	h.DeleteUser(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: status %d", rec.Code)
	}

	r = withUser(withURLParams(httptest.NewRequest(http.MethodDelete, "/api/admin/users/2", nil), map[string]string{"id": "2"}), admin)
	rec = httptest.NewRecorder()
	h.DeleteUser(rec, r)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d", rec.Code)
	}
}

func TestCreateFirstAdmin(t *testing.T) {
	db, err := database.InitGormDB(filepath.Join(t.TempDir(), "main.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := database.AutoMigrateModels(db); err != nil {
		t.Fatal(err)
	}
	h := NewSetupHandler(db, testLogger())

	rec := httptest.NewRecorder()
	h.CreateFirstAdmin(rec, jsonRequest(t, http.MethodPost, "/api/setup/create-admin", FirstAdminPayload{Username: "root", Password: "password123"}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var user models.User
	if err := db.Where("username = ?", "root").First(&user).Error; err != nil {
		t.Fatal(err)
	}
	if !user.HasGlobalPermission(permissions.StudentsManage) || !user.CheckPassword("password123") {
		t.Errorf("first admin not set up correctly: %+v", user)
	}

	rec = httptest.NewRecorder()
	h.CreateFirstAdmin(rec, jsonRequest(t, http.MethodPost, "/api/setup/create-admin", FirstAdminPayload{Username: "second", Password: "password123"}))
	if rec.Code != http.StatusForbidden {
		t.Errorf("second setup: status %d", rec.Code)
	}
}
