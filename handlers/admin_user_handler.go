package handlers

import (
	"errors"
	"net/http"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type AdminUserHandler struct {
	UserRepo repository.UserRepository
	Logger   *zap.Logger
}

func NewAdminUserHandler(userRepo repository.UserRepository, logger *zap.Logger) *AdminUserHandler {
	return &AdminUserHandler{UserRepo: userRepo, Logger: logger.Named("admin-users")}
}

type UserCreatePayload struct {
	Username          string   `json:"username" validate:"required,min=3,max=64"`
	Password          string   `json:"password" validate:"required,min=8"`
	GlobalPermissions []string `json:"global_permissions" validate:"dive,permission"`
}

type UserPermissionsPayload struct {
	GlobalPermissions []string `json:"global_permissions" validate:"required,dive,permission"`
}

// ListUsers handles GET /api/admin/users
func (h *AdminUserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.UserRepo.ListAll(r.Context())
	if err != nil {
		h.Logger.Error("failed to list users", zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// GetUser handles GET /api/admin/users/{id}
func (h *AdminUserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uintParam(r, "id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	user, err := h.UserRepo.GetByID(r.Context(), userID)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// CreateUser handles POST /api/admin/users
func (h *AdminUserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var payload UserCreatePayload
	if err := decodeJSON(r, &payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	user := &models.User{
		Username:          payload.Username,
		GlobalPermissions: payload.GlobalPermissions,
	}
	if user.GlobalPermissions == nil {
		user.GlobalPermissions = []string{}
	}
	if err := user.SetPassword(payload.Password); err != nil {
		h.Logger.Error("failed to hash password", zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to create user")
		return
	}

	if err := h.UserRepo.Create(r.Context(), user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			WriteAPIError(w, http.StatusConflict, "username_taken", "Username already exists")
			return
		}
		h.Logger.Error("failed to create user", zap.String("username", payload.Username), zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to create user")
		return
	}

	h.Logger.Info("user created", zap.Uint("user_id", user.ID), zap.Strings("permissions", user.GlobalPermissions))
	writeJSON(w, http.StatusCreated, user)
}

// SetPermissions handles PUT /api/admin/users/{id}/permissions. The list
// replaces the user's global permissions.
func (h *AdminUserHandler) SetPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := uintParam(r, "id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}

	var payload UserPermissionsPayload
	if err := decodeJSON(r, &payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	if err := h.UserRepo.SetUserGlobalPermissions(r.Context(), userID, payload.GlobalPermissions); err != nil {
		h.writeRepoError(w, err)
		return
	}

	user, err := h.UserRepo.GetByID(r.Context(), userID)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /api/admin/users/{id}. Operators cannot delete
// themselves.
func (h *AdminUserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uintParam(r, "id")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	if self := actorID(r); self != nil && *self == userID {
		WriteAPIError(w, http.StatusBadRequest, "invalid_id", "cannot delete the current user")
		return
	}

	if err := h.UserRepo.Delete(r.Context(), userID); err != nil {
		h.writeRepoError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminUserHandler) writeRepoError(w http.ResponseWriter, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		WriteAPIError(w, http.StatusNotFound, "not_found", "User not found")
		return
	}
	h.Logger.Error("user repository error", zap.Error(err))
	WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to access users")
}
