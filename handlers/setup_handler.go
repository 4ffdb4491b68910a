package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/permissions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errSetupDone = errors.New("setup already completed")

type SetupHandler struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

func NewSetupHandler(db *gorm.DB, logger *zap.Logger) *SetupHandler {
	return &SetupHandler{DB: db, Logger: logger.Named("setup")}
}

type FirstAdminPayload struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8"`
}

// CreateFirstAdmin creates the initial administrator. Only usable while no
// users exist.
func (h *SetupHandler) CreateFirstAdmin(w http.ResponseWriter, r *http.Request) {
	var payload FirstAdminPayload
	if err := decodeJSON(r, &payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	var adminUser *models.User
	txErr := h.DB.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count existing users: %w", err)
		}
		if count > 0 {
			return errSetupDone
		}

		adminUser = &models.User{
			Username:          payload.Username,
			GlobalPermissions: []string{permissions.Admin},
		}
		if err := adminUser.SetPassword(payload.Password); err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		if err := tx.Create(adminUser).Error; err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}
		return nil
	})

	if txErr != nil {
		if errors.Is(txErr, errSetupDone) {
			WriteAPIError(w, http.StatusForbidden, "setup_completed", "Setup has already been completed.")
			return
		}
		h.Logger.Error("failed to create first admin", zap.Error(txErr))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to create first admin user")
		return
	}

	h.Logger.Info("created initial admin user", zap.String("username", adminUser.Username))
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Initial admin user created successfully. Please log in."})
}
