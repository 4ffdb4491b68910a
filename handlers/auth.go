package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/repository"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const tokenIssuer = "attendancebackend"

type AuthHandler struct {
	UserRepo   repository.UserRepository
	Secret     []byte
	Expiration time.Duration
	Logger     *zap.Logger
}

func NewAuthHandler(userRepo repository.UserRepository, secret []byte, expiration time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{UserRepo: userRepo, Secret: secret, Expiration: expiration, Logger: logger.Named("auth")}
}

type LoginPayload struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string      `json:"token"`
	User      models.User `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload LoginPayload
	if err := decodeJSON(r, &payload); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	user, err := h.UserRepo.GetByUsername(r.Context(), payload.Username)
	if err != nil || !user.CheckPassword(payload.Password) {
		WriteAPIError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid username or password")
		return
	}

	tokenString, expiresAt, err := h.issueToken(user.ID)
	if err != nil {
		h.Logger.Error("failed to sign token", zap.Uint("user_id", user.ID), zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "token_error", "Failed to generate token")
		return
	}

	h.Logger.Info("user logged in", zap.String("username", user.Username))
	writeJSON(w, http.StatusOK, LoginResponse{Token: tokenString, User: *user, ExpiresAt: expiresAt})
}

// issueToken signs an HS256 token whose subject is the user id
func (h *AuthHandler) issueToken(userID uint) (string, time.Time, error) {
	now := time.Now()
	expirationTime := now.Add(h.Expiration)
	claims := &jwt.RegisteredClaims{
		Subject:   fmt.Sprint(userID),
		ExpiresAt: jwt.NewNumericDate(expirationTime),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    tokenIssuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(h.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expirationTime, nil
}

// CurrentUser returns the authenticated user. Must run behind AuthMiddleware.
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if user == nil {
		WriteAPIError(w, http.StatusInternalServerError, "missing_user", "Could not retrieve user from context")
		return
	}
	writeJSON(w, http.StatusOK, user)
}
