package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/camden-git/attendancebackend/repository"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// UserContextKey is the key used to store the user object in the request context.
	UserContextKey ContextKey = "user"
)

// AuthMiddleware verifies the bearer token and stores the user it names in
// the request context.
func AuthMiddleware(userRepo repository.UserRepository, secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "Authorization header format must be Bearer {token}")
				return
			}

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return secret, nil
			}, jwt.WithIssuer(tokenIssuer))
			if err != nil || !token.Valid {
				WriteAPIError(w, http.StatusUnauthorized, "invalid_token", "Invalid token")
				return
			}

			var userID uint
			if _, err := fmt.Sscan(claims.Subject, &userID); err != nil {
				WriteAPIError(w, http.StatusUnauthorized, "invalid_token", "Invalid user ID in token")
				return
			}

			user, err := userRepo.GetByID(r.Context(), userID)
			if err != nil {
				// deleted after the token was issued
				WriteAPIError(w, http.StatusUnauthorized, "unauthorized", "User not found")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the Authorization header. GET requests may pass the token
// as ?token= instead, since browsers cannot set headers on websocket upgrades
// or image loads.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if r.Method == http.MethodGet {
			if t := r.URL.Query().Get("token"); t != "" {
				return t, true
			}
		}
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return parts[1], true
}

// RequireGlobalPermission checks that the authenticated user holds the
// permission. It should be used after AuthMiddleware.
func RequireGlobalPermission(requiredPermission string) func(http.Handler) http.Handler {
	return RequireAnyGlobalPermission(requiredPermission)
}

// RequireAnyGlobalPermission checks that the authenticated user holds at
// least one of the permissions. It should be used after AuthMiddleware.
func RequireAnyGlobalPermission(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := currentUser(r)
			if user == nil {
				WriteAPIError(w, http.StatusInternalServerError, "missing_user", "User not found in context")
				return
			}

			for _, p := range permissions {
				if user.HasGlobalPermission(p) {
					next.ServeHTTP(w, r)
					return
				}
			}
			WriteAPIError(w, http.StatusForbidden, "forbidden",
				fmt.Sprintf("requires one of the global permissions: %s", strings.Join(permissions, ", ")))
		})
	}
}
