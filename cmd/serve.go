package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camden-git/attendancebackend/handlers"
	"github.com/camden-git/attendancebackend/permissions"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the attendance HTTP API. The server loads the face models, opens both
databases, starts the enrollment workers and the websocket hub, and serves
the REST API until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("port", "", "Port to listen on (overrides PORT)")
}

// jwtSecret falls back to a random secret, which invalidates tokens on restart
func jwtSecret(configured string, logger *zap.Logger) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	logger.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	return secret, nil
}

func (a *app) routes(secret []byte) (http.Handler, error) {
	cfg := a.cfg
	maxUpload := cfg.MaxUploadBytes()

	authHandler := handlers.NewAuthHandler(a.store.Users, secret, time.Duration(cfg.JWTExpirationHours)*time.Hour, a.logger)
	setupHandler := handlers.NewSetupHandler(a.db, a.logger)
	adminUserHandler := handlers.NewAdminUserHandler(a.store.Users, a.logger)
	permissionsHandler := handlers.NewPermissionsHandler()
	studentHandler := &handlers.StudentHandler{
		Students:       a.students,
		Samples:        a.gallery,
		Enroller:       a.recognition,
		Batch:          a.enrollments,
		MaxUploadBytes: maxUpload,
		Logger:         a.logger,
	}
	attendanceHandler := &handlers.AttendanceHandler{
		Marker:         a.recognition,
		Ledger:         a.attendance,
		OpenVideo:      handlers.OpenVideoFile,
		TempDir:        os.TempDir(),
		MaxUploadBytes: maxUpload,
		Logger:         a.logger,
	}
	reviewHandler := &handlers.ReviewHandler{Reviews: a.reviews, Unrecognized: a.unrecognized, Logger: a.logger}
	imagePreviewHandler := &handlers.ImagePreviewHandler{Recognition: a.recognition, Storage: a.storage, Logger: a.logger}

	cropServer, err := handlers.AssetServer(cfg.MediaStoragePath, cfg.FaceCropsDir, a.logger)
	if err != nil {
		return nil, err
	}
	enrollmentServer, err := handlers.AssetServer(cfg.MediaStoragePath, cfg.EnrollmentsDir, a.logger)
	if err != nil {
		return nil, err
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	requireAuth := handlers.AuthMiddleware(a.store.Users, secret)

	r.Route("/api", func(r chi.Router) {
		// the websocket outlives any request timeout
		r.With(requireAuth).Get("/ws", a.hub.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/setup/create-admin", setupHandler.CreateFirstAdmin)
			r.Post("/auth/login", authHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)

				r.Get("/auth/me", authHandler.CurrentUser)
				r.Get("/permissions", permissionsHandler.ListDefinedPermissions)
				r.Get("/permissions/keys", permissionsHandler.ListDefinedPermissionKeys)

				r.Route("/students", func(r chi.Router) {
					r.Use(handlers.RequireGlobalPermission(permissions.StudentsManage))
					r.Post("/", studentHandler.CreateStudent)
					r.Get("/", studentHandler.ListStudents)
					r.Route("/{student_id}", func(r chi.Router) {
						r.Get("/", studentHandler.GetStudent)
						r.Delete("/", studentHandler.DeleteStudent)
						r.Post("/faces", studentHandler.EnrollFace)
						r.Get("/faces", studentHandler.ListFaces)
					})
				})
				r.With(handlers.RequireGlobalPermission(permissions.StudentsManage)).
					Delete("/faces/{sample_id}", studentHandler.DeleteFace)
				r.With(handlers.RequireGlobalPermission(permissions.StudentsManage)).
					Post("/enrollments", studentHandler.EnrollBatch)

				r.Route("/attendance", func(r chi.Router) {
					r.With(handlers.RequireGlobalPermission(permissions.AttendanceMark)).
						Post("/mark", attendanceHandler.Mark)
					r.With(handlers.RequireGlobalPermission(permissions.AttendanceMark)).
						Post("/mark-video", attendanceHandler.MarkVideo)
					r.With(handlers.RequireAnyGlobalPermission(permissions.AttendanceView, permissions.AttendanceEdit)).
						Get("/", attendanceHandler.List)
					r.With(handlers.RequireGlobalPermission(permissions.AttendanceEdit)).
						Put("/{student_id}/{date}", attendanceHandler.SetStatus)
				})

				r.Route("/review", func(r chi.Router) {
					r.With(handlers.RequireAnyGlobalPermission(permissions.ReviewView, permissions.ReviewAdjudicate)).
						Get("/", reviewHandler.ListReview)
					r.With(handlers.RequireAnyGlobalPermission(permissions.ReviewView, permissions.ReviewAdjudicate)).
						Get("/{item_id}", reviewHandler.GetReview)
					r.With(handlers.RequireGlobalPermission(permissions.ReviewAdjudicate)).
						Post("/{item_id}", reviewHandler.AdjudicateReview)
				})

				r.Route("/unrecognized", func(r chi.Router) {
					r.With(handlers.RequireAnyGlobalPermission(permissions.ReviewView, permissions.ReviewAdjudicate)).
						Get("/", reviewHandler.ListUnrecognized)
					r.With(handlers.RequireAnyGlobalPermission(permissions.ReviewView, permissions.ReviewAdjudicate)).
						Get("/{item_id}", reviewHandler.GetUnrecognized)
					r.With(handlers.RequireGlobalPermission(permissions.ReviewAdjudicate)).
						Post("/{item_id}/assign", reviewHandler.AssignUnrecognized)
					r.With(handlers.RequireGlobalPermission(permissions.ReviewAdjudicate)).
						Post("/{item_id}/discard", reviewHandler.DiscardUnrecognized)
				})

				r.With(handlers.RequireAnyGlobalPermission(permissions.ReviewView, permissions.ReviewAdjudicate)).
					Get("/crops/*", cropServer)
				r.With(handlers.RequireGlobalPermission(permissions.StudentsManage)).
					Get("/enrollment-images/*", enrollmentServer)

				r.Route("/admin/users", func(r chi.Router) {
					r.Use(handlers.RequireGlobalPermission(permissions.Admin))
					r.Get("/", adminUserHandler.ListUsers)
					r.Post("/", adminUserHandler.CreateUser)
					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", adminUserHandler.GetUser)
						r.Put("/permissions", adminUserHandler.SetPermissions)
						r.Delete("/", adminUserHandler.DeleteUser)
					})
				})
			})
		})
	})

	r.Route("/debug", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(requireAuth)
		r.Use(handlers.RequireGlobalPermission(permissions.Admin))
		// GET /debug/analyze?path=face_crops/review_1.jpg
		r.Get("/analyze", imagePreviewHandler.ServeAnalyzedImage)
	})

	return r, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if port := mustGetString(cmd, "port"); port != "" {
		cfg.Port = port
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("error during cleanup", zap.Error(err))
		}
	}()

	secret, err := jwtSecret(cfg.JWTSecret, logger)
	if err != nil {
		return err
	}
	handler, err := a.routes(secret)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error during shutdown", zap.Error(err))
		}
	}()

	logger.Info("server listening", zap.String("addr", server.Addr), zap.Strings("cors_origins", cfg.CORSAllowedOrigins))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
