package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/camden-git/attendancebackend/config"
	"github.com/camden-git/attendancebackend/database"
	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/realtime"
	"github.com/camden-git/attendancebackend/repository"
	"github.com/camden-git/attendancebackend/services"
	"github.com/camden-git/attendancebackend/utils"
	"github.com/camden-git/attendancebackend/workers"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// stores holds the two databases. Subcommands that never touch the models
// (migrate, create-user, rebuild-gallery) stop here.
type stores struct {
	db     *gorm.DB
	ledger *sql.DB
	store  *repository.Store
}

func openStores(cfg config.Config, logger *zap.Logger) (*stores, error) {
	for _, p := range []string{filepath.Dir(cfg.DatabasePath), filepath.Dir(cfg.LedgerDatabasePath)} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", p, err)
		}
	}

	db, err := database.InitGormDB(cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrateModels(db); err != nil {
		closeGorm(db)
		return nil, err
	}

	ledger, err := database.InitDB(cfg.LedgerDatabasePath, logger)
	if err != nil {
		closeGorm(db)
		return nil, err
	}

	return &stores{db: db, ledger: ledger, store: repository.NewStore(db)}, nil
}

func (s *stores) Close() error {
	return errors.Join(s.ledger.Close(), closeGorm(s.db))
}

func closeGorm(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// app is the fully wired server: databases, models, services and workers
type app struct {
	*stores

	cfg    config.Config
	logger *zap.Logger

	hub       *realtime.Hub
	storage   *media.LocalStorage
	processor *media.Processor
	detector  *utils.DNNFaceDetector
	embedder  *media.FaceRecognitionModel
	analyzer  *media.GocvAnalyzer

	students     *services.StudentService
	gallery      *services.GalleryService
	router       *services.Router
	reviews      *services.ReviewService
	unrecognized *services.UnrecognizedService
	attendance   *services.AttendanceService
	recognition  *services.RecognitionService
	enrollments  *workers.EnrollmentProcessor
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	st, err := openStores(cfg, logger)
	if err != nil {
		return nil, err
	}
	a := &app{stores: st, cfg: cfg, logger: logger}

	a.storage, err = media.NewLocalStorage(cfg.MediaStoragePath, map[media.AssetType]string{
		media.AssetTypeEnrollment: cfg.EnrollmentsDir,
		media.AssetTypeFaceCrop:   cfg.FaceCropsDir,
	}, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize media store: %w", err)
	}
	a.processor = media.NewProcessor(a.storage, cfg.UploadMaxSize, cfg.UploadJpegQuality, logger)

	a.detector = utils.NewDNNFaceDetector(cfg.FaceDNNNetConfigPath, cfg.FaceDNNNetModelPath, cfg.FaceDetectionThreshold, logger)
	a.embedder = media.NewFaceRecognitionModel(cfg.FaceEmbeddingModelPath, cfg.FaceEmbeddingModelName, logger)
	a.analyzer = media.NewGocvAnalyzer(a.detector, a.embedder, logger)
	if !a.analyzer.Ready() {
		logger.Warn("face models unavailable, enrollment and marking will fail with a model error")
	}

	a.hub = realtime.NewHub(logger)
	go a.hub.Run()

	locks := services.NewKeyedMutex()
	a.gallery = services.NewGalleryService(st.store, locks, a.processor, a.hub, logger)
	a.router, err = services.NewRouter(services.Thresholds{
		Similarity:     cfg.SimilarityThreshold,
		HighConfidence: cfg.HighConfidenceThreshold,
	}, a.gallery, st.store, a.processor, a.hub, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.students = services.NewStudentService(st.store, a.gallery, locks, logger)
	a.reviews = services.NewReviewService(st.store, a.gallery, locks, a.processor, a.hub, logger)
	a.unrecognized = services.NewUnrecognizedService(st.store, a.gallery, locks, a.hub, logger)
	a.attendance = services.NewAttendanceService(st.ledger, st.store.Students, a.hub, logger)
	a.recognition = services.NewRecognitionService(st.store.Students, a.gallery, a.router, a.attendance,
		a.analyzer, a.processor, cfg.FramesPerVideo, logger)

	a.enrollments = workers.NewEnrollmentProcessor(a.recognition, cfg.EnrollQueueSize, cfg.NumEnrollWorkers, logger)

	logger.Info("application initialized",
		zap.String("database", cfg.DatabasePath),
		zap.String("ledger", cfg.LedgerDatabasePath),
		zap.String("media", cfg.MediaStoragePath),
		zap.Float32("similarity_threshold", cfg.SimilarityThreshold),
		zap.Float32("high_confidence_threshold", cfg.HighConfidenceThreshold),
		zap.Int("frames_per_video", cfg.FramesPerVideo))
	return a, nil
}

// Close stops the workers before the models and databases they use
func (a *app) Close() error {
	if a.enrollments != nil {
		a.enrollments.Stop()
	}
	a.hub.Stop()
	a.analyzer.Close()
	return a.stores.Close()
}
