package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultEnrollmentsSubDir = "enrollments"
	DefaultFaceCropsSubDir   = "face_crops"
)

const (
	defaultSimilarityThreshold     = 0.4
	defaultHighConfidenceThreshold = 0.9
	defaultFramesPerVideo          = 5
	defaultFaceDetectionThreshold  = 0.4

	defaultUploadMaxSize     = 640
	defaultUploadJpegQuality = 85
	defaultMaxUploadMB       = 64

	defaultEnrollQueueSize  = 100
	defaultNumEnrollWorkers = 4

	defaultJWTExpirationHours = 24
)

type Config struct {
	// database paths
	DatabasePath       string `yaml:"database_path"`
	LedgerDatabasePath string `yaml:"ledger_database_path"`

	// media storage configuration
	MediaStoragePath string `yaml:"media_storage_path"` // root for stored enrollment photos and face crops
	EnrollmentsPath  string `yaml:"-"`                  // full-calculated path for enrollment photos
	FaceCropsPath    string `yaml:"-"`                  // full-calculated path for review/unrecognized crops
	EnrollmentsDir   string `yaml:"enrollments_subdir"`
	FaceCropsDir     string `yaml:"face_crops_subdir"`

	// upload compression applied before detection
	UploadMaxSize     int `yaml:"upload_max_size"`
	UploadJpegQuality int `yaml:"upload_jpeg_quality"`
	MaxUploadMB       int `yaml:"max_upload_mb"`

	// recognition routing
	SimilarityThreshold     float32 `yaml:"similarity_threshold"`
	HighConfidenceThreshold float32 `yaml:"high_confidence_threshold"`
	FramesPerVideo          int     `yaml:"frames_per_video"`

	// face detection and embedding model paths (DNN)
	FaceDNNNetConfigPath   string  `yaml:"face_dnn_config_path"`
	FaceDNNNetModelPath    string  `yaml:"face_dnn_model_path"`
	FaceEmbeddingModelPath string  `yaml:"face_embedding_model_path"`
	FaceEmbeddingModelName string  `yaml:"face_embedding_model_name"`
	FaceDetectionThreshold float32 `yaml:"face_detection_threshold"`

	// worker settings
	EnrollQueueSize  int `yaml:"enroll_queue_size"`
	NumEnrollWorkers int `yaml:"num_enroll_workers"`

	// http
	Port               string   `yaml:"port"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	JWTSecret          string   `yaml:"jwt_secret"`
	JWTExpirationHours int      `yaml:"jwt_expiration_hours"`

	LogFormat string `yaml:"log_format"`
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

// getEnvFloatOrDefault accepts zero, thresholds are allowed to sit at the bottom of the range
func getEnvFloatOrDefault(envVar string, defaultVal float32) float32 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 32)
	if err != nil || val < 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %.2f. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return float32(val)
}

func defaults() Config {
	return Config{
		DatabasePath:            "attendance.db",
		LedgerDatabasePath:      "ledger.db",
		MediaStoragePath:        filepath.Join(".", "media_storage"),
		EnrollmentsDir:          DefaultEnrollmentsSubDir,
		FaceCropsDir:            DefaultFaceCropsSubDir,
		UploadMaxSize:           defaultUploadMaxSize,
		UploadJpegQuality:       defaultUploadJpegQuality,
		MaxUploadMB:             defaultMaxUploadMB,
		SimilarityThreshold:     defaultSimilarityThreshold,
		HighConfidenceThreshold: defaultHighConfidenceThreshold,
		FramesPerVideo:          defaultFramesPerVideo,
		FaceDNNNetConfigPath:    "./models/deploy.prototxt.txt",
		FaceDNNNetModelPath:     "./models/res10_300x300_ssd_iter_140000_fp16.caffemodel",
		FaceEmbeddingModelPath:  "./models/arcface.onnx",
		FaceEmbeddingModelName:  "arcface",
		FaceDetectionThreshold:  defaultFaceDetectionThreshold,
		EnrollQueueSize:         defaultEnrollQueueSize,
		NumEnrollWorkers:        defaultNumEnrollWorkers,
		Port:                    "8080",
		CORSAllowedOrigins:      []string{"http://localhost:5173"},
		JWTExpirationHours:      defaultJWTExpirationHours,
		LogFormat:               "console",
	}
}

// loadFile overlays values from an optional YAML file on top of the defaults
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	return nil
}

func LoadConfig() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", cfg.DatabasePath)
	cfg.LedgerDatabasePath = getEnvOrDefault("LEDGER_DATABASE_PATH", cfg.LedgerDatabasePath)

	mediaStorage := getEnvOrDefault("MEDIA_STORAGE_PATH", cfg.MediaStoragePath)
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}
	cfg.MediaStoragePath = absMediaStorage

	cfg.EnrollmentsDir = getEnvOrDefault("ENROLLMENTS_SUBDIR", cfg.EnrollmentsDir)
	cfg.EnrollmentsPath = filepath.Join(absMediaStorage, cfg.EnrollmentsDir)

	cfg.FaceCropsDir = getEnvOrDefault("FACE_CROPS_SUBDIR", cfg.FaceCropsDir)
	cfg.FaceCropsPath = filepath.Join(absMediaStorage, cfg.FaceCropsDir)

	cfg.UploadMaxSize = getEnvIntOrDefault("UPLOAD_MAX_SIZE", cfg.UploadMaxSize)
	cfg.UploadJpegQuality = getEnvIntOrDefault("UPLOAD_JPEG_QUALITY", cfg.UploadJpegQuality)
	cfg.MaxUploadMB = getEnvIntOrDefault("MAX_UPLOAD_MB", cfg.MaxUploadMB)

	cfg.SimilarityThreshold = getEnvFloatOrDefault("SIMILARITY_THRESHOLD", cfg.SimilarityThreshold)
	cfg.HighConfidenceThreshold = getEnvFloatOrDefault("HIGH_CONFIDENCE_THRESHOLD", cfg.HighConfidenceThreshold)
	cfg.FramesPerVideo = getEnvIntOrDefault("FRAMES_PER_VIDEO", cfg.FramesPerVideo)

	cfg.FaceDNNNetConfigPath = getEnvOrDefault("FACE_DNN_CONFIG_PATH", cfg.FaceDNNNetConfigPath)
	cfg.FaceDNNNetModelPath = getEnvOrDefault("FACE_DNN_MODEL_PATH", cfg.FaceDNNNetModelPath)
	cfg.FaceEmbeddingModelPath = getEnvOrDefault("FACE_EMBEDDING_MODEL_PATH", cfg.FaceEmbeddingModelPath)
	cfg.FaceEmbeddingModelName = getEnvOrDefault("FACE_EMBEDDING_MODEL_NAME", cfg.FaceEmbeddingModelName)
	cfg.FaceDetectionThreshold = getEnvFloatOrDefault("FACE_DETECTION_THRESHOLD", cfg.FaceDetectionThreshold)

	cfg.EnrollQueueSize = getEnvIntOrDefault("ENROLL_QUEUE_SIZE", cfg.EnrollQueueSize)
	cfg.NumEnrollWorkers = getEnvIntOrDefault("NUM_ENROLL_WORKERS", cfg.NumEnrollWorkers)

	cfg.Port = getEnvOrDefault("PORT", cfg.Port)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.CORSAllowedOrigins = splitList(origins)
	}
	cfg.JWTSecret = getEnvOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTExpirationHours = getEnvIntOrDefault("JWT_EXPIRATION_HOURS", cfg.JWTExpirationHours)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the recognition pipeline relies on
func (c Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be within [0,1], got %.3f", c.SimilarityThreshold)
	}
	if c.HighConfidenceThreshold < 0 || c.HighConfidenceThreshold > 1 {
		return fmt.Errorf("HIGH_CONFIDENCE_THRESHOLD must be within [0,1], got %.3f", c.HighConfidenceThreshold)
	}
	if c.SimilarityThreshold > c.HighConfidenceThreshold {
		return fmt.Errorf("SIMILARITY_THRESHOLD (%.3f) must not exceed HIGH_CONFIDENCE_THRESHOLD (%.3f)",
			c.SimilarityThreshold, c.HighConfidenceThreshold)
	}
	if c.FramesPerVideo <= 0 {
		return errors.New("FRAMES_PER_VIDEO must be positive")
	}
	if c.UploadJpegQuality > 100 {
		return fmt.Errorf("UPLOAD_JPEG_QUALITY must be within [1,100], got %d", c.UploadJpegQuality)
	}
	return nil
}

// MaxUploadBytes is the multipart body limit handed to the HTTP layer
func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
