package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AssetServer serves stored images (enrollment photos, face crops) from one
// subdirectory of the media root. It must be mounted on a wildcard route:
//
//	r.Get("/api/crops/*", AssetServer(cfg.MediaStoragePath, cfg.FaceCropsDir, logger))
func AssetServer(baseStoragePath, subDir string, logger *zap.Logger) (http.HandlerFunc, error) {
	base, err := filepath.Abs(baseStoragePath)
	if err != nil {
		return nil, fmt.Errorf("invalid media storage path %q: %w", baseStoragePath, err)
	}
	assetDir := filepath.Clean(filepath.Join(base, subDir))
	if assetDir != base && !strings.HasPrefix(assetDir, base+string(filepath.Separator)) {
		return nil, fmt.Errorf("asset subdirectory %q resolves outside %q", subDir, base)
	}
	logger = logger.Named("assets")
	logger.Info("serving assets", zap.String("dir", assetDir))

	return func(w http.ResponseWriter, r *http.Request) {
		relativePath := chi.URLParam(r, "*")
		if relativePath == "" || strings.Contains(relativePath, "..") {
			WriteAPIError(w, http.StatusBadRequest, "invalid_path", "Invalid asset path")
			return
		}

		assetPath := filepath.Clean(filepath.Join(assetDir, relativePath))
		if !strings.HasPrefix(assetPath, assetDir+string(filepath.Separator)) {
			logger.Warn("asset request outside asset directory", zap.String("request", r.URL.Path), zap.String("resolved", assetPath))
			WriteAPIError(w, http.StatusForbidden, "forbidden", "Forbidden")
			return
		}

		info, err := os.Stat(assetPath)
		if os.IsNotExist(err) || (err == nil && info.IsDir()) {
			http.NotFound(w, r)
			return
		} else if err != nil {
			logger.Error("failed to stat asset", zap.String("path", assetPath), zap.Error(err))
			WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
			return
		}

		// crops and enrollment photos are written once under unique names
		cacheDuration := 24 * time.Hour
		w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", int(cacheDuration.Seconds())))
		http.ServeFile(w, r, assetPath)
	}, nil
}
