package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrUnknownAssetType is returned for an asset type with no configured directory
var ErrUnknownAssetType = errors.New("unknown asset type")

// Store persists enrollment photos and face crops under the media root.
// Paths handed out and accepted are relative to that root, slash separated.
type Store interface {
	Save(assetType AssetType, filename string, data io.Reader) (string, error)
	// Delete removes an asset; a missing asset is not an error
	Delete(relativePath string) error
	GetFullPath(relativePath string) (string, error)
}

// LocalStorage keeps assets on the local filesystem, one directory per
// asset type
type LocalStorage struct {
	basePath string
	dirs     map[AssetType]string
	logger   *zap.Logger
}

var _ Store = (*LocalStorage)(nil)

// NewLocalStorage creates the media root and every asset directory. Only the
// asset types in subDirs can be stored.
func NewLocalStorage(basePath string, subDirs map[AssetType]string, logger *zap.Logger) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}

	dirs := make(map[AssetType]string, len(subDirs))
	for assetType, subDir := range subDirs {
		dir := filepath.Join(absBasePath, subDir)
		if !within(absBasePath, dir) || dir == absBasePath {
			return nil, fmt.Errorf("invalid subdirectory configuration: '%s' must be inside '%s'", subDir, absBasePath)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory '%s': %w", assetType, dir, err)
		}
		dirs[assetType] = dir
	}

	logger = logger.Named("media.store")
	logger.Info("initialized local storage", zap.String("path", absBasePath), zap.Int("asset_types", len(dirs)))
	return &LocalStorage{basePath: absBasePath, dirs: dirs, logger: logger}, nil
}

func within(base, path string) bool {
	clean := filepath.Clean(path)
	return clean == base || strings.HasPrefix(clean, base+string(filepath.Separator))
}

// Save writes data to <asset dir>/<filename>. The file appears under its final
// name only once fully written.
func (ls *LocalStorage) Save(assetType AssetType, filename string, data io.Reader) (string, error) {
	dir, ok := ls.dirs[assetType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAssetType, assetType)
	}
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", fmt.Errorf("invalid asset filename '%s'", filename)
	}
	target := filepath.Join(dir, filename)

	tmp, err := os.CreateTemp(dir, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file in '%s': %w", dir, err)
	}
	_, copyErr := io.Copy(tmp, data)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write %s '%s': %w", assetType, filename, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move %s into place: %w", assetType, err)
	}

	rel, err := filepath.Rel(ls.basePath, target)
	if err != nil {
		return "", fmt.Errorf("internal error calculating relative path: %w", err)
	}
	ls.logger.Debug("saved asset", zap.String("asset_type", string(assetType)), zap.String("path", target))
	return filepath.ToSlash(rel), nil
}

// Delete removes an asset file
func (ls *LocalStorage) Delete(relativePath string) error {
	if relativePath == "" {
		return nil
	}
	fullPath, err := ls.GetFullPath(relativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete asset '%s': %w", relativePath, err)
	}
	ls.logger.Debug("deleted asset", zap.String("path", fullPath))
	return nil
}

// GetFullPath resolves a stored asset path. Paths outside the asset
// directories are rejected.
func (ls *LocalStorage) GetFullPath(relativePath string) (string, error) {
	fullPath := filepath.Join(ls.basePath, filepath.FromSlash(relativePath))
	for _, dir := range ls.dirs {
		if within(dir, fullPath) && fullPath != dir {
			return fullPath, nil
		}
	}
	return "", fmt.Errorf("invalid path: access denied for '%s'", relativePath)
}
