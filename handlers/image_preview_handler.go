package handlers

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"os"

	"github.com/camden-git/attendancebackend/services"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Previewer detects and matches faces without side effects.
// *services.RecognitionService satisfies it.
type Previewer interface {
	Preview(ctx context.Context, img image.Image) ([]services.FaceOutcome, error)
}

// PathResolver maps a stored asset path to a file. media.Store satisfies it.
type PathResolver interface {
	GetFullPath(relativePath string) (string, error)
}

type ImagePreviewHandler struct {
	Recognition Previewer
	Storage     PathResolver
	Logger      *zap.Logger
}

var routeColors = map[services.Route]color.RGBA{
	services.RouteAutoAccept:   {0, 200, 0, 0},
	services.RouteReview:       {255, 165, 0, 0},
	services.RouteUnrecognized: {220, 0, 0, 0},
}

// ServeAnalyzedImage handles GET /debug/analyze?path=. It draws every
// detected face coloured by the route it would take and labels it with the
// best match.
func (iph *ImagePreviewHandler) ServeAnalyzedImage(w http.ResponseWriter, r *http.Request) {
	relativePath := r.URL.Query().Get("path")
	if relativePath == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_path", "Missing 'path' query parameter")
		return
	}
	fullPath, err := iph.Storage.GetFullPath(relativePath)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_path", err.Error())
		return
	}
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	} else if err != nil {
		iph.Logger.Error("failed to stat image", zap.String("path", fullPath), zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Internal Server Error")
		return
	}

	mat := gocv.IMRead(fullPath, gocv.IMReadColor)
	if mat.Empty() {
		WriteAPIError(w, http.StatusUnprocessableEntity, "unreadable_image", "Failed to read image")
		return
	}
	defer mat.Close()

	img, err := mat.ToImage()
	if err != nil {
		iph.Logger.Error("failed to convert image", zap.String("path", relativePath), zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to convert image")
		return
	}

	faces, err := iph.Recognition.Preview(r.Context(), img)
	if err != nil {
		writeServiceError(w, iph.Logger, err)
		return
	}

	for _, face := range faces {
		c := routeColors[face.Route]
		gocv.Rectangle(&mat, face.Box, c, 2)

		label := "unknown"
		if face.StudentID != nil {
			label = fmt.Sprintf("#%d %.2f", *face.StudentID, face.Similarity)
		}
		gocv.PutText(&mat, label, image.Pt(face.Box.Min.X, max(12, face.Box.Min.Y-5)), gocv.FontHersheySimplex, 0.5, c, 1)
	}
	iph.Logger.Debug("analyzed image", zap.String("path", relativePath), zap.Int("faces", len(faces)))

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		iph.Logger.Error("failed to encode image", zap.String("path", relativePath), zap.Error(err))
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "Failed to encode image")
		return
	}
	defer buf.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buf.Len()))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	if _, err := w.Write(buf.GetBytes()); err != nil {
		iph.Logger.Debug("failed to write image response", zap.Error(err))
	}
}
