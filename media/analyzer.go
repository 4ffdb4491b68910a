package media

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/camden-git/attendancebackend/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// GocvAnalyzer finds faces with the DNN detector and embeds each one with
// the recognition model. Both networks are shared process-wide, so calls are
// serialized.
type GocvAnalyzer struct {
	detector *utils.DNNFaceDetector
	embedder *FaceRecognitionModel
	mu       sync.Mutex
	logger   *zap.Logger
}

func NewGocvAnalyzer(detector *utils.DNNFaceDetector, embedder *FaceRecognitionModel, logger *zap.Logger) *GocvAnalyzer {
	return &GocvAnalyzer{detector: detector, embedder: embedder, logger: logger.Named("analyzer")}
}

// Ready reports whether both networks loaded
func (a *GocvAnalyzer) Ready() bool {
	return a.detector != nil && a.detector.Enabled && a.embedder != nil && a.embedder.Enabled
}

// Analyze returns every detected face in img with its embedding. Faces whose
// embedding fails are dropped and logged; a missing model is an error.
func (a *GocvAnalyzer) Analyze(ctx context.Context, img image.Image) ([]DetectedFace, error) {
	if !a.Ready() {
		return nil, ErrModelDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image to mat: %w", err)
	}
	defer mat.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	detections := a.detector.DetectFaces(mat)
	origin := img.Bounds().Min

	faces := make([]DetectedFace, 0, len(detections))
	for _, det := range detections {
		rect := det.Rect().Intersect(image.Rect(0, 0, mat.Cols(), mat.Rows()))
		if rect.Empty() {
			continue
		}

		region := mat.Region(rect)
		embedding, err := a.embedder.ExtractEmbedding(region)
		region.Close()
		if err != nil {
			a.logger.Warn("failed to embed detected face", zap.Any("box", rect), zap.Error(err))
			continue
		}

		faces = append(faces, DetectedFace{
			Box:        rect.Add(origin),
			Embedding:  embedding,
			Confidence: det.Confidence,
		})
	}
	return faces, nil
}

func (a *GocvAnalyzer) Close() {
	a.detector.Close()
	a.embedder.Close()
}
