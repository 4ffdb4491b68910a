package media

import (
	"errors"
	"fmt"
	"image"
	"math"
	"os"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrModelDisabled is returned when the embedding network failed to load
var ErrModelDisabled = errors.New("face embedding model is not loaded")

// FaceRecognitionModel provides face embedding extraction for recognition
type FaceRecognitionModel struct {
	Net       gocv.Net
	Enabled   bool
	ModelName string

	InputSizeW int
	InputSizeH int

	logger *zap.Logger
}

// NewFaceRecognitionModel loads a face recognition model (ArcFace, FaceNet)
func NewFaceRecognitionModel(modelPath string, modelName string, logger *zap.Logger) *FaceRecognitionModel {
	logger = logger.Named("recognition")
	if modelPath == "" {
		logger.Warn("model path is empty, disabling face recognition")
		return &FaceRecognitionModel{Enabled: false, logger: logger}
	}

	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		logger.Error("model file does not exist", zap.String("path", modelPath))
		return &FaceRecognitionModel{Enabled: false, logger: logger}
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		logger.Error("ReadNet returned an empty network", zap.String("model", modelName))
		return &FaceRecognitionModel{Enabled: false, logger: logger}
	}

	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)
	if cudaBackendErr == nil && cudaTargetErr == nil {
		logger.Info("set backend/target to CUDA", zap.String("model", modelName))
	} else {
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
		logger.Info("set backend/target to CPU", zap.String("model", modelName))
	}

	inputSizeW, inputSizeH := 112, 112
	if modelName == "facenet" {
		inputSizeW, inputSizeH = 160, 160
	}

	logger.Info("loaded face embedding model", zap.String("model", modelName), zap.Int("input", inputSizeW))
	return &FaceRecognitionModel{
		Net:        net,
		Enabled:    true,
		ModelName:  modelName,
		InputSizeW: inputSizeW,
		InputSizeH: inputSizeH,
		logger:     logger,
	}
}

func (f *FaceRecognitionModel) Close() {
	if f != nil && f.Enabled {
		f.Net.Close()
		f.logger.Info("closed embedding network", zap.String("model", f.ModelName))
		f.Enabled = false
	}
}

// ExtractEmbedding runs the network on a BGR face region and returns the
// L2-normalised embedding
func (f *FaceRecognitionModel) ExtractEmbedding(faceRegion gocv.Mat) ([]float32, error) {
	if f == nil || !f.Enabled {
		return nil, ErrModelDisabled
	}
	if faceRegion.Empty() {
		return nil, fmt.Errorf("empty face region")
	}

	processed := f.preprocessFace(faceRegion)
	defer processed.Close()

	// scale to [0,1]; ArcFace and FaceNet exports expect RGB input
	blob := gocv.BlobFromImage(processed, 1.0/255.0, image.Pt(f.InputSizeW, f.InputSizeH), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	f.Net.SetInput(blob, "")
	output := f.Net.Forward("")
	defer output.Close()

	embedding := extractEmbeddingVector(output)
	if len(embedding) == 0 {
		return nil, fmt.Errorf("model %s produced an empty embedding", f.ModelName)
	}
	if !normalizeEmbedding(embedding) {
		return nil, fmt.Errorf("model %s produced an all-zero embedding", f.ModelName)
	}
	return embedding, nil
}

func (f *FaceRecognitionModel) preprocessFace(faceRegion gocv.Mat) gocv.Mat {
	resized := gocv.NewMat()
	gocv.Resize(faceRegion, &resized, image.Pt(f.InputSizeW, f.InputSizeH), 0, 0, gocv.InterpolationLinear)

	normalized := gocv.NewMat()
	resized.ConvertTo(&normalized, gocv.MatTypeCV32F)
	resized.Close()
	return normalized
}

// extractEmbeddingVector flattens the model output into a vector
func extractEmbeddingVector(output gocv.Mat) []float32 {
	if output.Empty() || len(output.Size()) == 0 {
		return nil
	}

	flattened := output.Reshape(1, 1)
	defer flattened.Close()

	embedding := make([]float32, flattened.Cols())
	for i := range embedding {
		embedding[i] = flattened.GetFloatAt(0, i)
	}
	return embedding
}

// normalizeEmbedding scales the vector to unit length in place; false for a zero vector
func normalizeEmbedding(embedding []float32) bool {
	var norm float64
	for _, val := range embedding {
		norm += float64(val) * float64(val)
	}
	if norm == 0 {
		return false
	}
	norm = math.Sqrt(norm)
	for i, val := range embedding {
		embedding[i] = float32(float64(val) / norm)
	}
	return true
}
