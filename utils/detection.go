package utils

import (
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type DetectionResult struct {
	X          int
	Y          int
	W          int
	H          int
	Confidence float32
}

// Rect returns the detection as an image.Rectangle
func (d DetectionResult) Rect() image.Rectangle {
	return image.Rect(d.X, d.Y, d.X+d.W, d.Y+d.H)
}

// DNNFaceDetector is the res10 SSD face detector run through OpenCV's dnn module
type DNNFaceDetector struct {
	Net     gocv.Net
	Enabled bool

	// configuration parameters used during detection
	InputSizeW    int
	InputSizeH    int
	ScaleFactor   float64
	MeanVal       gocv.Scalar
	ConfThreshold float32

	logger *zap.Logger
}

// NewDNNFaceDetector loads the DNN model. A missing model yields a disabled detector.
func NewDNNFaceDetector(configPath, modelPath string, confThreshold float32, logger *zap.Logger) *DNNFaceDetector {
	logger = logger.Named("detection")
	if configPath == "" || modelPath == "" {
		logger.Warn("config or model path is empty, disabling DNN detector")
		return &DNNFaceDetector{Enabled: false, logger: logger}
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		logger.Error("failed to load face detection network", zap.String("config", configPath), zap.String("model", modelPath))
		return &DNNFaceDetector{Enabled: false, logger: logger}
	}
	logger.Info("loaded face detection model", zap.String("model", modelPath))

	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)

	if cudaBackendErr == nil && cudaTargetErr == nil {
		logger.Info("set backend/target to CUDA")
	} else {
		logger.Info("CUDA not available, using CPU",
			zap.NamedError("backend_error", cudaBackendErr),
			zap.NamedError("target_error", cudaTargetErr))
		net.SetPreferableBackend(gocv.NetBackendDefault)
		net.SetPreferableTarget(gocv.NetTargetCPU)
	}

	return &DNNFaceDetector{
		Net:           net,
		Enabled:       true,
		InputSizeW:    300,
		InputSizeH:    300,
		ScaleFactor:   1.0,
		MeanVal:       gocv.NewScalar(104.0, 177.0, 123.0, 0),
		ConfThreshold: confThreshold,
		logger:        logger,
	}
}

func (d *DNNFaceDetector) Close() {
	if d != nil && d.Enabled {
		d.Net.Close()
		d.logger.Info("closed face detection network")
		d.Enabled = false
	}
}

// DetectFaces runs face detection on a BGR image and returns boxes clamped
// to the image bounds
func (d *DNNFaceDetector) DetectFaces(img gocv.Mat) []DetectionResult {
	if d == nil || !d.Enabled || img.Empty() {
		return nil
	}

	imgHeight := float32(img.Rows())
	imgWidth := float32(img.Cols())

	blob := gocv.BlobFromImage(img, d.ScaleFactor, image.Pt(d.InputSizeW, d.InputSizeH), d.MeanVal, false, false)
	defer blob.Close()

	d.Net.SetInput(blob, "")
	detectionsMat := d.Net.Forward("")
	defer detectionsMat.Close()

	results := []DetectionResult{}

	sizes := detectionsMat.Size()
	if len(sizes) != 4 || sizes[0] != 1 || sizes[1] != 1 {
		d.logger.Warn("unexpected output matrix dimensions", zap.Ints("sizes", sizes))
		if len(sizes) < 4 {
			return results
		}
	}

	numDetections := sizes[2]
	if numDetections == 0 {
		return results
	}

	// [1,1,N,7] -> [N,7] so rows can be read with GetFloatAt(row, col)
	detectionsData := detectionsMat.Reshape(1, numDetections)
	defer detectionsData.Close()

	for i := 0; i < numDetections; i++ {
		confidence := detectionsData.GetFloatAt(i, 2)
		if confidence <= d.ConfThreshold {
			continue
		}

		xMin := max(0, detectionsData.GetFloatAt(i, 3)*imgWidth)
		yMin := max(0, detectionsData.GetFloatAt(i, 4)*imgHeight)
		xMax := min(imgWidth, detectionsData.GetFloatAt(i, 5)*imgWidth)
		yMax := min(imgHeight, detectionsData.GetFloatAt(i, 6)*imgHeight)

		if xMax > xMin && yMax > yMin {
			results = append(results, DetectionResult{
				X:          int(xMin),
				Y:          int(yMin),
				W:          int(xMax - xMin),
				H:          int(yMax - yMin),
				Confidence: confidence,
			})
		}
	}

	return results
}
