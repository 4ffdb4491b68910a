package media

import (
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// DefaultFramesPerVideo is the number of frames sampled from a clip
const DefaultFramesPerVideo = 5

// ErrInvalidVideo is returned when a clip cannot be sampled
var ErrInvalidVideo = errors.New("invalid video")

// SampleIndices picks k frames spaced frameCount/k apart, starting at frame 0.
// The clip must have at least k frames and a positive frame rate.
func SampleIndices(frameCount int, fps float64, k int) ([]int, error) {
	switch {
	case k <= 0:
		return nil, fmt.Errorf("%w: frames to sample must be positive, got %d", ErrInvalidVideo, k)
	case frameCount <= 0:
		return nil, fmt.Errorf("%w: frame count must be positive, got %d", ErrInvalidVideo, frameCount)
	case fps <= 0:
		return nil, fmt.Errorf("%w: frame rate must be positive, got %v", ErrInvalidVideo, fps)
	case frameCount < k:
		return nil, fmt.Errorf("%w: clip has %d frames, need at least %d", ErrInvalidVideo, frameCount, k)
	}

	step := frameCount / k
	indices := make([]int, k)
	for i := range indices {
		indices[i] = i * step
	}
	return indices, nil
}

// FrameSource gives random access to decoded video frames
type FrameSource interface {
	FrameCount() int
	FPS() float64
	Frame(index int) (image.Image, error)
	Close() error
}

// SampledFrame is a decoded frame and its position in the clip
type SampledFrame struct {
	Index int
	Image image.Image
}

// SampleFrames decodes the frames chosen by SampleIndices. Frames that fail
// to decode are logged and skipped.
func SampleFrames(src FrameSource, k int, logger *zap.Logger) ([]SampledFrame, error) {
	indices, err := SampleIndices(src.FrameCount(), src.FPS(), k)
	if err != nil {
		return nil, err
	}

	frames := make([]SampledFrame, 0, len(indices))
	for _, idx := range indices {
		img, err := src.Frame(idx)
		if err != nil {
			logger.Warn("skipping undecodable frame", zap.Int("frame", idx), zap.Error(err))
			continue
		}
		frames = append(frames, SampledFrame{Index: idx, Image: img})
	}
	return frames, nil
}

// VideoFrameSource reads frames from a video file through OpenCV
type VideoFrameSource struct {
	capture *gocv.VideoCapture
	frames  int
	fps     float64
}

var _ FrameSource = (*VideoFrameSource)(nil)

// OpenVideoFile opens path for frame sampling
func OpenVideoFile(path string) (*VideoFrameSource, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrInvalidVideo, path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: failed to open %s", ErrInvalidVideo, path)
	}
	return &VideoFrameSource{
		capture: capture,
		frames:  int(capture.Get(gocv.VideoCaptureFrameCount)),
		fps:     capture.Get(gocv.VideoCaptureFPS),
	}, nil
}

func (v *VideoFrameSource) FrameCount() int { return v.frames }
func (v *VideoFrameSource) FPS() float64    { return v.fps }

// Frame seeks to index and decodes one frame
func (v *VideoFrameSource) Frame(index int) (image.Image, error) {
	v.capture.Set(gocv.VideoCapturePosFrames, float64(index))

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := v.capture.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("failed to decode frame %d", index)
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame %d: %w", index, err)
	}
	return img, nil
}

func (v *VideoFrameSource) Close() error {
	return v.capture.Close()
}
