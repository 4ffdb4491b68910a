package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/camden-git/attendancebackend/database"
	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/utils"
	"go.uber.org/zap"
)

// FaceAnalyzer detects faces and embeds each one. *media.GocvAnalyzer
// satisfies it.
type FaceAnalyzer interface {
	Analyze(ctx context.Context, img image.Image) ([]media.DetectedFace, error)
}

// MediaProcessor prepares uploads and stores enrollment photos.
// *media.Processor satisfies it.
type MediaProcessor interface {
	CompressUpload(r io.Reader) (image.Image, error)
	SaveEnrollmentImage(img image.Image) (string, error)
	Delete(relativePath string) error
}

// ImageUpload is one photo of a marking request
type ImageUpload struct {
	Name string
	Data []byte
}

// SourceResult lists what happened to the faces of one photo or frame
type SourceResult struct {
	Source string        `json:"source"`
	Faces  []FaceOutcome `json:"faces"`
	Error  string        `json:"error,omitempty"`
}

// MarkResult summarizes a marking request
type MarkResult struct {
	Date         string                     `json:"date"`
	Status       database.AttendanceStatus  `json:"status"`
	Recognized   []uint                     `json:"recognized_student_ids"`
	Created      []database.AttendanceEntry `json:"created"`
	Reviewed     int                        `json:"queued_for_review"`
	Unrecognized int                        `json:"queued_unrecognized"`
	Sources      []SourceResult             `json:"sources"`
}

// EnrollResult is the outcome of a successful enrollment
type EnrollResult struct {
	Sample *models.FaceSample   `json:"sample"`
	Entry  *models.GalleryEntry `json:"gallery"`
}

// RecognitionService runs photos and video frames through detection,
// matching and routing, then emits attendance for the recognized students
type RecognitionService struct {
	students       StudentLookup
	gallery        *GalleryService
	router         *Router
	attendance     *AttendanceService
	analyzer       FaceAnalyzer
	media          MediaProcessor
	framesPerVideo int
	logger         *zap.Logger
}

func NewRecognitionService(students StudentLookup, gallery *GalleryService, router *Router, attendance *AttendanceService,
	analyzer FaceAnalyzer, processor MediaProcessor, framesPerVideo int, logger *zap.Logger) *RecognitionService {
	if framesPerVideo <= 0 {
		framesPerVideo = media.DefaultFramesPerVideo
	}
	return &RecognitionService{
		students:       students,
		gallery:        gallery,
		router:         router,
		attendance:     attendance,
		analyzer:       analyzer,
		media:          processor,
		framesPerVideo: framesPerVideo,
		logger:         logger.Named("recognition"),
	}
}

// Enroll adds one reference photo for a student. The photo must contain
// exactly one face.
func (s *RecognitionService) Enroll(ctx context.Context, studentID uint, r io.Reader) (*EnrollResult, error) {
	exists, err := s.students.Exists(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, notFoundErrorf("student %d", studentID)
	}

	img, err := s.media.CompressUpload(r)
	if err != nil {
		return nil, validationErrorf("could not read image: %v", err)
	}
	faces, err := s.analyze(ctx, img)
	if err != nil {
		return nil, err
	}
	if len(faces) != 1 {
		return nil, fmt.Errorf("%w (found %d)", ErrDegenerateInput, len(faces))
	}

	path, err := s.media.SaveEnrollmentImage(img)
	if err != nil {
		return nil, fmt.Errorf("failed to store enrollment image: %w", err)
	}
	entry, sample, err := s.gallery.Contribute(ctx, studentID, faces[0].Embedding, SampleInput{
		Source:    models.SampleSourceEnrollment,
		ImagePath: path,
	})
	if err != nil {
		if delErr := s.media.Delete(path); delErr != nil {
			s.logger.Warn("failed to clean up enrollment image", zap.String("path", path), zap.Error(delErr))
		}
		return nil, err
	}

	s.logger.Info("student enrolled", zap.Uint("student_id", studentID), zap.Int("sample_count", entry.SampleCount))
	return &EnrollResult{Sample: sample, Entry: entry}, nil
}

// MarkImages recognizes every face in the photos and marks the auto-accepted
// students. A photo that cannot be processed is reported and skipped; the
// call fails only when no photo could be processed.
func (s *RecognitionService) MarkImages(ctx context.Context, uploads []ImageUpload, date, label string) (*MarkResult, error) {
	if len(uploads) == 0 {
		return nil, validationErrorf("at least one image is required")
	}
	res, snap, err := s.begin(ctx, date, label)
	if err != nil {
		return nil, err
	}

	recognized := make(map[uint]struct{})
	var firstErr error
	processed := 0
	for _, up := range uploads {
		meta := utils.ReadPhotoMetadata(up.Data)
		src := SourceResult{Source: up.Name}

		img, err := s.media.CompressUpload(bytes.NewReader(up.Data))
		if err != nil {
			err = validationErrorf("could not read image %s: %v", up.Name, err)
		} else {
			err = s.processImage(ctx, snap, img, meta.TakenAt, recognized, res, &src)
		}
		if err != nil {
			s.logger.Warn("skipping image", zap.String("image", up.Name), zap.Error(err))
			src.Error = err.Error()
			if firstErr == nil {
				firstErr = err
			}
		} else {
			processed++
		}
		res.Sources = append(res.Sources, src)
	}
	if processed == 0 {
		return nil, firstErr
	}

	return s.finish(ctx, res, recognized)
}

// MarkVideo samples frames from src and handles each like a photo. Identities
// recognized in any frame are marked once.
func (s *RecognitionService) MarkVideo(ctx context.Context, src media.FrameSource, date, label string) (*MarkResult, error) {
	res, snap, err := s.begin(ctx, date, label)
	if err != nil {
		return nil, err
	}

	frames, err := media.SampleFrames(src, s.framesPerVideo, s.logger)
	if err != nil {
		if errors.Is(err, media.ErrInvalidVideo) {
			return nil, validationErrorf("%v", err)
		}
		return nil, err
	}
	if len(frames) == 0 {
		return nil, validationErrorf("none of the sampled frames could be decoded")
	}

	recognized := make(map[uint]struct{})
	for _, frame := range frames {
		sr := SourceResult{Source: fmt.Sprintf("frame %d", frame.Index)}
		if err := s.processImage(ctx, snap, frame.Image, nil, recognized, res, &sr); err != nil {
			s.logger.Warn("skipping frame", zap.Int("frame", frame.Index), zap.Error(err))
			sr.Error = err.Error()
		}
		res.Sources = append(res.Sources, sr)
	}

	return s.finish(ctx, res, recognized)
}

// Preview detects and matches faces without writing anything
func (s *RecognitionService) Preview(ctx context.Context, img image.Image) ([]FaceOutcome, error) {
	snap, err := s.gallery.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	faces, err := s.analyze(ctx, img)
	if err != nil {
		return nil, err
	}
	thresholds := s.router.Thresholds()
	out := make([]FaceOutcome, 0, len(faces))
	for _, face := range faces {
		match := Match(snap, face.Embedding)
		out = append(out, FaceOutcome{
			Box:        face.Box,
			Route:      thresholds.Classify(match),
			StudentID:  match.StudentID,
			Similarity: match.Similarity,
		})
	}
	return out, nil
}

// begin validates the request and freezes the gallery for the batch
func (s *RecognitionService) begin(ctx context.Context, date, label string) (*MarkResult, Snapshot, error) {
	if date == "" {
		date = s.attendance.Today()
	}
	if err := s.attendance.validateDate(date); err != nil {
		return nil, nil, err
	}
	snap, err := s.gallery.Snapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load gallery: %w", err)
	}
	return &MarkResult{
		Date:       date,
		Status:     StatusFromLabel(label),
		Recognized: []uint{},
		Created:    []database.AttendanceEntry{},
	}, snap, nil
}

// processImage routes each face of img. A face that fails to route is
// recorded on its outcome and does not stop the others.
func (s *RecognitionService) processImage(ctx context.Context, snap Snapshot, img image.Image, capturedAt *int64,
	recognized map[uint]struct{}, res *MarkResult, src *SourceResult) error {
	faces, err := s.analyze(ctx, img)
	if err != nil {
		return err
	}

	src.Faces = make([]FaceOutcome, 0, len(faces))
	for _, face := range faces {
		match := Match(snap, face.Embedding)
		out, err := s.router.Route(ctx, img, face, match, capturedAt)
		out.Source = src.Source
		if err != nil {
			s.logger.Warn("failed to route face", zap.String("source", src.Source), zap.String("route", string(out.Route)), zap.Error(err))
			out.Error = err.Error()
			src.Faces = append(src.Faces, out)
			continue
		}
		switch out.Route {
		case RouteAutoAccept:
			recognized[*out.StudentID] = struct{}{}
		case RouteReview:
			res.Reviewed++
		case RouteUnrecognized:
			res.Unrecognized++
		}
		src.Faces = append(src.Faces, out)
	}
	return nil
}

func (s *RecognitionService) finish(ctx context.Context, res *MarkResult, recognized map[uint]struct{}) (*MarkResult, error) {
	ids := make([]uint, 0, len(recognized))
	for id := range recognized {
		ids = append(ids, id)
	}
	res.Recognized = uniqueSorted(ids)

	created, err := s.attendance.Emit(ctx, res.Recognized, res.Date, res.Status)
	res.Created = created
	if err != nil {
		return res, fmt.Errorf("failed to emit attendance: %w", err)
	}
	return res, nil
}

func (s *RecognitionService) analyze(ctx context.Context, img image.Image) ([]media.DetectedFace, error) {
	if s.analyzer == nil {
		return nil, fmt.Errorf("%w: %v", ErrModel, media.ErrModelDisabled)
	}
	faces, err := s.analyzer.Analyze(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrModel, err)
	}
	return faces, nil
}
