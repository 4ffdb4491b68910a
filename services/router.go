package services

import (
	"context"
	"fmt"
	"image"

	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/realtime"
	"github.com/camden-git/attendancebackend/repository"
	"go.uber.org/zap"
)

// Route is the outcome of the confidence policy for one face
type Route string

const (
	RouteUnrecognized Route = "unrecognized"
	RouteReview       Route = "review"
	RouteAutoAccept   Route = "auto_accept"
)

// Thresholds are the two cut-offs of the confidence policy
type Thresholds struct {
	Similarity     float32 `json:"similarity_threshold"`
	HighConfidence float32 `json:"high_confidence_threshold"`
}

// Validate requires 0 <= Similarity <= HighConfidence <= 1
func (t Thresholds) Validate() error {
	if t.Similarity < 0 || t.HighConfidence > 1 || t.Similarity > t.HighConfidence {
		return validationErrorf("thresholds must satisfy 0 <= %v <= %v <= 1", t.Similarity, t.HighConfidence)
	}
	return nil
}

// Classify applies the policy. A similarity equal to a threshold belongs to
// the higher band.
func (t Thresholds) Classify(m MatchResult) Route {
	switch {
	case m.StudentID == nil || m.Similarity < t.Similarity:
		return RouteUnrecognized
	case m.Similarity < t.HighConfidence:
		return RouteReview
	default:
		return RouteAutoAccept
	}
}

// FaceCropper stores a crop of a detected face
type FaceCropper interface {
	SaveFaceCrop(img image.Image, box image.Rectangle, prefix string) (string, error)
}

// FaceOutcome records what happened to one detected face
type FaceOutcome struct {
	Source     string          `json:"source,omitempty"`
	Box        image.Rectangle `json:"box"`
	Route      Route           `json:"route"`
	StudentID  *uint           `json:"student_id,omitempty"`
	Similarity float32         `json:"similarity"`
	ItemID     uint            `json:"item_id,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Router performs the write each route calls for: a gallery contribution, a
// review item, or an unrecognized item
type Router struct {
	thresholds Thresholds
	gallery    *GalleryService
	store      *repository.Store
	cropper    FaceCropper
	events     Broadcaster
	logger     *zap.Logger
}

func NewRouter(thresholds Thresholds, gallery *GalleryService, store *repository.Store, cropper FaceCropper, events Broadcaster, logger *zap.Logger) (*Router, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Router{
		thresholds: thresholds,
		gallery:    gallery,
		store:      store,
		cropper:    cropper,
		events:     orNoop(events),
		logger:     logger.Named("router"),
	}, nil
}

func (r *Router) Thresholds() Thresholds { return r.thresholds }

// Route classifies a matched face and applies the result. img is the image
// the face box refers to and is only used to store a crop for queued items.
func (r *Router) Route(ctx context.Context, img image.Image, face media.DetectedFace, match MatchResult, capturedAt *int64) (FaceOutcome, error) {
	out := FaceOutcome{
		Box:        face.Box,
		Route:      r.thresholds.Classify(match),
		StudentID:  match.StudentID,
		Similarity: match.Similarity,
	}

	switch out.Route {
	case RouteAutoAccept:
		_, sample, err := r.gallery.Contribute(ctx, *match.StudentID, face.Embedding, SampleInput{Source: models.SampleSourceAutoAccept})
		if err != nil {
			return out, fmt.Errorf("auto-accept for student %d: %w", *match.StudentID, err)
		}
		r.logger.Debug("auto-accepted face", zap.Uint("student_id", *match.StudentID), zap.Float32("similarity", match.Similarity), zap.Uint("sample_id", sample.ID))

	case RouteReview:
		item := &models.ReviewItem{
			SuggestedStudentID: match.StudentID,
			Similarity:         match.Similarity,
			ImagePath:          r.saveCrop(img, face.Box, "review"),
			CapturedAt:         capturedAt,
		}
		item.SetEmbedding(face.Embedding)
		if err := r.store.Reviews.Create(ctx, item); err != nil {
			return out, err
		}
		out.ItemID = item.ID
		r.events.Broadcast(realtime.Event{
			Type:      realtime.EventReviewCreated,
			ItemID:    item.ID,
			StudentID: *match.StudentID,
			Extra:     map[string]interface{}{"similarity": match.Similarity},
		})

	case RouteUnrecognized:
		item := &models.UnrecognizedItem{
			ImagePath:  r.saveCrop(img, face.Box, "unrecognized"),
			CapturedAt: capturedAt,
		}
		item.SetEmbedding(face.Embedding)
		if err := r.store.Unrecognized.Create(ctx, item); err != nil {
			return out, err
		}
		out.ItemID = item.ID
		r.events.Broadcast(realtime.Event{Type: realtime.EventUnrecognizedCreated, ItemID: item.ID})
	}
	return out, nil
}

// saveCrop stores the face crop; a failure leaves the item without an image
func (r *Router) saveCrop(img image.Image, box image.Rectangle, prefix string) string {
	if r.cropper == nil || img == nil {
		return ""
	}
	path, err := r.cropper.SaveFaceCrop(img, box, prefix)
	if err != nil {
		r.logger.Warn("failed to store face crop", zap.String("prefix", prefix), zap.Error(err))
		return ""
	}
	return path
}
