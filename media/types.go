package media

import "image"

type AssetType string

const (
	AssetTypeEnrollment AssetType = "enrollment"
	AssetTypeFaceCrop   AssetType = "face_crop"
)

// DetectedFace is one face found by the analyzer: its box in source image
// pixel coordinates and an L2-normalised embedding
type DetectedFace struct {
	Box        image.Rectangle `json:"box"`
	Embedding  []float32       `json:"-"`
	Confidence float32         `json:"confidence"`
}
