package models

// ReviewStatus is the adjudication state of a ReviewItem
type ReviewStatus string

const (
	ReviewStatusPending    ReviewStatus = "pending"
	ReviewStatusConfirmed  ReviewStatus = "confirmed"
	ReviewStatusReassigned ReviewStatus = "reassigned"
	ReviewStatusDiscarded  ReviewStatus = "discarded"
)

var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewStatusPending:    {ReviewStatusConfirmed, ReviewStatusDiscarded},
	ReviewStatusConfirmed:  {ReviewStatusReassigned, ReviewStatusDiscarded},
	ReviewStatusReassigned: {ReviewStatusReassigned, ReviewStatusDiscarded},
}

// CanTransition reports whether an item in status s may move to next.
// Discarded has no outgoing transitions.
func (s ReviewStatus) CanTransition(next ReviewStatus) bool {
	for _, allowed := range reviewTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Assigned reports whether the item currently contributes to a student
func (s ReviewStatus) Assigned() bool {
	return s == ReviewStatusConfirmed || s == ReviewStatusReassigned
}

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewStatusPending, ReviewStatusConfirmed, ReviewStatusReassigned, ReviewStatusDiscarded:
		return true
	}
	return false
}

// ReviewItem is a detected face whose best match fell between the similarity
// and high-confidence thresholds. It corresponds to the 'review_items' table.
type ReviewItem struct {
	ID                 uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	SuggestedStudentID *uint        `gorm:"index" json:"suggested_student_id,omitempty"`
	EmbeddingData      []byte       `gorm:"not null;column:embedding_data" json:"-"`
	Similarity         float32      `gorm:"not null" json:"similarity"`
	ImagePath          string       `gorm:"column:image_path" json:"image_path,omitempty"` // face crop, relative to MEDIA_STORAGE_PATH
	Status             ReviewStatus `gorm:"not null;default:pending;size:16;index" json:"status"`
	ConfirmedStudentID *uint        `gorm:"index" json:"confirmed_student_id,omitempty"`
	SampleID           *uint        `gorm:"" json:"sample_id,omitempty"`   // FaceSample contributed while confirmed
	CapturedAt         *int64       `gorm:"" json:"captured_at,omitempty"` // Nullable, EXIF capture time of the source photo
	ReviewedBy         *uint        `gorm:"" json:"reviewed_by,omitempty"` // Nullable, user id of the last adjudicator
	CreatedAt          int64        `gorm:"not null;index" json:"created_at"`
	UpdatedAt          int64        `gorm:"not null" json:"updated_at"`
}

// TableName explicitly sets the table name for GORM.
func (ReviewItem) TableName() string {
	return "review_items"
}

func (ri *ReviewItem) Embedding() []float32 {
	return DecodeVector(ri.EmbeddingData)
}

func (ri *ReviewItem) SetEmbedding(embedding []float32) {
	ri.EmbeddingData = EncodeVector(embedding)
}
