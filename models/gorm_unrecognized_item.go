package models

// UnrecognizedStatus is the adjudication state of an UnrecognizedItem
type UnrecognizedStatus string

const (
	UnrecognizedStatusPending    UnrecognizedStatus = "pending"
	UnrecognizedStatusIdentified UnrecognizedStatus = "identified"
	UnrecognizedStatusDiscarded  UnrecognizedStatus = "discarded"
)

var unrecognizedTransitions = map[UnrecognizedStatus][]UnrecognizedStatus{
	UnrecognizedStatusPending:    {UnrecognizedStatusIdentified, UnrecognizedStatusDiscarded},
	UnrecognizedStatusIdentified: {UnrecognizedStatusDiscarded},
}

// CanTransition reports whether an item in status s may move to next
func (s UnrecognizedStatus) CanTransition(next UnrecognizedStatus) bool {
	for _, allowed := range unrecognizedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// UnrecognizedItem is a detected face with no usable gallery candidate.
// It corresponds to the 'unrecognized_items' table.
type UnrecognizedItem struct {
	ID                  uint               `gorm:"primaryKey;autoIncrement" json:"id"`
	EmbeddingData       []byte             `gorm:"not null;column:embedding_data" json:"-"`
	ImagePath           string             `gorm:"column:image_path" json:"image_path,omitempty"`
	Status              UnrecognizedStatus `gorm:"not null;default:pending;size:16;index" json:"status"`
	IdentifiedStudentID *uint              `gorm:"index" json:"identified_student_id,omitempty"`
	SampleID            *uint              `gorm:"" json:"sample_id,omitempty"`
	CapturedAt          *int64             `gorm:"" json:"captured_at,omitempty"`
	ReviewedBy          *uint              `gorm:"" json:"reviewed_by,omitempty"`
	CreatedAt           int64              `gorm:"not null;index" json:"created_at"`
	UpdatedAt           int64              `gorm:"not null" json:"updated_at"`
}

// TableName explicitly sets the table name for GORM.
func (UnrecognizedItem) TableName() string {
	return "unrecognized_items"
}

func (ui *UnrecognizedItem) Embedding() []float32 {
	return DecodeVector(ui.EmbeddingData)
}

func (ui *UnrecognizedItem) SetEmbedding(embedding []float32) {
	ui.EmbeddingData = EncodeVector(embedding)
}
