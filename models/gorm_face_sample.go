package models

// SampleSource records how a raw embedding entered the gallery
type SampleSource string

const (
	SampleSourceEnrollment   SampleSource = "enrollment"
	SampleSourceAutoAccept   SampleSource = "auto_accept"
	SampleSourceReview       SampleSource = "review"
	SampleSourceUnrecognized SampleSource = "unrecognized"
)

// FaceSample is one raw embedding contributed to a student's gallery entry.
// The entry's average is always recomputable from these rows.
// It corresponds to the 'face_samples' table.
type FaceSample struct {
	ID            uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	StudentID     uint         `gorm:"not null;index" json:"student_id"`
	EmbeddingData []byte       `gorm:"not null;column:embedding_data" json:"-"`
	Source        SampleSource `gorm:"not null;size:32" json:"source"`
	SourceItemID  *uint        `gorm:"index" json:"source_item_id,omitempty"` // review or unrecognized item that produced it
	ImagePath     string       `gorm:"column:image_path" json:"image_path,omitempty"`
	CreatedAt     int64        `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (FaceSample) TableName() string {
	return "face_samples"
}

func (fs *FaceSample) Embedding() []float32 {
	return DecodeVector(fs.EmbeddingData)
}

func (fs *FaceSample) SetEmbedding(embedding []float32) {
	fs.EmbeddingData = EncodeVector(embedding)
}

// LinkedToQueue reports whether the sample belongs to an adjudicated queue item
func (fs *FaceSample) LinkedToQueue() bool {
	return fs.SourceItemID != nil &&
		(fs.Source == SampleSourceReview || fs.Source == SampleSourceUnrecognized)
}
