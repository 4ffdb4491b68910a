package models

import (
	"math"
)

// GalleryEntry is the matching reference for one student: the mean of every
// retained FaceSample for that student. It corresponds to the 'gallery_entries' table.
type GalleryEntry struct {
	StudentID   uint   `gorm:"primaryKey;autoIncrement:false" json:"student_id"`
	AverageData []byte `gorm:"not null;column:average_data" json:"-"` // float32 vector as little-endian BLOB
	SampleCount int    `gorm:"not null" json:"sample_count"`
	Version     int64  `gorm:"not null;default:1" json:"version"` // bumped on every write, guards lost updates
	CreatedAt   int64  `gorm:"not null" json:"created_at"`        // Stored as INTEGER in SQLite, Unix timestamp
	UpdatedAt   int64  `gorm:"not null" json:"updated_at"`        // Stored as INTEGER in SQLite, Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (GalleryEntry) TableName() string {
	return "gallery_entries"
}

// Average decodes the stored mean embedding
func (ge *GalleryEntry) Average() []float32 {
	return DecodeVector(ge.AverageData)
}

// SetAverage encodes the mean embedding into the BLOB column
func (ge *GalleryEntry) SetAverage(avg []float32) {
	ge.AverageData = EncodeVector(avg)
}

// DecodeVector converts BLOB data to []float32
func DecodeVector(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}

	vec := make([]float32, len(data)/4) // 4 bytes per float32
	for i := 0; i < len(vec); i++ {
		offset := i * 4
		bits := uint32(data[offset]) |
			uint32(data[offset+1])<<8 |
			uint32(data[offset+2])<<16 |
			uint32(data[offset+3])<<24
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}

// EncodeVector converts []float32 to BLOB data
func EncodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}

	data := make([]byte, len(vec)*4)
	for i, val := range vec {
		offset := i * 4
		bits := math.Float32bits(val)
		data[offset] = byte(bits)
		data[offset+1] = byte(bits >> 8)
		data[offset+2] = byte(bits >> 16)
		data[offset+3] = byte(bits >> 24)
	}
	return data
}
