package models

// Student is the identity faces are matched against.
// It corresponds to the 'students' table.
type Student struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	RollNumber string `gorm:"not null;uniqueIndex" json:"roll_number"`
	FullName   string `gorm:"not null" json:"full_name"`
	CreatedAt  int64  `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp
	UpdatedAt  int64  `gorm:"not null" json:"updated_at"` // Stored as INTEGER in SQLite, Unix timestamp

	// omitempty hides these unless explicitly loaded
	Gallery *GalleryEntry `gorm:"-" json:"gallery,omitempty"`
}

// TableName explicitly sets the table name for GORM.
func (Student) TableName() string {
	return "students"
}
