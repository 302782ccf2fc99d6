package subjects

import "time"

// Subject is one entry in the fixed study subject catalog. NoteCount is
// derived from the live published notes referencing the subject; the
// Reconcile procedure restores it after drift.
type Subject struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	Name      string    `gorm:"column:name;size:64;uniqueIndex;not null"`
	Icon      string    `gorm:"column:icon;size:64"`
	NoteCount int       `gorm:"column:note_count;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Subject) TableName() string {
	return "subjects"
}
