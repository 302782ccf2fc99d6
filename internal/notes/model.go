package notes

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Status enumerates the note lifecycle states.
type Status string

const (
	// StatusDraft marks a note that is not yet readable by other users.
	StatusDraft Status = "draft"
	// StatusPublished marks a note that has gone through the publish transition.
	StatusPublished Status = "published"
)

// IsPublished reports whether the status counts as published. Rows written
// before the lifecycle field existed carry an empty status and are treated
// as published.
func (s Status) IsPublished() bool {
	return s == StatusPublished || s == ""
}

// Visibility enumerates who may read a published note.
type Visibility string

const (
	// VisibilityEveryone makes a note readable by any user.
	VisibilityEveryone Visibility = "everyone"
	// VisibilityClass restricts a note to viewers sharing the author's class.
	VisibilityClass Visibility = "class"
)

const (
	maxTitleLength   = 200
	maxImagesPerNote = 3
)

// Note models one persisted note record. Oversized submissions are split into
// several Note rows linked through ParentNoteID and PartNumber.
type Note struct {
	ID                 uint           `gorm:"column:id;primaryKey"`
	Title              string         `gorm:"column:title;size:200;not null"`
	Description        string         `gorm:"column:description;type:text"`
	Content            string         `gorm:"column:content;type:text"`
	ExtractedText      string         `gorm:"column:extracted_text;type:text"`
	Tags               datatypes.JSON `gorm:"column:tags"`
	Images             datatypes.JSON `gorm:"column:images"`
	SubjectID          uint           `gorm:"column:subject_id;not null;index:idx_notes_subject_created,priority:1"`
	AuthorID           uint           `gorm:"column:author_id;not null;index"`
	AuthorClass        string         `gorm:"column:author_class;size:32;not null;default:''"`
	Status             Status         `gorm:"column:status;size:16;not null;default:'draft'"`
	Visibility         Visibility     `gorm:"column:visibility;size:16;not null;default:'everyone'"`
	ScheduledPublishAt *time.Time     `gorm:"column:scheduled_publish_at"`
	ParentNoteID       *uint          `gorm:"column:parent_note_id;index"`
	PartNumber         int            `gorm:"column:part_number;not null;default:1"`
	Likes              int            `gorm:"column:likes;not null;default:0"`
	AdminUpvotes       int            `gorm:"column:admin_upvotes;not null;default:0"`
	CreatedAt          time.Time      `gorm:"column:created_at;not null;index:idx_notes_subject_created,priority:2"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// TagList decodes the stored tag array. A missing or malformed column decodes
// to an empty list.
func (n *Note) TagList() []string {
	return decodeStringList(n.Tags)
}

// ImageRefs decodes the ordered image references stored on the note.
func (n *Note) ImageRefs() []string {
	return decodeStringList(n.Images)
}

// NoteLike records that one user currently likes one note. The pair is unique;
// toggling a like inserts or deletes this row.
type NoteLike struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	NoteID    uint      `gorm:"column:note_id;not null;uniqueIndex:idx_note_likes_note_user,priority:1"`
	UserID    uint      `gorm:"column:user_id;not null;uniqueIndex:idx_note_likes_note_user,priority:2"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (NoteLike) TableName() string {
	return "note_likes"
}

// AdminNoteLike records an admin upvote on a note, following the same toggle
// pattern as NoteLike.
type AdminNoteLike struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	NoteID    uint      `gorm:"column:note_id;not null;uniqueIndex:idx_admin_note_likes_note_admin,priority:1"`
	AdminID   uint      `gorm:"column:admin_id;not null;uniqueIndex:idx_admin_note_likes_note_admin,priority:2"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AdminNoteLike) TableName() string {
	return "admin_note_likes"
}

// AdminActivity captures a best-effort audit trail of admin moderation
// actions. Writing it must never fail the primary operation.
type AdminActivity struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	AdminID   uint      `gorm:"column:admin_id;not null;index"`
	Action    string    `gorm:"column:action;size:64;not null"`
	NoteID    *uint     `gorm:"column:note_id"`
	Detail    string    `gorm:"column:detail;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (AdminActivity) TableName() string {
	return "admin_activities"
}

// ImageInput is one image supplied with a submission. Either Data carries the
// raw payload to be stored, or Ref points at an already stored object
// (the legacy single-path input format).
type ImageInput struct {
	Name        string
	ContentType string
	Data        []byte
	Ref         string
}

// Submission is the caller-facing input for CreateNote. One submission may
// produce several Note rows when it carries more than maxImagesPerNote images.
type Submission struct {
	Title              string
	Description        string
	Content            string
	ExtractedText      string
	Tags               []string
	Images             []ImageInput
	ImagePath          string
	SubjectID          uint
	AuthorID           uint
	Status             Status
	Visibility         Visibility
	ScheduledPublishAt *time.Time
}

func decodeStringList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}
	return values
}

func encodeStringList(values []string) datatypes.JSON {
	if len(values) == 0 {
		return datatypes.JSON("[]")
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(encoded)
}
