package users

import "time"

// Role enumerates the account roles.
type Role string

const (
	// RoleStudent is the default account role.
	RoleStudent Role = "student"
	// RoleAdmin grants access to moderation operations.
	RoleAdmin Role = "admin"
)

// User models an account together with its aggregate engagement counters.
// Each counter is a running sum over the user's live notes; note mutations
// update them inside the same transaction that touches the note row.
type User struct {
	ID                uint      `gorm:"column:id;primaryKey"`
	ExternalID        string    `gorm:"column:external_id;size:190;index"`
	DisplayName       string    `gorm:"column:display_name;size:190;not null"`
	Class             string    `gorm:"column:class;size:32;not null;default:''"`
	Role              Role      `gorm:"column:role;size:16;not null;default:'student'"`
	NotesUploaded     int       `gorm:"column:notes_uploaded;not null;default:0"`
	TotalLikes        int       `gorm:"column:total_likes;not null;default:0"`
	TotalAdminUpvotes int       `gorm:"column:total_admin_upvotes;not null;default:0"`
	CreatedAt         time.Time `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// IsAdmin reports whether the account may perform moderation operations.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
