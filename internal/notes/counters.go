package notes

import (
	"gorm.io/gorm"

	"github.com/sinaunote/backend/internal/subjects"
	"github.com/sinaunote/backend/internal/users"
)

// adminUpvoteWeight is the point value of one admin upvote relative to a
// regular like when deletion deducts points.
const adminUpvoteWeight = 5

// Counter mutations run inside the caller's transaction so that a note row
// change and its counter effect commit or fail as one unit. Decrements clamp
// at zero in SQL; simple read-modify-write races can at worst lose a unit,
// never drive a counter negative.

func counterExpr(column string, delta int) interface{} {
	if delta >= 0 {
		return gorm.Expr(column+" + ?", delta)
	}
	return gorm.Expr("MAX("+column+" - ?, 0)", -delta)
}

func adjustUserCounter(tx *gorm.DB, userID uint, column string, delta int) error {
	if delta == 0 {
		return nil
	}
	return tx.Model(&users.User{}).
		Where("id = ?", userID).
		UpdateColumn(column, counterExpr(column, delta)).Error
}

func adjustSubjectNoteCount(tx *gorm.DB, subjectID uint, delta int) error {
	if delta == 0 {
		return nil
	}
	return tx.Model(&subjects.Subject{}).
		Where("id = ?", subjectID).
		UpdateColumn("note_count", counterExpr("note_count", delta)).Error
}

func adjustNoteCounter(tx *gorm.DB, noteID uint, column string, delta int) error {
	if delta == 0 {
		return nil
	}
	return tx.Model(&Note{}).
		Where("id = ?", noteID).
		UpdateColumn(column, counterExpr(column, delta)).Error
}

// applyPublishCounters records one published note against the author's upload
// counter and the subject's note count. Delta -1 reverses the effect on
// deletion.
func applyPublishCounters(tx *gorm.DB, authorID, subjectID uint, delta int) error {
	if err := adjustUserCounter(tx, authorID, "notes_uploaded", delta); err != nil {
		return err
	}
	return adjustSubjectNoteCount(tx, subjectID, delta)
}
