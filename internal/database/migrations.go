package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sinaunote/backend/internal/subjects"
)

const (
	migrationSeedSubjectCatalog     = "2026-07-14_seed_subject_catalog"
	migrationRepairSubjectNoteCount = "2026-08-02_repair_subject_note_counts"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationSeedSubjectCatalog, apply: seedSubjectCatalog},
		{name: migrationRepairSubjectNoteCount, apply: repairSubjectNoteCounts},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// defaultSubjectCatalog is the fixed set of study subjects. Seeding is keyed
// by name so re-running never duplicates or resets counters.
var defaultSubjectCatalog = []subjects.Subject{
	{Name: "Matematika", Icon: "calculator"},
	{Name: "Fisika", Icon: "atom"},
	{Name: "Kimia", Icon: "flask"},
	{Name: "Biologi", Icon: "leaf"},
	{Name: "Bahasa Indonesia", Icon: "book"},
	{Name: "Bahasa Inggris", Icon: "globe"},
	{Name: "Sejarah", Icon: "scroll"},
	{Name: "Ekonomi", Icon: "chart"},
	{Name: "Geografi", Icon: "map"},
	{Name: "Informatika", Icon: "cpu"},
}

func seedSubjectCatalog(db *gorm.DB) error {
	for _, entry := range defaultSubjectCatalog {
		var existing subjects.Subject
		err := db.Where("name = ?", entry.Name).Take(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		now := time.Now().UTC()
		entry.CreatedAt = now
		entry.UpdatedAt = now
		if err := db.Create(&entry).Error; err != nil {
			return err
		}
	}
	return nil
}

// repairSubjectNoteCounts restores the derived note_count column after a
// period where unpublished deletions could leave it drifted.
func repairSubjectNoteCounts(db *gorm.DB) error {
	return db.Exec(`
UPDATE subjects SET note_count = (
	SELECT COUNT(*) FROM notes
	WHERE notes.subject_id = subjects.id
	AND (notes.status = 'published' OR notes.status = '')
)`).Error
}
