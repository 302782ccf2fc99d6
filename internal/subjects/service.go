package subjects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrSubjectNotFound indicates no catalog entry exists for the identifier.
var ErrSubjectNotFound = errors.New("subjects: subject not found")

// reconcileNoteCounts recomputes every subject's note_count from the live
// note rows. Empty status counts as published for the same legacy reason the
// visibility policy treats it that way.
const reconcileNoteCounts = `
UPDATE subjects SET note_count = (
	SELECT COUNT(*) FROM notes
	WHERE notes.subject_id = subjects.id
	AND (notes.status = 'published' OR notes.status = '')
)`

// ServiceConfig describes the dependencies for the subject catalog.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service exposes the subject catalog and its count reconciliation.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("subjects: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// List returns the full catalog ordered by name.
func (s *Service) List(ctx context.Context) ([]Subject, error) {
	var catalog []Subject
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&catalog).Error; err != nil {
		return nil, err
	}
	return catalog, nil
}

// GetByID loads one catalog entry.
func (s *Service) GetByID(ctx context.Context, id uint) (*Subject, error) {
	var subject Subject
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&subject).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &subject, nil
}

// Reconcile restores the note_count invariant for every subject after drift.
func (s *Service) Reconcile(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec(reconcileNoteCounts).Error; err != nil {
		return err
	}
	s.logger.Info("subject note counts reconciled")
	return nil
}

// Seed inserts catalog entries that are not present yet, keyed by name.
// Existing entries keep their counters.
func (s *Service) Seed(ctx context.Context, entries []Subject) error {
	for _, entry := range entries {
		var existing Subject
		err := s.db.WithContext(ctx).Where("name = ?", entry.Name).Take(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		now := s.now().UTC()
		entry.CreatedAt = now
		entry.UpdatedAt = now
		if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
			return err
		}
	}
	return nil
}
