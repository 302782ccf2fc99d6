package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrUserNotFound indicates no account exists for the requested identifier.
var ErrUserNotFound = errors.New("users: user not found")

// ServiceConfig describes the dependencies required for account lookup.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service resolves accounts for the request path. It never caches counter
// state; the row in the database is the single source of truth.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// GetByID loads one account.
func (s *Service) GetByID(ctx context.Context, id uint) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// DisplayNamesByID returns a display-name lookup for the given author ids.
// Unknown ids are simply absent from the result.
func (s *Service) DisplayNamesByID(ctx context.Context, ids []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var rows []User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		names[row.ID] = row.DisplayName
	}
	return names, nil
}

// Register creates an account with the default role. Display names are
// trimmed; an empty one is rejected.
func (s *Service) Register(ctx context.Context, displayName, class string) (*User, error) {
	trimmed := strings.TrimSpace(displayName)
	if trimmed == "" {
		return nil, fmt.Errorf("users: display name required")
	}
	now := s.now().UTC()
	user := User{
		DisplayName: trimmed,
		Class:       strings.TrimSpace(class),
		Role:        RoleStudent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
