package notes

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/sinaunote/backend/internal/subjects"
	"github.com/sinaunote/backend/internal/users"
)

var testClockStart = time.Unix(1700000600, 0).UTC()

// memoryImageStore collects saved payloads and hands out deterministic refs.
type memoryImageStore struct {
	saved int
}

func (m *memoryImageStore) Save(_ context.Context, name, _ string, _ []byte) (string, error) {
	m.saved++
	return fmt.Sprintf("mem://images/%d-%s", m.saved, name), nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:sinau_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Note{}, &NoteLike{}, &AdminNoteLike{}, &AdminActivity{}, &subjects.Subject{}, &users.User{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return testClockStart }

	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    clock,
		Images:   &memoryImageStore{},
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}

	return service, db
}

func seedSubject(t *testing.T, db *gorm.DB, name string) subjects.Subject {
	t.Helper()
	subject := subjects.Subject{Name: name, Icon: "book"}
	if err := db.Create(&subject).Error; err != nil {
		t.Fatalf("failed to seed subject: %v", err)
	}
	return subject
}

func seedUser(t *testing.T, db *gorm.DB, name, class string, role users.Role) users.User {
	t.Helper()
	user := users.User{DisplayName: name, Class: class, Role: role}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func reloadNote(t *testing.T, db *gorm.DB, id uint) Note {
	t.Helper()
	var note Note
	if err := db.Where("id = ?", id).Take(&note).Error; err != nil {
		t.Fatalf("failed to reload note %d: %v", id, err)
	}
	return note
}

func reloadUser(t *testing.T, db *gorm.DB, id uint) users.User {
	t.Helper()
	var user users.User
	if err := db.Where("id = ?", id).Take(&user).Error; err != nil {
		t.Fatalf("failed to reload user %d: %v", id, err)
	}
	return user
}

func reloadSubject(t *testing.T, db *gorm.DB, id uint) subjects.Subject {
	t.Helper()
	var subject subjects.Subject
	if err := db.Where("id = ?", id).Take(&subject).Error; err != nil {
		t.Fatalf("failed to reload subject %d: %v", id, err)
	}
	return subject
}

func makeImages(t *testing.T, count int) []ImageInput {
	t.Helper()
	images := make([]ImageInput, 0, count)
	for i := 0; i < count; i++ {
		images = append(images, ImageInput{
			Name:        fmt.Sprintf("page-%d.jpg", i+1),
			ContentType: "image/jpeg",
			Data:        []byte{0xFF, 0xD8, byte(i)},
		})
	}
	return images
}
