package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/sinaunote/backend/internal/auth"
	"github.com/sinaunote/backend/internal/notes"
	"github.com/sinaunote/backend/internal/subjects"
	"github.com/sinaunote/backend/internal/users"
)

type stubImageStore struct {
	saved int
}

func (s *stubImageStore) Save(_ context.Context, name, _ string, _ []byte) (string, error) {
	s.saved++
	return fmt.Sprintf("stub://images/%d-%s", s.saved, name), nil
}

type routerFixture struct {
	server *httptest.Server
	issuer *auth.TokenIssuer
	db     *gorm.DB
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(
		&notes.Note{},
		&notes.NoteLike{},
		&notes.AdminNoteLike{},
		&notes.AdminActivity{},
		&subjects.Subject{},
		&users.User{},
	); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	noteService, err := notes.NewService(notes.ServiceConfig{
		Database: db,
		Images:   &stubImageStore{},
	})
	if err != nil {
		t.Fatalf("failed to construct notes service: %v", err)
	}
	subjectService, err := subjects.NewService(subjects.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct subject service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "sinaunote-auth",
		Audience:      "sinaunote-api",
		TokenTTL:      time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenValidator: issuer,
		NotesService:   noteService,
		SubjectService: subjectService,
		UserService:    userService,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &routerFixture{server: server, issuer: issuer, db: db}
}

func (f *routerFixture) seedUser(t *testing.T, name, class string, role users.Role) users.User {
	t.Helper()
	user := users.User{DisplayName: name, Class: class, Role: role}
	if err := f.db.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func (f *routerFixture) seedSubject(t *testing.T, name string) subjects.Subject {
	t.Helper()
	subject := subjects.Subject{Name: name, Icon: "book"}
	if err := f.db.Create(&subject).Error; err != nil {
		t.Fatalf("failed to seed subject: %v", err)
	}
	return subject
}

func (f *routerFixture) tokenFor(t *testing.T, user users.User) string {
	t.Helper()
	token, _, err := f.issuer.IssueToken(context.Background(), fmt.Sprintf("%d", user.ID))
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (f *routerFixture) do(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewBuffer(encoded)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	request, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func decodeBody(t *testing.T, response *http.Response) map[string]interface{} {
	t.Helper()
	body := map[string]interface{}{}
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

func TestRouterRejectsMissingAndInvalidTokens(t *testing.T) {
	fixture := newRouterFixture(t)

	response := fixture.do(t, http.MethodGet, "/subjects", "", nil)
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", response.StatusCode)
	}

	response = fixture.do(t, http.MethodGet, "/subjects", "not-a-jwt", nil)
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed token, got %d", response.StatusCode)
	}

	// Valid signature but no matching account.
	ghost, _, err := fixture.issuer.IssueToken(context.Background(), "999")
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	response = fixture.do(t, http.MethodGet, "/subjects", ghost, nil)
	if response.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown account, got %d", response.StatusCode)
	}
}

func TestRouterRejectsMalformedNoteID(t *testing.T) {
	fixture := newRouterFixture(t)
	user := fixture.seedUser(t, "Rina", "10.1", users.RoleStudent)
	token := fixture.tokenFor(t, user)

	response := fixture.do(t, http.MethodGet, "/notes/abc", token, nil)
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", response.StatusCode)
	}
	body := decodeBody(t, response)
	if body["error"] != "invalid_id" {
		t.Fatalf("unexpected error code: %v", body["error"])
	}
}

func TestCreateNoteEndpointSplitsImages(t *testing.T) {
	fixture := newRouterFixture(t)
	subject := fixture.seedSubject(t, "Biologi")
	user := fixture.seedUser(t, "Rina", "10.1", users.RoleStudent)
	token := fixture.tokenFor(t, user)

	images := make([]map[string]string, 0, 4)
	for i := 0; i < 4; i++ {
		images = append(images, map[string]string{
			"name":         fmt.Sprintf("page-%d.jpg", i+1),
			"content_type": "image/jpeg",
			"data_b64":     base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, byte(i)}),
		})
	}

	response := fixture.do(t, http.MethodPost, "/notes", token, map[string]interface{}{
		"title":      "Fotosintesis",
		"subject_id": subject.ID,
		"status":     "published",
		"visibility": "everyone",
		"images":     images,
	})
	if response.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", response.StatusCode)
	}

	body := decodeBody(t, response)
	created, ok := body["notes"].([]interface{})
	if !ok {
		t.Fatalf("expected notes array in response, got %T", body["notes"])
	}
	if len(created) != 2 {
		t.Fatalf("four images should produce 2 notes, got %d", len(created))
	}

	second, ok := created[1].(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected note payload shape")
	}
	if second["part_number"] != float64(2) {
		t.Fatalf("expected part number 2, got %v", second["part_number"])
	}
	if second["parent_note_id"] == nil {
		t.Fatalf("continuation note should carry parent_note_id")
	}
}

func TestCreateNoteEndpointValidationError(t *testing.T) {
	fixture := newRouterFixture(t)
	user := fixture.seedUser(t, "Budi", "11.2", users.RoleStudent)
	token := fixture.tokenFor(t, user)

	response := fixture.do(t, http.MethodPost, "/notes", token, map[string]interface{}{
		"title":      "",
		"subject_id": 1,
	})
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.StatusCode)
	}
	body := decodeBody(t, response)
	if body["error"] != "validation_failed" || body["field"] != "title" {
		t.Fatalf("unexpected validation body: %v", body)
	}
}

func TestCreateNoteEndpointOversizeReportsPartialResult(t *testing.T) {
	fixture := newRouterFixture(t)
	subject := fixture.seedSubject(t, "Fisika")
	user := fixture.seedUser(t, "Dewi", "10.3", users.RoleStudent)
	token := fixture.tokenFor(t, user)

	images := []map[string]string{
		{"name": "ok.jpg", "content_type": "image/jpeg", "data_b64": base64.StdEncoding.EncodeToString([]byte{1})},
		{"name": "a.jpg", "content_type": "image/jpeg", "data_b64": base64.StdEncoding.EncodeToString([]byte{2})},
		{"name": "b.jpg", "content_type": "image/jpeg", "data_b64": base64.StdEncoding.EncodeToString([]byte{3})},
		{"name": "huge.jpg", "content_type": "image/jpeg", "data_b64": base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xAB}, 900*1024))},
	}

	response := fixture.do(t, http.MethodPost, "/notes", token, map[string]interface{}{
		"title":      "Gerak parabola",
		"subject_id": subject.ID,
		"status":     "published",
		"images":     images,
	})
	if response.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", response.StatusCode)
	}

	body := decodeBody(t, response)
	if body["error"] != "payload_too_large" {
		t.Fatalf("unexpected error code: %v", body["error"])
	}
	if body["part_number"] != float64(2) {
		t.Fatalf("expected oversize report for part 2, got %v", body["part_number"])
	}
	committed, ok := body["created"].([]interface{})
	if !ok || len(committed) != 1 {
		t.Fatalf("expected the committed first chunk in the response, got %v", body["created"])
	}
}

func TestPublishEndpointConflictOnSecondPublish(t *testing.T) {
	fixture := newRouterFixture(t)
	subject := fixture.seedSubject(t, "Sejarah")
	user := fixture.seedUser(t, "Agus", "11.1", users.RoleStudent)
	token := fixture.tokenFor(t, user)

	note := notes.Note{
		Title:      "Proklamasi",
		SubjectID:  subject.ID,
		AuthorID:   user.ID,
		Status:     notes.StatusDraft,
		PartNumber: 1,
	}
	if err := fixture.db.Create(&note).Error; err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}

	path := fmt.Sprintf("/notes/%d/publish", note.ID)
	response := fixture.do(t, http.MethodPost, path, token, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on first publish, got %d", response.StatusCode)
	}

	response = fixture.do(t, http.MethodPost, path, token, nil)
	if response.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second publish, got %d", response.StatusCode)
	}
	body := decodeBody(t, response)
	if body["error"] != "already_published" {
		t.Fatalf("unexpected error code: %v", body["error"])
	}
}

func TestAdminEndpointsRequireAdminRole(t *testing.T) {
	fixture := newRouterFixture(t)
	subject := fixture.seedSubject(t, "Kimia")
	student := fixture.seedUser(t, "Sari", "12.1", users.RoleStudent)
	admin := fixture.seedUser(t, "Bu Ani", "", users.RoleAdmin)
	studentToken := fixture.tokenFor(t, student)
	adminToken := fixture.tokenFor(t, admin)

	note := notes.Note{
		Title:      "Stoikiometri",
		SubjectID:  subject.ID,
		AuthorID:   student.ID,
		Status:     notes.StatusPublished,
		PartNumber: 1,
	}
	if err := fixture.db.Create(&note).Error; err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}
	upvotePath := fmt.Sprintf("/notes/%d/admin-upvote", note.ID)

	response := fixture.do(t, http.MethodPost, upvotePath, studentToken, nil)
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for student upvote, got %d", response.StatusCode)
	}

	response = fixture.do(t, http.MethodPost, upvotePath, adminToken, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin upvote, got %d", response.StatusCode)
	}
	body := decodeBody(t, response)
	if body["liked"] != true {
		t.Fatalf("expected liked true, got %v", body["liked"])
	}

	response = fixture.do(t, http.MethodPost, "/admin/subjects/reconcile", studentToken, nil)
	if response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for student reconcile, got %d", response.StatusCode)
	}
	response = fixture.do(t, http.MethodPost, "/admin/subjects/reconcile", adminToken, nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for admin reconcile, got %d", response.StatusCode)
	}
}

func TestGetNoteEndpointHidesRestrictedNotes(t *testing.T) {
	fixture := newRouterFixture(t)
	subject := fixture.seedSubject(t, "Biologi")
	author := fixture.seedUser(t, "Rina", "10.1", users.RoleStudent)
	outsider := fixture.seedUser(t, "Fajar", "10.2", users.RoleStudent)

	note := notes.Note{
		Title:       "Mitokondria",
		SubjectID:   subject.ID,
		AuthorID:    author.ID,
		AuthorClass: "10.1",
		Status:      notes.StatusPublished,
		Visibility:  notes.VisibilityClass,
		PartNumber:  1,
	}
	if err := fixture.db.Create(&note).Error; err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}

	path := fmt.Sprintf("/notes/%d", note.ID)
	response := fixture.do(t, http.MethodGet, path, fixture.tokenFor(t, outsider), nil)
	if response.StatusCode != http.StatusNotFound {
		t.Fatalf("restricted note should read as 404 for outsiders, got %d", response.StatusCode)
	}

	response = fixture.do(t, http.MethodGet, path, fixture.tokenFor(t, author), nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("author should see own note, got %d", response.StatusCode)
	}
}

func TestSearchEndpointReturnsRankedNotes(t *testing.T) {
	fixture := newRouterFixture(t)
	subject := fixture.seedSubject(t, "Biologi")
	author := fixture.seedUser(t, "Rina", "10.1", users.RoleStudent)
	reader := fixture.seedUser(t, "Fajar", "10.2", users.RoleStudent)

	rows := []notes.Note{
		{Title: "Biologi dasar", SubjectID: subject.ID, AuthorID: author.ID, Status: notes.StatusPublished, PartNumber: 1},
		{Title: "Catatan praktikum", ExtractedText: "pengamatan biologi", SubjectID: subject.ID, AuthorID: author.ID, Status: notes.StatusPublished, PartNumber: 1},
	}
	for i := range rows {
		if err := fixture.db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("failed to seed note: %v", err)
		}
	}

	response := fixture.do(t, http.MethodGet, "/notes/search?q=biologi", fixture.tokenFor(t, reader), nil)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
	body := decodeBody(t, response)
	results, ok := body["notes"].([]interface{})
	if !ok {
		t.Fatalf("expected notes array, got %T", body["notes"])
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	first, ok := results[0].(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape")
	}
	if first["title"] != "Biologi dasar" {
		t.Fatalf("title match should rank first, got %v", first["title"])
	}
}
