package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sinaunote/backend/internal/notes"
	"github.com/sinaunote/backend/internal/subjects"
	"github.com/sinaunote/backend/internal/users"
)

const viewerContextKey = "sinau_viewer"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingNotesService   = errors.New("notes service dependency required")
	errMissingSubjectService = errors.New("subject service dependency required")
	errMissingUserService    = errors.New("user service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator checks a bearer token and returns its subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the services behind it.
type Dependencies struct {
	TokenValidator TokenValidator
	NotesService   *notes.Service
	SubjectService *subjects.Service
	UserService    *users.Service
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.NotesService == nil {
		return nil, errMissingNotesService
	}
	if deps.SubjectService == nil {
		return nil, errMissingSubjectService
	}
	if deps.UserService == nil {
		return nil, errMissingUserService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenValidator,
		notes:    deps.NotesService,
		subjects: deps.SubjectService,
		users:    deps.UserService,
		logger:   logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/notes", handler.handleCreateNote)
	protected.GET("/notes/search", handler.handleSearch)
	protected.GET("/notes/:id", handler.handleGetNote)
	protected.PATCH("/notes/:id", handler.handleUpdateNote)
	protected.DELETE("/notes/:id", handler.handleDeleteNote)
	protected.POST("/notes/:id/publish", handler.handlePublishDraft)
	protected.POST("/notes/:id/like", handler.handleToggleLike)
	protected.POST("/notes/:id/admin-upvote", handler.handleToggleAdminUpvote)
	protected.GET("/subjects", handler.handleListSubjects)
	protected.GET("/subjects/:id/notes", handler.handleListSubjectNotes)
	protected.POST("/admin/subjects/reconcile", handler.handleReconcileSubjects)

	return router, nil
}

type httpHandler struct {
	tokens   TokenValidator
	notes    *notes.Service
	subjects *subjects.Service
	users    *users.Service
	logger   *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := strconv.ParseUint(subject, 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	account, err := h.users.GetByID(c.Request.Context(), uint(userID))
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("account lookup failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "account_lookup_failed"})
		return
	}
	c.Set(viewerContextKey, account)
	c.Next()
}

func (h *httpHandler) currentUser(c *gin.Context) (*users.User, bool) {
	value, exists := c.Get(viewerContextKey)
	if !exists {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	account, ok := value.(*users.User)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	return account, true
}

func viewerFor(account *users.User) notes.Viewer {
	return notes.Viewer{ID: account.ID, Class: account.Class}
}

func pathID(c *gin.Context) (uint, bool) {
	raw := c.Param("id")
	parsed, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || parsed == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return uint(parsed), true
}

type imagePayload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	DataB64     string `json:"data_b64"`
	Ref         string `json:"ref"`
}

type createNoteRequest struct {
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	Content            string         `json:"content"`
	ExtractedText      string         `json:"extracted_text"`
	Tags               []string       `json:"tags"`
	Images             []imagePayload `json:"images"`
	ImagePath          string         `json:"image_path"`
	SubjectID          uint           `json:"subject_id"`
	Status             string         `json:"status"`
	Visibility         string         `json:"visibility"`
	ScheduledPublishAt *time.Time     `json:"scheduled_publish_at"`
}

type notePayload struct {
	ID                 uint       `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Content            string     `json:"content"`
	ExtractedText      string     `json:"extracted_text"`
	Tags               []string   `json:"tags"`
	Images             []string   `json:"images"`
	SubjectID          uint       `json:"subject_id"`
	AuthorID           uint       `json:"author_id"`
	AuthorClass        string     `json:"author_class"`
	Status             string     `json:"status"`
	Visibility         string     `json:"visibility"`
	ScheduledPublishAt *time.Time `json:"scheduled_publish_at,omitempty"`
	ParentNoteID       *uint      `json:"parent_note_id,omitempty"`
	PartNumber         int        `json:"part_number"`
	Likes              int        `json:"likes"`
	AdminUpvotes       int        `json:"admin_upvotes"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toNotePayload(note notes.Note) notePayload {
	tags := note.TagList()
	if tags == nil {
		tags = []string{}
	}
	images := note.ImageRefs()
	if images == nil {
		images = []string{}
	}
	return notePayload{
		ID:                 note.ID,
		Title:              note.Title,
		Description:        note.Description,
		Content:            note.Content,
		ExtractedText:      note.ExtractedText,
		Tags:               tags,
		Images:             images,
		SubjectID:          note.SubjectID,
		AuthorID:           note.AuthorID,
		AuthorClass:        note.AuthorClass,
		Status:             string(note.Status),
		Visibility:         string(note.Visibility),
		ScheduledPublishAt: note.ScheduledPublishAt,
		ParentNoteID:       note.ParentNoteID,
		PartNumber:         note.PartNumber,
		Likes:              note.Likes,
		AdminUpvotes:       note.AdminUpvotes,
		CreatedAt:          note.CreatedAt,
		UpdatedAt:          note.UpdatedAt,
	}
}

func toNotePayloads(rows []notes.Note) []notePayload {
	payloads := make([]notePayload, 0, len(rows))
	for _, row := range rows {
		payloads = append(payloads, toNotePayload(row))
	}
	return payloads
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	account, ok := h.currentUser(c)
	if !ok {
		return
	}

	var request createNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	images := make([]notes.ImageInput, 0, len(request.Images))
	for _, image := range request.Images {
		input := notes.ImageInput{
			Name:        image.Name,
			ContentType: image.ContentType,
			Ref:         image.Ref,
		}
		if image.DataB64 != "" {
			data, err := base64.StdEncoding.DecodeString(image.DataB64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_image_data"})
				return
			}
			input.Data = data
		}
		images = append(images, input)
	}

	created, err := h.notes.CreateNote(c.Request.Context(), notes.Submission{
		Title:              request.Title,
		Description:        request.Description,
		Content:            request.Content,
		ExtractedText:      request.ExtractedText,
		Tags:               request.Tags,
		Images:             images,
		ImagePath:          request.ImagePath,
		SubjectID:          request.SubjectID,
		AuthorID:           account.ID,
		Status:             notes.Status(request.Status),
		Visibility:         notes.Visibility(request.Visibility),
		ScheduledPublishAt: request.ScheduledPublishAt,
	})
	if err != nil {
		// A failed chunk aborts the rest, but earlier chunks stay
		// committed; report them next to the error.
		h.respondError(c, err, gin.H{"created": toNotePayloads(created)})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"notes": toNotePayloads(created)})
}

func (h *httpHandler) handlePublishDraft(c *gin.Context) {
	account, ok := h.currentUser(c)
	if !ok {
		return
	}
	noteID, ok := pathID(c)
	if !ok {
		return
	}

	published, err := h.notes.PublishDraft(c.Request.Context(), noteID, account.ID)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": toNotePayload(*published)})
}

type updateNoteRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Content     *string   `json:"content"`
	Tags        *[]string `json:"tags"`
	Visibility  *string   `json:"visibility"`
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	account, ok := h.currentUser(c)
	if !ok {
		return
	}
	noteID, ok := pathID(c)
	if !ok {
		return
	}

	var request updateNoteRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	patch := notes.NotePatch{
		Title:       request.Title,
		Description: request.Description,
		Content:     request.Content,
		Tags:        request.Tags,
	}
	if request.Visibility != nil {
		visibility := notes.Visibility(*request.Visibility)
		patch.Visibility = &visibility
	}

	updated, err := h.notes.UpdateNote(c.Request.Context(), noteID, account.ID, account.IsAdmin(), patch)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": toNotePayload(*updated)})
}

func (h *httpHandler) handleGetNote(c *gin.Context) {
	account, ok := h.currentUser(c)
	if !ok {
		return
	}
	noteID, ok := pathID(c)
	if !ok {
		return
	}

	note, err := h.notes.GetNote(c.Request.Context(), noteID, viewerFor(account))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": toNotePayload(*note)})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	account, ok := h.currentUser(c)
	if !ok {
		return
	}
	noteID, ok := pathID(c)
	if !ok {
		return
	}

	points, err := h.notes.DeleteNote(c.Request.Context(), noteID, account.ID, account.IsAdmin())
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points_deducted": points})
}

func (h *httpHandler) handleToggleLike(c *gin.Context) {
	account, ok := h.currentUser(c)
	if !ok {
		return
	}
	noteID, ok := pathID(c)
	if !ok {
		return
	}

	liked, err := h.notes.ToggleLike(c.Request.Context(), noteID, account.ID)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked})
}

func (h *httpHandler) handleToggleAdminUpvote(c *gin.Context) {
	account, ok := h.currentUser(c)
	if !ok {
		return
	}
	if !account.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}
	noteID, ok := pathID(c)
	if !ok {
		return
	}

	liked, err := h.notes.ToggleAdminUpvote(c.Request.Context(), noteID, account.ID)
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"liked": liked})
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	account, ok := h.currentUser(c)
	if !ok {
		return
	}

	results, err := h.notes.Search(c.Request.Context(), c.Query("q"), viewerFor(account))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": toNotePayloads(results)})
}

type subjectPayload struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon"`
	NoteCount int    `json:"note_count"`
}

func (h *httpHandler) handleListSubjects(c *gin.Context) {
	if _, ok := h.currentUser(c); !ok {
		return
	}

	catalog, err := h.subjects.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	payloads := make([]subjectPayload, 0, len(catalog))
	for _, subject := range catalog {
		payloads = append(payloads, subjectPayload{
			ID:        subject.ID,
			Name:      subject.Name,
			Icon:      subject.Icon,
			NoteCount: subject.NoteCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"subjects": payloads})
}

func (h *httpHandler) handleListSubjectNotes(c *gin.Context) {
	account, ok := h.currentUser(c)
	if !ok {
		return
	}
	subjectID, ok := pathID(c)
	if !ok {
		return
	}

	rows, err := h.notes.ListBySubject(c.Request.Context(), subjectID, viewerFor(account))
	if err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": toNotePayloads(rows)})
}

func (h *httpHandler) handleReconcileSubjects(c *gin.Context) {
	account, ok := h.currentUser(c)
	if !ok {
		return
	}
	if !account.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin_required"})
		return
	}

	if err := h.subjects.Reconcile(c.Request.Context()); err != nil {
		h.respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reconciled"})
}

// respondError maps service errors onto HTTP statuses. The extra map, when
// present, is merged into the response body.
func (h *httpHandler) respondError(c *gin.Context, err error, extra gin.H) {
	body := gin.H{}
	for key, value := range extra {
		body[key] = value
	}

	var validation *notes.ValidationError
	var oversize *notes.OversizeError
	var svcErr *notes.ServiceError

	switch {
	case errors.As(err, &validation):
		body["error"] = "validation_failed"
		body["field"] = validation.Field
		body["reason"] = validation.Reason
		c.JSON(http.StatusBadRequest, body)
	case errors.As(err, &oversize):
		body["error"] = "payload_too_large"
		body["part_number"] = oversize.PartNumber
		body["actual_size"] = oversize.ActualSize
		body["max_size"] = oversize.MaxSize
		c.JSON(http.StatusRequestEntityTooLarge, body)
	case errors.Is(err, notes.ErrNoteNotFound), errors.Is(err, notes.ErrSubjectNotFound), errors.Is(err, subjects.ErrSubjectNotFound):
		body["error"] = "not_found"
		c.JSON(http.StatusNotFound, body)
	case errors.Is(err, notes.ErrForbidden):
		body["error"] = "forbidden"
		c.JSON(http.StatusForbidden, body)
	case errors.Is(err, notes.ErrAlreadyPublished):
		body["error"] = "already_published"
		c.JSON(http.StatusConflict, body)
	case errors.As(err, &svcErr):
		h.logger.Error("request failed", zap.String("code", svcErr.Code()), zap.Error(err))
		body["error"] = "internal_error"
		body["code"] = svcErr.Code()
		c.JSON(http.StatusInternalServerError, body)
	default:
		h.logger.Error("request failed", zap.Error(err))
		body["error"] = "internal_error"
		c.JSON(http.StatusInternalServerError, body)
	}
}
