package notes

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sinaunote/backend/internal/subjects"
	"github.com/sinaunote/backend/internal/users"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingImageStore = errors.New("image store is required for inline image payloads")
	noOpLogger           = zap.NewNop()
)

// ImageStore persists raw image payloads and returns a stable reference.
type ImageStore interface {
	Save(ctx context.Context, name, contentType string, data []byte) (string, error)
}

// ServiceConfig describes the dependencies of the note engine.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Images   ImageStore
	Logger   *zap.Logger
}

// Service implements note ingestion, the publication lifecycle, engagement
// toggles, visibility-filtered reads, and relevance search.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	images ImageStore
	logger *zap.Logger
}

// NewService constructs the note engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		images: cfg.Images,
		logger: logger,
	}, nil
}

// CreateNote validates a submission, splits it into chunks, and persists each
// chunk as a Note. Published chunks bump the author and subject counters
// inside the same transaction that inserts the row.
//
// There is no transaction spanning chunks: when a later chunk fails its size
// check or insert, the earlier ones stay committed and are returned together
// with the error so the caller can inspect the partial result.
func (s *Service) CreateNote(ctx context.Context, sub Submission) ([]Note, error) {
	if err := s.validateSubmission(ctx, &sub); err != nil {
		return nil, err
	}

	author, err := s.loadAuthor(ctx, sub.AuthorID)
	if err != nil {
		return nil, err
	}

	chunks := buildChunks(sub)
	created := make([]Note, 0, len(chunks))
	var parentID *uint

	for _, part := range chunks {
		if _, err := checkChunkSize(sub, part); err != nil {
			var oversize *OversizeError
			if errors.As(err, &oversize) {
				s.logError(opCreateNote, "chunk_oversize", err,
					zap.Uint("author_id", sub.AuthorID),
					zap.Int("part_number", oversize.PartNumber),
					zap.Int("actual_size", oversize.ActualSize))
				return created, err
			}
			return created, newServiceError(opCreateNote, "chunk_serialize_failed", err)
		}

		refs, err := s.storeImages(ctx, part.Images)
		if err != nil {
			s.logError(opCreateNote, "image_store_failed", err, zap.Uint("author_id", sub.AuthorID))
			return created, newServiceError(opCreateNote, "image_store_failed", err)
		}

		now := s.clock().UTC()
		note := Note{
			Title:              part.Title,
			Description:        sub.Description,
			Content:            sub.Content,
			ExtractedText:      part.ExtractedText,
			Tags:               encodeStringList(sub.Tags),
			Images:             encodeStringList(refs),
			SubjectID:          sub.SubjectID,
			AuthorID:           sub.AuthorID,
			AuthorClass:        author.Class,
			Status:             sub.Status,
			Visibility:         sub.Visibility,
			ScheduledPublishAt: sub.ScheduledPublishAt,
			ParentNoteID:       parentID,
			PartNumber:         part.PartNumber,
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&note).Error; err != nil {
				return err
			}
			if note.Status.IsPublished() {
				return applyPublishCounters(tx, note.AuthorID, note.SubjectID, 1)
			}
			return nil
		})
		if txErr != nil {
			s.logError(opCreateNote, "chunk_insert_failed", txErr,
				zap.Uint("author_id", sub.AuthorID),
				zap.Int("part_number", part.PartNumber))
			return created, newServiceError(opCreateNote, "chunk_insert_failed", txErr)
		}

		if parentID == nil {
			firstID := note.ID
			parentID = &firstID
		}
		created = append(created, note)
	}

	return created, nil
}

func (s *Service) validateSubmission(ctx context.Context, sub *Submission) error {
	title := strings.TrimSpace(sub.Title)
	if title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if len(title) > maxTitleLength {
		return &ValidationError{Field: "title", Reason: "exceeds 200 characters"}
	}
	sub.Title = title

	switch sub.Status {
	case StatusDraft, StatusPublished:
	case "":
		sub.Status = StatusDraft
	default:
		return &ValidationError{Field: "status", Reason: "must be draft or published"}
	}
	switch sub.Visibility {
	case VisibilityEveryone, VisibilityClass:
	case "":
		sub.Visibility = VisibilityEveryone
	default:
		return &ValidationError{Field: "visibility", Reason: "must be everyone or class"}
	}

	if sub.SubjectID == 0 {
		return &ValidationError{Field: "subject_id", Reason: "is required"}
	}
	var subject subjects.Subject
	err := s.db.WithContext(ctx).Where("id = ?", sub.SubjectID).Take(&subject).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ValidationError{Field: "subject_id", Reason: "subject does not exist"}
	}
	if err != nil {
		return newServiceError(opCreateNote, "subject_lookup_failed", err)
	}
	return nil
}

func (s *Service) loadAuthor(ctx context.Context, authorID uint) (*users.User, error) {
	var author users.User
	err := s.db.WithContext(ctx).Where("id = ?", authorID).Take(&author).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &ValidationError{Field: "author_id", Reason: "author does not exist"}
	}
	if err != nil {
		return nil, newServiceError(opCreateNote, "author_lookup_failed", err)
	}
	return &author, nil
}

func (s *Service) storeImages(ctx context.Context, images []ImageInput) ([]string, error) {
	refs := make([]string, 0, len(images))
	for _, image := range images {
		if image.Ref != "" {
			refs = append(refs, image.Ref)
			continue
		}
		if len(image.Data) == 0 {
			continue
		}
		if s.images == nil {
			return nil, errMissingImageStore
		}
		ref, err := s.images.Save(ctx, image.Name, image.ContentType, image.Data)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// PublishDraft performs the draft to published transition for the owner.
// Publishing an already-published note fails with ErrAlreadyPublished and
// leaves every counter untouched.
func (s *Service) PublishDraft(ctx context.Context, noteID, ownerID uint) (*Note, error) {
	var published Note
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err := lockNote(tx, noteID)
		if err != nil {
			return err
		}
		if note.AuthorID != ownerID {
			return ErrForbidden
		}
		return s.publishLocked(tx, note)
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return nil, txErr
		}
		s.logError(opPublishDraft, "transition_failed", txErr, zap.Uint("note_id", noteID))
		return nil, newServiceError(opPublishDraft, "transition_failed", txErr)
	}

	if err := s.db.WithContext(ctx).Where("id = ?", noteID).Take(&published).Error; err != nil {
		return nil, newServiceError(opPublishDraft, "reload_failed", err)
	}
	return &published, nil
}

// publishLocked applies the transition to a row already locked inside tx.
func (s *Service) publishLocked(tx *gorm.DB, note *Note) error {
	if note.Status.IsPublished() {
		return ErrAlreadyPublished
	}
	now := s.clock().UTC()
	updates := map[string]interface{}{
		"status":               StatusPublished,
		"scheduled_publish_at": nil,
		"updated_at":           now,
	}
	if err := tx.Model(&Note{}).Where("id = ?", note.ID).Updates(updates).Error; err != nil {
		return err
	}
	return applyPublishCounters(tx, note.AuthorID, note.SubjectID, 1)
}

// PublishDue sweeps drafts whose scheduled publish time has passed and
// publishes each through the normal transition. Returns how many notes were
// published.
func (s *Service) PublishDue(ctx context.Context) (int, error) {
	now := s.clock().UTC()
	var due []Note
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_publish_at IS NOT NULL AND scheduled_publish_at <= ?", StatusDraft, now).
		Find(&due).Error
	if err != nil {
		return 0, newServiceError(opPublishDue, "query_failed", err)
	}

	published := 0
	for _, candidate := range due {
		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			note, err := lockNote(tx, candidate.ID)
			if err != nil {
				return err
			}
			return s.publishLocked(tx, note)
		})
		if errors.Is(txErr, ErrAlreadyPublished) || errors.Is(txErr, ErrNoteNotFound) {
			// A concurrent publish or delete won the race.
			continue
		}
		if txErr != nil {
			s.logError(opPublishDue, "transition_failed", txErr, zap.Uint("note_id", candidate.ID))
			return published, newServiceError(opPublishDue, "transition_failed", txErr)
		}
		published++
	}
	return published, nil
}

// ToggleLike flips the like state of (noteID, userID). It returns the state
// after the toggle.
func (s *Service) ToggleLike(ctx context.Context, noteID, userID uint) (bool, error) {
	liked := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err := lockNote(tx, noteID)
		if err != nil {
			return err
		}

		var existing NoteLike
		err = tx.Where("note_id = ? AND user_id = ?", noteID, userID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			like := NoteLike{NoteID: noteID, UserID: userID, CreatedAt: s.clock().UTC()}
			if err := tx.Create(&like).Error; err != nil {
				return err
			}
			if err := adjustNoteCounter(tx, noteID, "likes", 1); err != nil {
				return err
			}
			if err := adjustUserCounter(tx, note.AuthorID, "total_likes", 1); err != nil {
				return err
			}
			liked = true
		case err != nil:
			return err
		default:
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
			if err := adjustNoteCounter(tx, noteID, "likes", -1); err != nil {
				return err
			}
			if err := adjustUserCounter(tx, note.AuthorID, "total_likes", -1); err != nil {
				return err
			}
			liked = false
		}
		return nil
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return false, txErr
		}
		s.logError(opToggleLike, "toggle_failed", txErr, zap.Uint("note_id", noteID), zap.Uint("user_id", userID))
		return false, newServiceError(opToggleLike, "toggle_failed", txErr)
	}
	return liked, nil
}

// ToggleAdminUpvote flips the admin upvote state of (noteID, adminID). Role
// enforcement happens upstream; this layer only maintains the counters.
func (s *Service) ToggleAdminUpvote(ctx context.Context, noteID, adminID uint) (bool, error) {
	upvoted := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err := lockNote(tx, noteID)
		if err != nil {
			return err
		}

		var existing AdminNoteLike
		err = tx.Where("note_id = ? AND admin_id = ?", noteID, adminID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			upvote := AdminNoteLike{NoteID: noteID, AdminID: adminID, CreatedAt: s.clock().UTC()}
			if err := tx.Create(&upvote).Error; err != nil {
				return err
			}
			if err := adjustNoteCounter(tx, noteID, "admin_upvotes", 1); err != nil {
				return err
			}
			if err := adjustUserCounter(tx, note.AuthorID, "total_admin_upvotes", 1); err != nil {
				return err
			}
			upvoted = true
		case err != nil:
			return err
		default:
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
			if err := adjustNoteCounter(tx, noteID, "admin_upvotes", -1); err != nil {
				return err
			}
			if err := adjustUserCounter(tx, note.AuthorID, "total_admin_upvotes", -1); err != nil {
				return err
			}
			upvoted = false
		}
		return nil
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return false, txErr
		}
		s.logError(opToggleAdminUpvote, "toggle_failed", txErr, zap.Uint("note_id", noteID), zap.Uint("admin_id", adminID))
		return false, newServiceError(opToggleAdminUpvote, "toggle_failed", txErr)
	}

	s.recordAdminActivity(ctx, adminID, "admin_upvote_toggle", &noteID, "")
	return upvoted, nil
}

// DeleteNote removes a note and symmetrically reverses every counter
// increment it ever caused. Continuation siblings become independent notes.
// It returns the engagement points deducted from the author:
// likes + admin_upvotes x adminUpvoteWeight.
func (s *Service) DeleteNote(ctx context.Context, noteID, requesterID uint, isAdmin bool) (int, error) {
	points := 0
	var adminDeleted bool
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err := lockNote(tx, noteID)
		if err != nil {
			return err
		}
		if note.AuthorID != requesterID && !isAdmin {
			return ErrForbidden
		}
		adminDeleted = isAdmin && note.AuthorID != requesterID

		points = note.Likes + note.AdminUpvotes*adminUpvoteWeight

		if err := tx.Where("note_id = ?", noteID).Delete(&NoteLike{}).Error; err != nil {
			return err
		}
		if err := tx.Where("note_id = ?", noteID).Delete(&AdminNoteLike{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Note{}, noteID).Error; err != nil {
			return err
		}
		if err := tx.Model(&Note{}).Where("parent_note_id = ?", noteID).
			Update("parent_note_id", nil).Error; err != nil {
			return err
		}

		if err := adjustUserCounter(tx, note.AuthorID, "total_likes", -note.Likes); err != nil {
			return err
		}
		if err := adjustUserCounter(tx, note.AuthorID, "total_admin_upvotes", -note.AdminUpvotes); err != nil {
			return err
		}
		if note.Status.IsPublished() {
			return applyPublishCounters(tx, note.AuthorID, note.SubjectID, -1)
		}
		return nil
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return 0, txErr
		}
		s.logError(opDeleteNote, "delete_failed", txErr, zap.Uint("note_id", noteID))
		return 0, newServiceError(opDeleteNote, "delete_failed", txErr)
	}

	if adminDeleted {
		s.recordAdminActivity(ctx, requesterID, "note_delete", &noteID, "")
	}
	return points, nil
}

// NotePatch carries optional content edits. Nil fields stay untouched.
// Counters, lifecycle fields, and the author class snapshot are never
// editable through a patch.
type NotePatch struct {
	Title       *string
	Description *string
	Content     *string
	Tags        *[]string
	Visibility  *Visibility
}

// UpdateNote applies a content edit by the author or an admin.
func (s *Service) UpdateNote(ctx context.Context, noteID, requesterID uint, isAdmin bool, patch NotePatch) (*Note, error) {
	updates := map[string]interface{}{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
		}
		if len(title) > maxTitleLength {
			return nil, &ValidationError{Field: "title", Reason: "exceeds 200 characters"}
		}
		updates["title"] = title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	if patch.Tags != nil {
		updates["tags"] = encodeStringList(*patch.Tags)
	}
	if patch.Visibility != nil {
		switch *patch.Visibility {
		case VisibilityEveryone, VisibilityClass:
		default:
			return nil, &ValidationError{Field: "visibility", Reason: "must be everyone or class"}
		}
		updates["visibility"] = *patch.Visibility
	}

	var adminEdited bool
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		note, err := lockNote(tx, noteID)
		if err != nil {
			return err
		}
		if note.AuthorID != requesterID && !isAdmin {
			return ErrForbidden
		}
		adminEdited = isAdmin && note.AuthorID != requesterID
		if len(updates) == 0 {
			return nil
		}
		updates["updated_at"] = s.clock().UTC()
		return tx.Model(&Note{}).Where("id = ?", noteID).Updates(updates).Error
	})
	if txErr != nil {
		if isDomainError(txErr) {
			return nil, txErr
		}
		s.logError(opUpdateNote, "update_failed", txErr, zap.Uint("note_id", noteID))
		return nil, newServiceError(opUpdateNote, "update_failed", txErr)
	}

	if adminEdited {
		s.recordAdminActivity(ctx, requesterID, "note_update", &noteID, "")
	}

	var updated Note
	if err := s.db.WithContext(ctx).Where("id = ?", noteID).Take(&updated).Error; err != nil {
		return nil, newServiceError(opUpdateNote, "reload_failed", err)
	}
	return &updated, nil
}

// GetNote loads one note if the viewer may see it. Invisible notes read as
// not found rather than forbidden.
func (s *Service) GetNote(ctx context.Context, noteID uint, viewer Viewer) (*Note, error) {
	var note Note
	err := s.db.WithContext(ctx).Where("id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, newServiceError(opGetNote, "query_failed", err)
	}
	if note.AuthorID == viewer.ID || CanView(viewer, &note) {
		return &note, nil
	}
	return nil, ErrNoteNotFound
}

// ListBySubject returns the subject's notes the viewer may see, newest first.
// The viewer's own drafts and class-restricted notes are included regardless
// of the visibility policy.
func (s *Service) ListBySubject(ctx context.Context, subjectID uint, viewer Viewer) ([]Note, error) {
	var subject subjects.Subject
	err := s.db.WithContext(ctx).Where("id = ?", subjectID).Take(&subject).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		return nil, newServiceError(opListBySubject, "subject_lookup_failed", err)
	}

	var rows []Note
	err = s.db.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, newServiceError(opListBySubject, "query_failed", err)
	}

	visible := make([]Note, 0, len(rows))
	for i := range rows {
		if rows[i].AuthorID == viewer.ID || CanView(viewer, &rows[i]) {
			visible = append(visible, rows[i])
		}
	}
	return visible, nil
}

// Search ranks the viewer-visible notes against a free-text query. An empty
// query returns an empty result set without error.
func (s *Service) Search(ctx context.Context, query string, viewer Viewer) ([]Note, error) {
	tokens := tokenizeQuery(query)
	if len(tokens) == 0 {
		return []Note{}, nil
	}

	var rows []Note
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, newServiceError(opSearch, "query_failed", err)
	}

	subjectNames, err := s.subjectNames(ctx)
	if err != nil {
		return nil, newServiceError(opSearch, "subject_lookup_failed", err)
	}
	authorNames, err := s.authorNames(ctx, rows)
	if err != nil {
		return nil, newServiceError(opSearch, "author_lookup_failed", err)
	}

	docs := make([]searchDoc, 0, len(rows))
	for i := range rows {
		if rows[i].AuthorID != viewer.ID && !CanView(viewer, &rows[i]) {
			continue
		}
		docs = append(docs, searchDoc{
			note:        &rows[i],
			authorName:  authorNames[rows[i].AuthorID],
			subjectName: subjectNames[rows[i].SubjectID],
		})
	}
	return rankDocs(tokens, docs), nil
}

func (s *Service) subjectNames(ctx context.Context) (map[uint]string, error) {
	var catalog []subjects.Subject
	if err := s.db.WithContext(ctx).Find(&catalog).Error; err != nil {
		return nil, err
	}
	names := make(map[uint]string, len(catalog))
	for _, subject := range catalog {
		names[subject.ID] = subject.Name
	}
	return names, nil
}

func (s *Service) authorNames(ctx context.Context, rows []Note) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(rows))
	ids := make([]uint, 0, len(rows))
	for i := range rows {
		if _, ok := seen[rows[i].AuthorID]; ok {
			continue
		}
		seen[rows[i].AuthorID] = struct{}{}
		ids = append(ids, rows[i].AuthorID)
	}
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var authors []users.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&authors).Error; err != nil {
		return nil, err
	}
	for _, author := range authors {
		names[author.ID] = author.DisplayName
	}
	return names, nil
}

// lockNote loads a note row under an update lock inside tx.
func lockNote(tx *gorm.DB, noteID uint) (*Note, error) {
	var note Note
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", noteID).
		Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// recordAdminActivity writes the moderation audit trail. Failures are logged
// and never propagated to the primary operation.
func (s *Service) recordAdminActivity(ctx context.Context, adminID uint, action string, noteID *uint, detail string) {
	activity := AdminActivity{
		AdminID:   adminID,
		Action:    action,
		NoteID:    noteID,
		Detail:    detail,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&activity).Error; err != nil {
		s.logger.Warn("admin activity write failed",
			zap.Uint("admin_id", adminID),
			zap.String("action", action),
			zap.Error(err))
	}
}

func isDomainError(err error) bool {
	if errors.Is(err, ErrNoteNotFound) ||
		errors.Is(err, ErrSubjectNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrAlreadyPublished) {
		return true
	}
	var validation *ValidationError
	var oversize *OversizeError
	return errors.As(err, &validation) || errors.As(err, &oversize)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes service error", attrs...)
}
