package notes

import (
	"errors"
	"fmt"
)

var (
	// ErrNoteNotFound indicates the referenced note does not exist or is not
	// visible to the requester.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrSubjectNotFound indicates the referenced subject does not exist.
	ErrSubjectNotFound = errors.New("notes: subject not found")
	// ErrForbidden indicates an ownership or role mismatch.
	ErrForbidden = errors.New("notes: operation not permitted")
	// ErrAlreadyPublished guards the publish transition against double
	// counting.
	ErrAlreadyPublished = errors.New("notes: note already published")
)

// ValidationError reports malformed or missing required input. No writes have
// happened when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("notes: invalid %s: %s", e.Field, e.Reason)
}

// OversizeError reports a chunk whose serialized payload exceeds the storage
// ceiling. Chunks persisted before the offending one remain committed.
type OversizeError struct {
	PartNumber int
	ActualSize int
	MaxSize    int
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("notes: part %d payload is %d bytes, exceeds maximum %d", e.PartNumber, e.ActualSize, e.MaxSize)
}

// ServiceError wraps infrastructure failures with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code for transport-layer mapping.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew        = "notes.service.new"
	opCreateNote        = "notes.create_note"
	opPublishDraft      = "notes.publish_draft"
	opPublishDue        = "notes.publish_due"
	opDeleteNote        = "notes.delete_note"
	opToggleLike        = "notes.toggle_like"
	opToggleAdminUpvote = "notes.toggle_admin_upvote"
	opListBySubject     = "notes.list_by_subject"
	opSearch            = "notes.search"
	opGetNote           = "notes.get_note"
	opUpdateNote        = "notes.update_note"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
