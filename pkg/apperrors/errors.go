// Package apperrors defines the error types the resolution engine surfaces
// to callers. Handlers map these onto HTTP status codes; everything else is
// treated as an internal error.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
)

// ValidationError reports malformed input rejected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AlreadyResolvedError reports a resolution attempt against a candidate or
// cluster that is no longer pending. Surfaced as a conflict; callers must
// not retry.
type AlreadyResolvedError struct {
	// Subject names what was being resolved; empty means "candidate".
	Subject     string
	CandidateID uuid.UUID
	Status      string
}

func (e *AlreadyResolvedError) Error() string {
	subject := e.Subject
	if subject == "" {
		subject = "candidate"
	}
	return fmt.Sprintf("%s %s already resolved (status: %s)", subject, e.CandidateID, e.Status)
}

// IsAlreadyResolved reports whether err is an AlreadyResolvedError.
func IsAlreadyResolved(err error) bool {
	var are *AlreadyResolvedError
	return errors.As(err, &are)
}

// MergeConflictError reports a uniqueness violation during repointing that
// the collapse rule could not cover. The whole merge transaction is rolled
// back; Relationship names the blocking table verbatim so the review surface
// can show it.
type MergeConflictError struct {
	Relationship string
	Detail       string
}

func (e *MergeConflictError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("merge conflict on %s", e.Relationship)
	}
	return fmt.Sprintf("merge conflict on %s: %s", e.Relationship, e.Detail)
}

// IsMergeConflict reports whether err is a MergeConflictError.
func IsMergeConflict(err error) bool {
	var mce *MergeConflictError
	return errors.As(err, &mce)
}

// IntegrityError reports a merged_into chain that exceeded the traversal
// depth bound. This always signals corrupted merge pointers and is fatal.
type IntegrityError struct {
	EntityID uuid.UUID
	Depth    int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("canonical chain for entity %s exceeded depth %d (cycle or corrupted merge pointers)", e.EntityID, e.Depth)
}

// IsIntegrity reports whether err is an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
