package models

import (
	"errors"
	"fmt"
)

// ErrorKind labels the failure classes reported in batch summaries and
// query error envelopes.
type ErrorKind string

const (
	ErrKindValidation        ErrorKind = "ValidationError"
	ErrKindDanglingReference ErrorKind = "DanglingReferenceError"
	ErrKindConflict          ErrorKind = "ConflictError"
	ErrKindStoreUnavailable  ErrorKind = "StoreUnavailableError"
)

// ValidationError marks a malformed export record. The record is
// skipped; the batch continues.
type ValidationError struct {
	Entity     Kind
	ExternalID int64
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %d: %s %s", e.Entity, e.ExternalID, e.Field, e.Reason)
}

// BatchError converts the error into its summary-row form.
func (e *ValidationError) BatchError() BatchError {
	return BatchError{
		Kind:       ErrKindValidation,
		Entity:     e.Entity,
		ExternalID: e.ExternalID,
		Message:    fmt.Sprintf("%s %s", e.Field, e.Reason),
	}
}

// DanglingReferenceError marks an association naming an endpoint that
// exists neither in the batch nor in the store. The association is
// skipped, never fabricated.
type DanglingReferenceError struct {
	PostID   int64
	Taxonomy Kind
	TermID   int64
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("post %d references nonexistent %s %d", e.PostID, e.Taxonomy, e.TermID)
}

func (e *DanglingReferenceError) BatchError() BatchError {
	return BatchError{
		Kind:       ErrKindDanglingReference,
		Entity:     e.Taxonomy,
		ExternalID: e.TermID,
		Message:    fmt.Sprintf("post %d references nonexistent %s %d", e.PostID, e.Taxonomy, e.TermID),
	}
}

// ConflictError marks a unique-constraint violation not explained by
// the normal upsert flow. Recorded per entity; the batch continues.
type ConflictError struct {
	Entity     Kind
	ExternalID int64
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %d: %v", e.Entity, e.ExternalID, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

func (e *ConflictError) BatchError() BatchError {
	return BatchError{
		Kind:       ErrKindConflict,
		Entity:     e.Entity,
		ExternalID: e.ExternalID,
		Message:    e.Err.Error(),
	}
}

// StoreUnavailableError marks a connectivity or timeout failure. Fatal
// for the current batch or request; the caller decides whether to
// retry.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsStoreUnavailable reports whether err is (or wraps) a
// StoreUnavailableError.
func IsStoreUnavailable(err error) bool {
	var sue *StoreUnavailableError
	return errors.As(err, &sue)
}
