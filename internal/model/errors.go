package model

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed or empty input documents.
// It is always raised before any collaborator call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CollaboratorError reports a failed call to the semantic-evaluation service
type CollaboratorError struct {
	Op         string // compile-rubric, embed-chunks, ...
	StatusCode int    // HTTP status, 0 when no response was received
	Body       string // Response body or service error message, if any
	Err        error
}

func (e *CollaboratorError) Error() string {
	msg := e.Op + " failed"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	} else if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// EmptyResultError reports a stage that produced nothing to work on
type EmptyResultError struct {
	Stage string
}

func (e *EmptyResultError) Error() string {
	switch e.Stage {
	case StageChunkExtraction:
		return "no gradable content: notebook produced zero chunks"
	case StageRubricCompilation:
		return "no requirements: rubric compilation returned an empty list"
	default:
		return e.Stage + " produced no results"
	}
}

// IsValidation reports whether err is, or wraps, a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsCollaborator reports whether err is, or wraps, a CollaboratorError
func IsCollaborator(err error) bool {
	var target *CollaboratorError
	return errors.As(err, &target)
}

// IsEmptyResult reports whether err is, or wraps, an EmptyResultError
func IsEmptyResult(err error) bool {
	var target *EmptyResultError
	return errors.As(err, &target)
}
