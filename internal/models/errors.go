package models

import (
	"context"
	"errors"
)

// ErrorType identifies the category of error that ended a unit.
type ErrorType string

const (
	// A required epoch directory, descriptor or artifact is missing.
	ErrTypeSourceNotFound ErrorType = "source_not_found"

	// The delegated computation exited non-zero or did not write its outputs.
	ErrTypeExternalProcessor ErrorType = "external_processor_failure"
	ErrTypeProcessorTimeout  ErrorType = "external_processor_timeout"

	// An artifact exists but cannot be parsed.
	ErrTypeArtifactCorrupt ErrorType = "artifact_corrupt"

	// A pointer descriptor cannot be dereferenced.
	ErrTypeReferenceResolution ErrorType = "reference_resolution_failure"

	ErrTypeCancelled ErrorType = "cancelled"

	// Catch-all
	ErrTypeInternal ErrorType = "internal_error"
)

var (
	ErrSourceNotFound      = errors.New("source not found")
	ErrExternalProcessor   = errors.New("external processor failure")
	ErrProcessorTimeout    = errors.New("external processor timed out")
	ErrArtifactCorrupt     = errors.New("artifact corrupt")
	ErrReferenceResolution = errors.New("reference resolution failure")
)

// ClassifyError maps an error chain onto the ErrorType recorded in a unit outcome.
func ClassifyError(err error) ErrorType {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return ErrTypeCancelled
	case errors.Is(err, ErrProcessorTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrTypeProcessorTimeout
	case errors.Is(err, ErrExternalProcessor):
		return ErrTypeExternalProcessor
	case errors.Is(err, ErrSourceNotFound):
		return ErrTypeSourceNotFound
	case errors.Is(err, ErrReferenceResolution):
		return ErrTypeReferenceResolution
	case errors.Is(err, ErrArtifactCorrupt):
		return ErrTypeArtifactCorrupt
	default:
		return ErrTypeInternal
	}
}
