package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Concrete errors wrap one of these so callers can use errors.Is.
var (
	ErrValidation     = errors.New("validation error")
	ErrSessionTimeout = errors.New("session timed out")
	ErrPersistence    = errors.New("persistence error")
	ErrCollaborator   = errors.New("collaborator failure")
)

var (
	ErrEmptyInput      = fmt.Errorf("%w: input is empty", ErrValidation)
	ErrInputTooLong    = fmt.Errorf("%w: input is too long", ErrValidation)
	ErrMissingSeriesID = fmt.Errorf("%w: session has no series id", ErrPersistence)
	ErrMissingUserID   = fmt.Errorf("%w: session has no user id", ErrPersistence)
	ErrSessionNotFound = errors.New("session not found")

	ErrSourceImmutable = errors.New("source document already set")
	ErrUnknownParent   = errors.New("parent post is not part of the series")
	ErrPostNotFound    = errors.New("post not found")
)
