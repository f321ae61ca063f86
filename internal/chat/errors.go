package chat

import "errors"

var (
	// ErrSessionNotFound covers unknown sessions and sessions owned by another visitor.
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyQuestion   = errors.New("question is required")
	ErrMissingVisitor  = errors.New("visitor id is required")
)
