package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Storage
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Queue
	ErrQueueEmpty = errors.New("no pending jobs")
	ErrJobFailed  = errors.New("transcription job failed")

	// Session
	ErrDecodeFailed        = errors.New("audio decode failed")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrSessionTimeout      = errors.New("transcription did not finish in time")

	// Assistant
	ErrSearchUnavailable = errors.New("search unavailable")
	ErrEmptyConversation = errors.New("conversation has no user message")
	ErrRateLimited       = errors.New("rate limit exceeded")
)
