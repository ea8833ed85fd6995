package service

import "errors"

var (
	ErrDocumentNotFound   = errors.New("document not found")
	ErrDeadLetterNotFound = errors.New("dead letter not found")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrEmptyFile          = errors.New("file is empty")
	ErrFileTooLarge       = errors.New("file too large")
	ErrInvalidFileType    = errors.New("invalid file type")
	ErrInvalidStatus      = errors.New("invalid status transition")
)
