package apperrors

import "errors"

var (
	ErrNotFound   = errors.New("not found")
	ErrNotStarted = errors.New("service not started")
)
