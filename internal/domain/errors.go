package domain

import "errors"

// Error taxonomy shared by the stores, services and the HTTP gateway.
// Callers wrap these with fmt.Errorf("...: %w", err) and classify with errors.Is.
var (
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTimeout      = errors.New("timeout")
	ErrInvalid      = errors.New("invalid")
)
