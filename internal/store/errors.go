package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")

	// ErrInvalidTransition signals a coordination race or bug: a worker tried
	// to transition a job it no longer holds, or one that is already terminal.
	ErrInvalidTransition = errors.New("invalid job transition")
)
