package store

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a requested row doesn't exist for the owner
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique constraint rejects a write
	ErrDuplicate = errors.New("already exists")

	// ErrExpired is returned when a one-time code is past its expiry
	ErrExpired = errors.New("expired")
)

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
