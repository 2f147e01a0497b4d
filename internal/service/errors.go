package service

import "errors"

// ErrSessionNotFound is returned for unknown or deleted sessions.
var ErrSessionNotFound = errors.New("session not found")
