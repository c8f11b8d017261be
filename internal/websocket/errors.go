package websocket

import (
	"errors"

	"dropline/pkg/interfaces"
)

// Connection-related errors
var (
	ErrConnectionClosed = interfaces.ErrConnectionClosed
	ErrWriteTimeout     = errors.New("write queue full past the write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrDuplicateConnection = errors.New("connection id already registered")
)
