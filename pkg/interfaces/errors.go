package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrTransferNotFound = errors.New("transfer not found")
)
