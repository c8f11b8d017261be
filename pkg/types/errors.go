package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every error that crosses the wire or surfaces from a session.
type ErrorKind string

const (
	KindRoomNotFound       ErrorKind = "room_not_found"
	KindDuplicateRoom      ErrorKind = "duplicate_room"
	KindRateLimitExceeded  ErrorKind = "rate_limit_exceeded"
	KindPeerDisconnected   ErrorKind = "peer_disconnected"
	KindTransferTimeout    ErrorKind = "transfer_timeout"
	KindMalformedMessage   ErrorKind = "malformed_message"
	KindRoomCreationFailed ErrorKind = "room_creation_failed"
	KindNotRoomSender      ErrorKind = "not_room_sender"
	KindRoomFull           ErrorKind = "room_full"
	KindIncompleteTransfer ErrorKind = "incomplete_transfer"
)

// Error is a classified, human-readable failure.
type Error struct {
	Kind   ErrorKind
	Reason string
}

// NewError builds an Error with a formatted reason.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// Is matches any Error of the same kind, so errors.Is(err, ErrRoomNotFound) holds
// regardless of the reason text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf extracts the kind of err, or "" when err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrRoomNotFound       = &Error{Kind: KindRoomNotFound, Reason: "Room not found or expired"}
	ErrDuplicateRoom      = &Error{Kind: KindDuplicateRoom, Reason: "Room id already in use"}
	ErrRateLimitExceeded  = &Error{Kind: KindRateLimitExceeded, Reason: "Rate limit exceeded"}
	ErrPeerDisconnected   = &Error{Kind: KindPeerDisconnected, Reason: "Sender disconnected"}
	ErrTransferTimeout    = &Error{Kind: KindTransferTimeout, Reason: "Transfer timed out"}
	ErrMalformedMessage   = &Error{Kind: KindMalformedMessage, Reason: "Malformed message"}
	ErrRoomCreationFailed = &Error{Kind: KindRoomCreationFailed, Reason: "Room creation failed"}
	ErrNotRoomSender      = &Error{Kind: KindNotRoomSender, Reason: "Only the room sender may do this"}
	ErrRoomFull           = &Error{Kind: KindRoomFull, Reason: "Room is full"}
	ErrIncompleteTransfer = &Error{Kind: KindIncompleteTransfer, Reason: "Transfer ended with chunks missing"}
)
