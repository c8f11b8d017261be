package transfer

import "errors"

var (
	// ErrInvalidTransition is returned when an event is not legal in the current
	// state. The state is left unchanged.
	ErrInvalidTransition = errors.New("event not valid in current state")
	ErrWrongRoom         = errors.New("event belongs to another room")
	ErrStoreClosed       = errors.New("chunk store already assembled or discarded")
	ErrChunkOutOfRange   = errors.New("chunk index out of range")
)
