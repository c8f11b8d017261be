package client

import "errors"

var (
	ErrGatewayClosed    = errors.New("relay connection closed")
	ErrSignalTimeout    = errors.New("timed out waiting for the peer's session description")
	ErrChannelClosed    = errors.New("data channel closed before the transfer finished")
	ErrDrainTimeout     = errors.New("timed out waiting for the peer to drain the data channel")
	ErrUnexpectedSignal = errors.New("unexpected signal")
)
