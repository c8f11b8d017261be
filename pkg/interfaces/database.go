package interfaces

import (
	"context"

	"dropline/pkg/types"
)

// TransferRecorder receives the lifecycle of every room for audit history
// FUNCTIONAL DISCOVERY: Recording is best effort; the broker logs failures and
// never blocks a transfer on the history store
type TransferRecorder interface {
	RecordRoomCreated(ctx context.Context, record *types.TransferRecord) error
	RecordRoomClosed(ctx context.Context, closed *types.TransferClose) error
}

// TransferStore is the persistent side of transfer history
type TransferStore interface {
	TransferRecorder

	// ListTransfers returns the most recent records, newest first
	ListTransfers(ctx context.Context, limit int) ([]*types.TransferRecord, error)

	// GetTransfer returns one record by room id
	GetTransfer(ctx context.Context, roomID string) (*types.TransferRecord, error)

	// HealthCheck verifies database connectivity
	HealthCheck(ctx context.Context) error

	Close() error
}
