package interfaces

import (
	"context"
)

// MessageHandler consumes inbound frames from the WebSocket gateway
// ARCHITECTURAL DISCOVERY: The gateway knows nothing about rooms; it hands every
// frame to the handler synchronously from the connection's read pump, which gives
// per-connection ordering without any global serialization
type MessageHandler interface {
	// HandleText processes one JSON text frame
	HandleText(ctx context.Context, conn Connection, data []byte)

	// HandleBinary processes one binary frame
	HandleBinary(ctx context.Context, conn Connection, data []byte)

	// HandleDisconnect runs once after the connection's read pump exits
	HandleDisconnect(conn Connection)
}
