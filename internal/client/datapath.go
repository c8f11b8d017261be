package client

import (
	"context"
	"time"

	"dropline/pkg/types"
)

// emitter carries a sender's chunk frames to one recipient.
type emitter interface {
	// Emit hands one frame to the data path, blocking while it is backed up.
	Emit(ctx context.Context, frame *types.ChunkFrame) error
	// Finish runs after the last frame and returns once the path has delivered it.
	Finish(ctx context.Context) error
	Close() error
}

// relayEmitter streams frames through the relay connection with a fixed delay
// between chunks. The connection's bounded write queue blocks Emit when the
// socket falls behind.
type relayEmitter struct {
	gw   *Gateway
	pace time.Duration
}

func (e *relayEmitter) Emit(ctx context.Context, frame *types.ChunkFrame) error {
	if err := e.gw.SendFrame(frame); err != nil {
		return err
	}
	if e.pace <= 0 {
		return nil
	}
	timer := time.NewTimer(e.pace)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish is a no-op: the completion envelope queues behind the last frame.
func (e *relayEmitter) Finish(context.Context) error { return nil }

func (e *relayEmitter) Close() error { return nil }
