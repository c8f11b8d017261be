package client

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dropline/internal/transfer"
	"dropline/pkg/types"
)

// ReceiveRequest describes one join.
type ReceiveRequest struct {
	RoomID string
	// Timeout caps the whole receive, from join; zero means transfer.DefaultTimeout.
	Timeout  time.Duration
	NewStore transfer.StoreFactory

	// OnReady runs when the room metadata arrives.
	OnReady    func(metadata types.FileMetadata, mode types.DataPath)
	OnProgress func(p transfer.Progress)
}

// Receive joins a room and returns the reassembled file. The caller owns the
// blob and must save or close it.
func (c *Client) Receive(ctx context.Context, req ReceiveRequest) (*transfer.Blob, error) {
	gw, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = gw.Close() }()

	machine := transfer.NewReceiver(transfer.ReceiverOptions{
		Timeout:  req.Timeout,
		NewStore: req.NewStore,
	})
	s := &receiveSession{
		client:  c,
		gw:      gw,
		req:     req,
		machine: machine,
		logger:  c.logger.WithFields(logrus.Fields{"role": "receiver", "room_id": req.RoomID}),
	}
	defer s.closeDirect()
	return s.run(ctx)
}

type receiveSession struct {
	client  *Client
	gw      *Gateway
	req     ReceiveRequest
	machine *transfer.Receiver
	direct  *directReceiver
	frames  <-chan *types.ChunkFrame
	blob    *transfer.Blob
	logger  logrus.FieldLogger
}

func (s *receiveSession) run(ctx context.Context) (*transfer.Blob, error) {
	if err := s.apply(ctx, transfer.Join{RoomID: s.req.RoomID}); err != nil {
		return nil, err
	}
	if err := s.apply(ctx, transfer.JoinSent{}); err != nil {
		return nil, err
	}

	// The deadline is fixed at join; chunks do not extend it.
	timer := time.NewTimer(time.Until(s.machine.Deadline()))
	defer timer.Stop()

	inbound := s.gw.Inbound()
	for !s.machine.State().Terminal() {
		var err error
		select {
		case in, ok := <-inbound:
			if !ok {
				inbound = nil
				err = s.apply(ctx, transfer.Disconnected{Err: s.gw.Err()})
				break
			}
			err = s.handleInbound(ctx, in)
		case frame, ok := <-s.frames:
			if !ok {
				s.frames = nil
				err = s.apply(ctx, transfer.Disconnected{Err: ErrChannelClosed})
				break
			}
			err = s.apply(ctx, frameEvent(frame))
		case <-timer.C:
			err = s.apply(ctx, transfer.Timeout{})
		case <-ctx.Done():
			_, _, _ = s.machine.Handle(transfer.Disconnected{Err: ctx.Err()})
			return nil, ctx.Err()
		}
		if err != nil {
			return nil, err
		}
	}

	if err := s.machine.Err(); err != nil {
		return nil, err
	}
	return s.blob, nil
}

func (s *receiveSession) handleInbound(ctx context.Context, in Inbound) error {
	if in.Frame != nil {
		return s.apply(ctx, frameEvent(in.Frame))
	}

	env := in.Envelope
	switch env.Type {
	case types.MessageTypeReadyToReceive:
		var p types.ReadyToReceivePayload
		if s.decode(env, &p) {
			return s.apply(ctx, transfer.ReadyToReceive{RoomID: p.RoomID, SenderID: p.SenderID, Metadata: p.Metadata, Mode: p.Mode})
		}
	case types.MessageTypeTransferComplete:
		// On the direct path the relay's notice can overtake the data channel; the
		// channel's own closing frame is authoritative. A receiver that was never
		// offered a channel has nothing left to wait for.
		if s.machine.Mode() == types.DataPathDirect && s.direct != nil && s.direct.hasChannel() {
			s.logger.Debug("Relay reported completion, waiting on the data channel")
			return nil
		}
		var p types.TransferCompletePayload
		if s.decode(env, &p) {
			return s.apply(ctx, transfer.TransferComplete{RoomID: p.RoomID})
		}
	case types.MessageTypeTransferCancelled:
		var p types.TransferCancelledPayload
		if s.decode(env, &p) {
			return s.apply(ctx, transfer.TransferCancelled{RoomID: p.RoomID, Reason: p.Reason})
		}
	case types.MessageTypeRoomError:
		var p types.RoomErrorPayload
		if s.decode(env, &p) {
			return s.apply(ctx, transfer.RoomError{RoomID: p.RoomID, Kind: p.Kind, Reason: p.Reason})
		}
	case types.MessageTypeSignal:
		var p types.SignalPayload
		if !s.decode(env, &p) {
			return nil
		}
		if s.direct == nil {
			s.logger.WithField("from", p.From).Warn("Dropping signal outside a direct transfer")
			return nil
		}
		if err := s.direct.Accept(ctx, s.gw, p); err != nil {
			return s.fail(fmt.Errorf("direct connection: %w", err))
		}
	}
	return nil
}

// apply feeds one event to the state machine and performs its outputs.
func (s *receiveSession) apply(ctx context.Context, ev transfer.Event) error {
	prev := s.machine.State()
	state, outputs, err := s.machine.Handle(ev)

	for _, out := range outputs {
		switch o := out.(type) {
		case transfer.Send:
			if sendErr := s.gw.Send(o.Type, o.Payload); sendErr != nil {
				return s.fail(sendErr)
			}
		case transfer.Progress:
			if s.req.OnProgress != nil {
				s.req.OnProgress(o)
			}
		case transfer.Delivered:
			s.blob = o.Blob
		}
	}

	if err != nil {
		if state.Terminal() {
			s.logger.WithError(err).WithField("state", state.String()).Error("Transfer ended")
			return err
		}
		if prev == transfer.ReceiverIdle {
			return err
		}
		s.logger.WithError(err).Debugf("Ignoring %T in state %s", ev, state)
		return nil
	}
	if state == prev {
		return nil
	}
	s.logger.Debugf("Receiver %s -> %s", prev, state)

	switch state {
	case transfer.ReceiverReceiving:
		return s.ready()
	case transfer.ReceiverCompleted:
		s.logger.WithField("bytes", s.machine.Metadata().FileSize).Info("Transfer complete")
	}
	return nil
}

func (s *receiveSession) ready() error {
	metadata, mode := s.machine.Metadata(), s.machine.Mode()
	s.logger.WithFields(logrus.Fields{
		"file_name":    metadata.FileName,
		"file_size":    metadata.FileSize,
		"total_chunks": metadata.TotalChunks,
		"mode":         mode,
	}).Info("Ready to receive")
	if s.req.OnReady != nil {
		s.req.OnReady(metadata, mode)
	}

	if mode != types.DataPathDirect {
		return nil
	}
	direct, err := newDirectReceiver(s.client.opts.Direct, s.machine.RoomID(), s.logger)
	if err != nil {
		return s.fail(err)
	}
	s.direct = direct
	s.frames = direct.Frames()
	return nil
}

// fail ends the session on a local error, discarding anything buffered.
func (s *receiveSession) fail(err error) error {
	_, _, _ = s.machine.Handle(transfer.Disconnected{Err: err})
	s.logger.WithError(err).Error("Transfer failed")
	return err
}

func (s *receiveSession) decode(env *types.Envelope, v interface{}) bool {
	if err := env.Decode(v); err != nil {
		s.logger.WithError(err).Warn("Dropping malformed control message")
		return false
	}
	return true
}

func (s *receiveSession) closeDirect() {
	if s.direct != nil {
		_ = s.direct.Close()
	}
}

func frameEvent(frame *types.ChunkFrame) transfer.Event {
	if frame.Type == types.MessageTypeTransferComplete {
		return transfer.TransferComplete{RoomID: frame.RoomID}
	}
	return transfer.ChunkReceived{Frame: frame}
}
