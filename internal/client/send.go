package client

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"dropline/internal/transfer"
	"dropline/pkg/types"
)

// SendRequest describes one file offer.
type SendRequest struct {
	// RoomID is generated when empty.
	RoomID string
	Source *Source
	Mode   types.DataPath

	// OnRoomCreated runs once the relay acknowledges the room; share the id then.
	OnRoomCreated func(roomID string)
	// OnRecipient runs when the first receiver joins and streaming starts.
	OnRecipient func(recipientID string)
	// OnProgress runs after each chunk is handed to the data path.
	OnProgress func(sent, total int)
}

// Send runs a sender session to completion. It returns nil once every chunk and
// the completion notice have been handed to the relay.
func (c *Client) Send(ctx context.Context, req SendRequest) error {
	if req.Source == nil {
		return errors.New("send: no source")
	}
	if req.RoomID == "" {
		req.RoomID = NewRoomID()
	}

	gw, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = gw.Close() }()

	s := &sendSession{
		client:  c,
		gw:      gw,
		req:     req,
		machine: transfer.NewSender(),
		events:  make(chan transfer.Event, 1),
		answers: make(chan types.SignalPayload, 1),
		logger:  c.logger.WithFields(logrus.Fields{"role": "sender", "room_id": req.RoomID}),
	}
	return s.run(ctx)
}

type sendSession struct {
	client  *Client
	gw      *Gateway
	req     SendRequest
	machine *transfer.Sender
	events  chan transfer.Event
	answers chan types.SignalPayload
	logger  logrus.FieldLogger
}

func (s *sendSession) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src := s.req.Source
	metadata := types.NewFileMetadata(src.Name, src.Size, src.Type)
	if err := s.apply(ctx, transfer.Initiate{RoomID: s.req.RoomID, Metadata: metadata, Mode: s.req.Mode}); err != nil {
		return err
	}

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
			if ev := s.translate(in); ev != nil {
				err = s.apply(ctx, ev)
			}
		case ev := <-s.events:
			err = s.apply(ctx, ev)
		case <-ctx.Done():
			return ctx.Err()
		}
		if err != nil {
			return err
		}
	}
	return s.machine.Err()
}

// apply feeds one event to the state machine and performs its outputs. Events
// the machine rejects without failing are logged and dropped.
func (s *sendSession) apply(ctx context.Context, ev transfer.Event) error {
	prev := s.machine.State()
	state, outputs, err := s.machine.Handle(ev)
	if err != nil {
		if state == transfer.SenderFailed {
			s.logger.WithError(err).Error("Transfer failed")
			return err
		}
		if prev == transfer.SenderIdle {
			return err
		}
		s.logger.WithError(err).Debugf("Ignoring %T in state %s", ev, state)
		return nil
	}
	if state != prev {
		s.logger.Debugf("Sender %s -> %s", prev, state)
	}

	switch e := ev.(type) {
	case transfer.RoomCreated:
		s.logger.Info("Room created")
		if s.req.OnRoomCreated != nil {
			s.req.OnRoomCreated(e.RoomID)
		}
	case transfer.ChunkSent:
		if s.req.OnProgress != nil {
			s.req.OnProgress(e.Index+1, s.machine.Metadata().TotalChunks)
		}
	}

	for _, out := range outputs {
		switch o := out.(type) {
		case transfer.Send:
			if err := s.gw.Send(o.Type, o.Payload); err != nil {
				return s.apply(ctx, transfer.EmitFailed{Err: err})
			}
		case transfer.StartStream:
			s.logger.WithFields(logrus.Fields{
				"recipient_id": o.RecipientID,
				"mode":         o.Mode,
			}).Info("Recipient joined, streaming")
			if s.req.OnRecipient != nil {
				s.req.OnRecipient(o.RecipientID)
			}
			go s.stream(ctx, o)
		}
	}
	return nil
}

func (s *sendSession) translate(in Inbound) transfer.Event {
	env := in.Envelope
	if env == nil {
		return nil
	}

	switch env.Type {
	case types.MessageTypeRoomCreated:
		var p types.RoomCreatedPayload
		if s.decode(env, &p) {
			return transfer.RoomCreated{RoomID: p.RoomID}
		}
	case types.MessageTypeRoomError:
		var p types.RoomErrorPayload
		if s.decode(env, &p) {
			return transfer.RoomError{RoomID: p.RoomID, Kind: p.Kind, Reason: p.Reason}
		}
	case types.MessageTypeRecipientJoined:
		var p types.RecipientJoinedPayload
		if s.decode(env, &p) {
			return transfer.RecipientJoined{RoomID: p.RoomID, RecipientID: p.RecipientID}
		}
	case types.MessageTypeTransferCancelled:
		var p types.TransferCancelledPayload
		if s.decode(env, &p) {
			return transfer.TransferCancelled{RoomID: p.RoomID, Reason: p.Reason}
		}
	case types.MessageTypeSignal:
		var p types.SignalPayload
		if s.decode(env, &p) {
			select {
			case s.answers <- p:
			default:
				s.logger.WithField("from", p.From).Warn("Dropping signal, no negotiation waiting")
			}
		}
	}
	return nil
}

func (s *sendSession) decode(env *types.Envelope, v interface{}) bool {
	if err := env.Decode(v); err != nil {
		s.logger.WithError(err).Warn("Dropping malformed control message")
		return false
	}
	return true
}

// stream emits every chunk in index order on its own goroutine and reports each
// one back to the session loop.
func (s *sendSession) stream(ctx context.Context, start transfer.StartStream) {
	em, err := s.openEmitter(ctx, start)
	if err != nil {
		s.report(ctx, transfer.EmitFailed{Err: err})
		return
	}
	defer func() { _ = em.Close() }()

	src := s.req.Source
	chunker := transfer.NewChunker(src.Reader, src.Size)
	last := chunker.Total() - 1
	for i := 0; i <= last; i++ {
		frame, err := chunker.Frame(start.RoomID, i)
		if err == nil {
			err = em.Emit(ctx, frame)
		}
		if err == nil && i == last {
			err = em.Finish(ctx)
		}
		if err != nil {
			s.report(ctx, transfer.EmitFailed{Err: err})
			return
		}
		if !s.report(ctx, transfer.ChunkSent{Index: i}) {
			return
		}
	}
}

func (s *sendSession) openEmitter(ctx context.Context, start transfer.StartStream) (emitter, error) {
	if start.Mode != types.DataPathDirect {
		return &relayEmitter{gw: s.gw, pace: s.client.opts.Pace}, nil
	}
	em, err := dialDirect(ctx, s.gw, s.client.opts.Direct, start.RoomID, start.RecipientID, s.answers, s.logger)
	if err != nil {
		return nil, err
	}
	return em, nil
}

func (s *sendSession) report(ctx context.Context, ev transfer.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
