package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"dropline/pkg/types"
)

// Flow control and timeouts for the direct data path.
const (
	highWaterMark = 2 * 1024 * 1024
	lowWaterMark  = 512 * 1024

	// A chunk frame is split across data channel messages of at most this size.
	directMessageSize = 16 * 1024

	signalTimeout = 30 * time.Second
	sendTimeout   = 20 * time.Second
	drainTimeout  = 30 * time.Second
	closeTimeout  = 2 * time.Second
)

// DefaultSTUNServers are the public servers the CLI offers by default.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// DirectConfig tunes the peer-to-peer data path.
type DirectConfig struct {
	// STUNServers may be empty, leaving only host candidates.
	STUNServers []string
	// IncludeLoopback gathers 127.0.0.1 candidates, for two peers on one host.
	IncludeLoopback bool
}

func (c DirectConfig) newPeerConnection() (*webrtc.PeerConnection, error) {
	var config webrtc.Configuration
	if len(c.STUNServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: c.STUNServers}}
	}

	var se webrtc.SettingEngine
	if c.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return pc, nil
}

// localDescription applies desc and returns the SDP once ICE gathering is done,
// so the exchange needs no trickled candidates.
func localDescription(ctx context.Context, pc *webrtc.PeerConnection, desc webrtc.SessionDescription) (string, error) {
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return pc.LocalDescription().SDP, nil
}

// directEmitter streams chunk frames over an ordered data channel. The relay only
// carries the offer and the answer.
type directEmitter struct {
	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	roomID  string
	open    chan struct{}
	closed  chan struct{}
	drained chan struct{}
	logger  logrus.FieldLogger

	openOnce  sync.Once
	closeOnce sync.Once
}

// dialDirect offers a data channel to recipientID and waits for it to open.
// answers delivers the signal messages the relay routes to this sender.
func dialDirect(ctx context.Context, gw *Gateway, cfg DirectConfig, roomID, recipientID string,
	answers <-chan types.SignalPayload, logger logrus.FieldLogger) (*directEmitter, error) {
	pc, err := cfg.newPeerConnection()
	if err != nil {
		return nil, err
	}

	ordered := true
	dc, err := pc.CreateDataChannel("dropline", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	e := &directEmitter{
		pc:      pc,
		dc:      dc,
		roomID:  roomID,
		open:    make(chan struct{}),
		closed:  make(chan struct{}),
		drained: make(chan struct{}, 1),
		logger:  logger.WithFields(logrus.Fields{"room_id": roomID, "peer": recipientID}),
	}

	dc.SetBufferedAmountLowThreshold(lowWaterMark)
	dc.OnBufferedAmountLow(func() {
		select {
		case e.drained <- struct{}{}:
		default:
		}
	})
	dc.OnOpen(func() {
		e.logger.Debugf("Data channel '%s' open", dc.Label())
		e.openOnce.Do(func() { close(e.open) })
	})
	dc.OnClose(func() {
		e.logger.Debug("Data channel closed")
		e.markClosed()
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.logger.Debugf("Peer connection state has changed: %s", s.String())
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			e.markClosed()
		}
	})

	if err := e.negotiate(ctx, gw, recipientID, answers); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *directEmitter) negotiate(ctx context.Context, gw *Gateway, recipientID string, answers <-chan types.SignalPayload) error {
	ctx, cancel := context.WithTimeout(ctx, signalTimeout)
	defer cancel()

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	sdp, err := localDescription(ctx, e.pc, offer)
	if err != nil {
		return err
	}
	if err := gw.Send(types.MessageTypeSignal, types.SignalPayload{
		RoomID: e.roomID,
		To:     recipientID,
		Kind:   types.SignalOffer,
		SDP:    sdp,
	}); err != nil {
		return err
	}

	for {
		select {
		case answer := <-answers:
			if answer.Kind != types.SignalAnswer || answer.From != recipientID {
				e.logger.WithField("from", answer.From).Warn("Ignoring unexpected signal")
				continue
			}
			if err := e.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
				return fmt.Errorf("set remote description: %w", err)
			}
		case <-e.open:
			return nil
		case <-e.closed:
			return ErrChannelClosed
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrSignalTimeout
			}
			return ctx.Err()
		}
	}
}

// Emit splits the encoded frame into data channel messages, pausing above the
// high water mark until the buffer drains to the low one.
func (e *directEmitter) Emit(ctx context.Context, frame *types.ChunkFrame) error {
	data, err := types.EncodeChunkFrame(frame)
	if err != nil {
		return err
	}
	for len(data) > 0 {
		n := len(data)
		if n > directMessageSize {
			n = directMessageSize
		}
		if err := e.waitForRoom(ctx); err != nil {
			return err
		}
		if err := e.dc.Send(data[:n]); err != nil {
			return fmt.Errorf("send chunk %d: %w", frame.ChunkIndex, err)
		}
		data = data[n:]
	}
	return nil
}

func (e *directEmitter) waitForRoom(ctx context.Context) error {
	for e.dc.BufferedAmount() > highWaterMark {
		timer := time.NewTimer(sendTimeout)
		select {
		case <-e.drained:
		case <-e.closed:
			timer.Stop()
			return ErrChannelClosed
		case <-timer.C:
			return fmt.Errorf("data channel stalled for %s", sendTimeout)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
	}
	select {
	case <-e.closed:
		return ErrChannelClosed
	default:
		return nil
	}
}

// Finish sends the closing frame and waits for the receiver to close the channel,
// which it does once every chunk is reassembled.
func (e *directEmitter) Finish(ctx context.Context) error {
	err := e.Emit(ctx, &types.ChunkFrame{Type: types.MessageTypeTransferComplete, RoomID: e.roomID})
	if err != nil && !e.isClosed() {
		return err
	}

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-e.closed:
		return nil
	case <-timer.C:
		return ErrDrainTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *directEmitter) Close() error {
	e.markClosed()
	return e.pc.Close()
}

func (e *directEmitter) markClosed() {
	e.closeOnce.Do(func() { close(e.closed) })
}

func (e *directEmitter) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

// directReceiver answers a sender's offer and decodes the chunk frames arriving
// on the data channel. Frames is closed when the channel ends.
type directReceiver struct {
	pc     *webrtc.PeerConnection
	frames chan *types.ChunkFrame
	pr     *io.PipeReader
	pw     *io.PipeWriter
	done   chan struct{}
	logger logrus.FieldLogger

	mu       sync.Mutex
	dc       *webrtc.DataChannel
	dcClosed chan struct{}

	closeOnce sync.Once
	dcOnce    sync.Once
}

func newDirectReceiver(cfg DirectConfig, roomID string, logger logrus.FieldLogger) (*directReceiver, error) {
	pc, err := cfg.newPeerConnection()
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	r := &directReceiver{
		pc:       pc,
		frames:   make(chan *types.ChunkFrame, inboundBuffer),
		pr:       pr,
		pw:       pw,
		done:     make(chan struct{}),
		dcClosed: make(chan struct{}),
		logger:   logger.WithField("room_id", roomID),
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		r.mu.Lock()
		r.dc = dc
		r.mu.Unlock()

		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if _, err := r.pw.Write(msg.Data); err != nil {
				r.logger.WithError(err).Debug("Dropping data channel message")
			}
		})
		dc.OnClose(func() {
			r.logger.Debug("Data channel closed")
			_ = r.pw.CloseWithError(ErrChannelClosed)
			r.dcOnce.Do(func() { close(r.dcClosed) })
		})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		r.logger.Debugf("Peer connection state has changed: %s", s.String())
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			_ = r.pw.CloseWithError(ErrChannelClosed)
		}
	})

	go r.decodeLoop()
	return r, nil
}

// decodeLoop reframes the byte stream: msgpack values are self-delimiting, so the
// ordered channel needs no extra framing.
func (r *directReceiver) decodeLoop() {
	defer close(r.frames)

	dec := msgpack.NewDecoder(r.pr)
	for {
		var frame types.ChunkFrame
		if err := dec.Decode(&frame); err != nil {
			if !errors.Is(err, ErrChannelClosed) && !errors.Is(err, io.ErrClosedPipe) {
				r.logger.WithError(err).Warn("Data channel stream ended")
			}
			return
		}
		select {
		case r.frames <- &frame:
		case <-r.done:
			return
		}
	}
}

// hasChannel reports whether the sender ever opened a data channel to us.
func (r *directReceiver) hasChannel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dc != nil
}

// Frames delivers decoded frames in order.
func (r *directReceiver) Frames() <-chan *types.ChunkFrame {
	return r.frames
}

// Accept answers offer through the relay.
func (r *directReceiver) Accept(ctx context.Context, gw *Gateway, offer types.SignalPayload) error {
	if offer.Kind != types.SignalOffer {
		return fmt.Errorf("%w: %s", ErrUnexpectedSignal, offer.Kind)
	}
	ctx, cancel := context.WithTimeout(ctx, signalTimeout)
	defer cancel()

	if err := r.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := r.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	sdp, err := localDescription(ctx, r.pc, answer)
	if err != nil {
		return err
	}
	return gw.Send(types.MessageTypeSignal, types.SignalPayload{
		RoomID: offer.RoomID,
		To:     offer.From,
		Kind:   types.SignalAnswer,
		SDP:    sdp,
	})
}

// Close closes the data channel, which tells the sender the transfer is over, and
// tears down the peer connection.
func (r *directReceiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)

		r.mu.Lock()
		dc := r.dc
		r.mu.Unlock()
		if dc != nil {
			_ = dc.Close()
			select {
			case <-r.dcClosed:
			case <-time.After(closeTimeout):
			}
		}
		_ = r.pr.Close()
		err = r.pc.Close()
	})
	return err
}
