package relay

import "dropline/pkg/types"

// Broker-specific errors, reported to the offending connection as room-error
var (
	ErrUnknownMessageType = &types.Error{Kind: types.KindMalformedMessage, Reason: "unknown message type"}
	ErrChunkAsText        = &types.Error{Kind: types.KindMalformedMessage, Reason: "file-chunk must be sent as a binary frame"}
	ErrChunkCountMismatch = &types.Error{Kind: types.KindMalformedMessage, Reason: "totalChunks does not match room metadata"}
	ErrNotRoomMember      = &types.Error{Kind: types.KindMalformedMessage, Reason: "connection is not a member of this room"}
	ErrSignalTarget       = &types.Error{Kind: types.KindMalformedMessage, Reason: "signal target is not another member of this room"}
	ErrNotRoomSender      = types.ErrNotRoomSender
)
