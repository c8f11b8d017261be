package room

import "dropline/pkg/types"

// Room registry errors not covered by the shared protocol sentinels
var (
	ErrSenderJoin = &types.Error{Kind: types.KindMalformedMessage, Reason: "sender cannot join its own room"}
)
