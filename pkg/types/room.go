package types

import (
	"time"
)

// Room is the relay's record of one transfer: the sender connection that owns it, the
// file it offers and the recipients that joined, in join order.
type Room struct {
	ID         string       `json:"id"`
	SenderID   string       `json:"senderId"`
	Metadata   FileMetadata `json:"metadata"`
	Mode       DataPath     `json:"mode"`
	Recipients []string     `json:"recipients"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Clone returns a copy that shares no slices with r.
func (r *Room) Clone() *Room {
	c := *r
	c.Recipients = append([]string(nil), r.Recipients...)
	return &c
}

// Members returns the sender followed by every recipient.
func (r *Room) Members() []string {
	members := make([]string, 0, len(r.Recipients)+1)
	members = append(members, r.SenderID)
	return append(members, r.Recipients...)
}

// HasMember reports whether connID is the sender or a recipient.
func (r *Room) HasMember(connID string) bool {
	if r.SenderID == connID {
		return true
	}
	for _, id := range r.Recipients {
		if id == connID {
			return true
		}
	}
	return false
}

// Validate checks the identifiers and metadata of a room about to be registered.
func (r *Room) Validate() error {
	if !IsValidRoomID(r.ID) {
		return NewError(KindRoomCreationFailed, "invalid room id %q", r.ID)
	}
	if r.SenderID == "" {
		return NewError(KindRoomCreationFailed, "room has no sender")
	}
	if !IsValidDataPath(r.Mode) {
		return NewError(KindRoomCreationFailed, "unknown data path %q", r.Mode)
	}
	return r.Metadata.Validate()
}

// RegistryStats summarizes the room registry for health reporting.
type RegistryStats struct {
	ActiveRooms  int    `json:"active_rooms"`
	Recipients   int    `json:"recipients"`
	RoomsCreated uint64 `json:"rooms_created"`
	RoomsClosed  uint64 `json:"rooms_closed"`
}
