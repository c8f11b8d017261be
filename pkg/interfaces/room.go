package interfaces

import (
	"dropline/pkg/types"
)

// RoomRegistry owns the live rooms of one relay process
type RoomRegistry interface {
	// Create registers a room; fails with ErrDuplicateRoom when the id is live
	Create(id, senderID string, metadata types.FileMetadata, mode types.DataPath) (*types.Room, error)

	// Join appends a recipient; fails with ErrRoomNotFound for unknown ids
	Join(id, recipientID string) (*types.Room, error)

	// Remove deletes the room and returns its final state
	Remove(id string) (*types.Room, bool)

	// Get returns a copy of the room
	Get(id string) (*types.Room, bool)

	// FindBySender lists the room ids owned by a connection
	FindBySender(connID string) []string

	// Leave drops connID from the recipient list of every room it joined
	Leave(connID string) []string

	Stats() types.RegistryStats
}
