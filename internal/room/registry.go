package room

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dropline/pkg/interfaces"
	"dropline/pkg/types"
)

var _ interfaces.RoomRegistry = (*Registry)(nil)

// Registry holds the live rooms of one relay process. Every method takes the lock
// for exactly one mutation, so rooms never wait on each other beyond that.
type Registry struct {
	rooms         map[string]*types.Room          // roomID -> Room
	bySender      map[string]map[string]struct{} // senderID -> roomIDs
	maxRecipients int
	roomsCreated  uint64
	roomsClosed   uint64
	logger        logrus.FieldLogger
	now           func() time.Time
	mu            sync.RWMutex
}

// NewRegistry creates an empty registry. maxRecipients <= 0 means unlimited joins.
func NewRegistry(maxRecipients int, logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		rooms:         make(map[string]*types.Room),
		bySender:      make(map[string]map[string]struct{}),
		maxRecipients: maxRecipients,
		logger:        logger.WithField("component", "room_registry"),
		now:           time.Now,
	}
}

// Create registers a new room owned by senderID. A live room with the same id is
// never overwritten.
func (r *Registry) Create(id, senderID string, metadata types.FileMetadata, mode types.DataPath) (*types.Room, error) {
	if mode == "" {
		mode = types.DataPathRelay
	}
	room := &types.Room{
		ID:         id,
		SenderID:   senderID,
		Metadata:   metadata,
		Mode:       mode,
		Recipients: []string{},
		CreatedAt:  r.now(),
	}
	if err := room.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.rooms[id]; exists {
		r.mu.Unlock()
		return nil, types.NewError(types.KindDuplicateRoom, "room %s already exists", id)
	}
	r.rooms[id] = room
	owned, ok := r.bySender[senderID]
	if !ok {
		owned = make(map[string]struct{})
		r.bySender[senderID] = owned
	}
	owned[id] = struct{}{}
	r.roomsCreated++
	snapshot := room.Clone()
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"room_id":      id,
		"sender_id":    senderID,
		"file_name":    metadata.FileName,
		"file_size":    metadata.FileSize,
		"total_chunks": metadata.TotalChunks,
		"mode":         mode,
	}).Info("Room created")
	return snapshot, nil
}

// Join appends recipientID to the room. Joining twice is a no-op that returns the
// current room.
func (r *Registry) Join(id, recipientID string) (*types.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, types.ErrRoomNotFound
	}
	if room.SenderID == recipientID {
		return nil, ErrSenderJoin
	}
	if room.HasMember(recipientID) {
		return room.Clone(), nil
	}
	if r.maxRecipients > 0 && len(room.Recipients) >= r.maxRecipients {
		return nil, types.NewError(types.KindRoomFull, "room %s already has %d recipients", id, len(room.Recipients))
	}

	room.Recipients = append(room.Recipients, recipientID)
	r.logger.WithFields(logrus.Fields{
		"room_id":      id,
		"recipient_id": recipientID,
		"recipients":   len(room.Recipients),
	}).Info("Recipient joined room")
	return room.Clone(), nil
}

// Remove deletes the room and returns its final state. Removing an unknown id is a
// no-op.
func (r *Registry) Remove(id string) (*types.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, false
	}
	delete(r.rooms, id)
	if owned, ok := r.bySender[room.SenderID]; ok {
		delete(owned, id)
		if len(owned) == 0 {
			delete(r.bySender, room.SenderID)
		}
	}
	r.roomsClosed++
	return room, true
}

// Get returns a copy of the room.
func (r *Registry) Get(id string) (*types.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, false
	}
	return room.Clone(), true
}

// Members returns the sender and recipients of a room, or nil when it does not exist.
func (r *Registry) Members(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil
	}
	return room.Members()
}

// FindBySender lists the ids of every room owned by connID.
func (r *Registry) FindBySender(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := r.bySender[connID]
	ids := make([]string, 0, len(owned))
	for id := range owned {
		ids = append(ids, id)
	}
	return ids
}

// Leave removes connID from the recipient list of every room it joined and returns
// those room ids.
func (r *Registry) Leave(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for id, room := range r.rooms {
		for i, recipient := range room.Recipients {
			if recipient == connID {
				room.Recipients = append(room.Recipients[:i], room.Recipients[i+1:]...)
				left = append(left, id)
				break
			}
		}
	}
	return left
}

// Stats returns registry counters.
func (r *Registry) Stats() types.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := types.RegistryStats{
		ActiveRooms:  len(r.rooms),
		RoomsCreated: r.roomsCreated,
		RoomsClosed:  r.roomsClosed,
	}
	for _, room := range r.rooms {
		stats.Recipients += len(room.Recipients)
	}
	return stats
}
