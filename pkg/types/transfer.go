package types

import (
	"time"
)

// TransferOutcome is the terminal state recorded in transfer history.
type TransferOutcome string

const (
	OutcomeActive    TransferOutcome = "active"
	OutcomeCompleted TransferOutcome = "completed"
	OutcomeCancelled TransferOutcome = "cancelled"
)

// TransferRecord is one row of transfer history. File bytes are never stored.
type TransferRecord struct {
	RoomID        string          `json:"room_id"`
	SenderID      string          `json:"sender_id"`
	FileName      string          `json:"file_name"`
	FileSize      int64           `json:"file_size"`
	FileType      string          `json:"file_type"`
	TotalChunks   int             `json:"total_chunks"`
	Mode          DataPath        `json:"mode"`
	Recipients    int             `json:"recipients"`
	ChunksRelayed int             `json:"chunks_relayed"`
	Outcome       TransferOutcome `json:"outcome"`
	CreatedAt     time.Time       `json:"created_at"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`
}

// NewTransferRecord builds the initial history row for a freshly created room.
func NewTransferRecord(room *Room) *TransferRecord {
	mode := room.Mode
	if mode == "" {
		mode = DataPathRelay
	}
	return &TransferRecord{
		RoomID:      room.ID,
		SenderID:    room.SenderID,
		FileName:    room.Metadata.FileName,
		FileSize:    room.Metadata.FileSize,
		FileType:    room.Metadata.FileType,
		TotalChunks: room.Metadata.TotalChunks,
		Mode:        mode,
		Outcome:     OutcomeActive,
		CreatedAt:   room.CreatedAt,
	}
}

// TransferClose carries the terminal facts of a room for history.
type TransferClose struct {
	RoomID        string
	Outcome       TransferOutcome
	Recipients    int
	ChunksRelayed int
	EndedAt       time.Time
}
