// Package gateway is the persistence collaborator of the sync core: a
// durable store for chat history, video history and room records. The live
// protocol never waits on it.
package gateway

import (
	"context"
	"time"
)

// Message is a persisted chat or system line.
type Message struct {
	Author string    `json:"author,omitempty"`
	Text   string    `json:"text"`
	System bool      `json:"system,omitempty"`
	At     time.Time `json:"at"`
}

// VideoState is the persisted playback checkpoint of a room.
type VideoState struct {
	Locator  string  `json:"locator" redis:"locator"`
	Kind     string  `json:"kind" redis:"kind"`
	Playing  bool    `json:"playing" redis:"playing"`
	Position float64 `json:"position" redis:"position"`
}

// Room is a persisted room record.
type Room struct {
	ID    string
	Name  string
	State VideoState
}

// VideoHistoryEntry records one changeVideo action.
type VideoHistoryEntry struct {
	Locator string    `json:"locator"`
	Kind    string    `json:"kind"`
	ByName  string    `json:"by"`
	At      time.Time `json:"at"`
}

// Gateway is consumed by the room manager via simple append/query calls.
// Implementations must be safe for concurrent use.
type Gateway interface {
	GetOrCreateRoom(ctx context.Context, name string) (Room, error)
	SaveRoomState(ctx context.Context, roomID string, state VideoState) error
	AppendMessage(ctx context.Context, roomID string, m Message) error
	AppendVideoHistory(ctx context.Context, roomID string, e VideoHistoryEntry) error
	// LoadRecentMessages returns up to limit messages, oldest first.
	LoadRecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error)
}
