package gateway

import (
	"context"
	"sync"

	"github.com/rs/xid"
)

type memRoom struct {
	room     Room
	messages []Message
	videos   []VideoHistoryEntry
}

// Memory is an in-process Gateway backend, used when no redis address is
// configured and in tests.
type Memory struct {
	mu     sync.RWMutex
	byName map[string]string // name -> id
	rooms  map[string]*memRoom
}

func NewMemory() *Memory {
	return &Memory{
		byName: make(map[string]string),
		rooms:  make(map[string]*memRoom),
	}
}

func (g *Memory) GetOrCreateRoom(ctx context.Context, name string) (Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id, ok := g.byName[name]; ok {
		return g.rooms[id].room, nil
	}
	id := xid.New().String()
	r := Room{ID: id, Name: name}
	g.byName[name] = id
	g.rooms[id] = &memRoom{room: r}
	return r, nil
}

func (g *Memory) SaveRoomState(ctx context.Context, roomID string, state VideoState) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[roomID]; ok {
		r.room.State = state
	}
	return nil
}

func (g *Memory) AppendMessage(ctx context.Context, roomID string, m Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	if !ok {
		r = &memRoom{room: Room{ID: roomID}}
		g.rooms[roomID] = r
	}
	r.messages = append(r.messages, m)
	return nil
}

func (g *Memory) AppendVideoHistory(ctx context.Context, roomID string, e VideoHistoryEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	if !ok {
		r = &memRoom{room: Room{ID: roomID}}
		g.rooms[roomID] = r
	}
	r.videos = append(r.videos, e)
	return nil
}

func (g *Memory) LoadRecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[roomID]
	if !ok {
		return nil, nil
	}
	msgs := r.messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// VideoHistory exposes the recorded history for inspection in tests.
func (g *Memory) VideoHistory(roomID string) []VideoHistoryEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]VideoHistoryEntry, len(r.videos))
	copy(out, r.videos)
	return out
}
