package room

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/watchroom/watchroom/gateway"
)

// Server encapsulates server-level global data: the live rooms and the
// persistence gateway they share.
type Server struct {
	rooms     map[string]*Room
	mutex     sync.RWMutex // guards rooms for look up
	managers  sync.WaitGroup
	gw        gateway.Gateway
	log       zerolog.Logger
	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new server struct
func NewServer(gw gateway.Gateway, logger zerolog.Logger) *Server {
	return &Server{
		rooms:   make(map[string]*Room),
		gw:      gw,
		log:     logger,
		closing: make(chan struct{}),
	}
}

// OpenRoom returns the live room for name, spawning its manager goroutine if
// needed. The room record (and any persisted playback state) comes from the
// gateway.
func (s *Server) OpenRoom(ctx context.Context, name string) (*Room, error) {
	rec, err := s.gw.GetOrCreateRoom(ctx, name)
	if err != nil {
		return nil, err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if r, ok := s.rooms[rec.ID]; ok {
		return r, nil
	}
	r := NewRoom(rec, s, s.gw, s.log)
	s.rooms[rec.ID] = r
	s.managers.Add(1)
	go func() {
		defer s.managers.Done()
		r.RunManager()
	}()
	s.log.Info().Str("room", rec.ID).Str("name", rec.Name).Msg("room registered")
	return r, nil
}

// Room looks a live room up by id.
func (s *Server) Room(id string) *Room {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.rooms[id]
}

// RoomIDs lists the live rooms, consumed by the scheduler via GET /server.
func (s *Server) RoomIDs() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// roomClosed deregisters a room whose manager goroutine has exited.
func (s *Server) roomClosed(r *Room) {
	s.mutex.Lock()
	if _r, ok := s.rooms[r.ID]; ok && _r == r {
		delete(s.rooms, r.ID)
	}
	s.mutex.Unlock()
	s.log.Info().Str("room", r.ID).Msg("room deregistered")
}

// Close shuts every room down and waits for the managers to finish their
// final persistence flush.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.mutex.RLock()
		rooms := make([]*Room, 0, len(s.rooms))
		for _, r := range s.rooms {
			rooms = append(rooms, r)
		}
		s.mutex.RUnlock()
		for _, r := range rooms {
			r.Close()
		}
		s.managers.Wait()
	})
}
