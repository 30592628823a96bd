package room

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/watchroom/watchroom/gateway"
)

const (
	roomMessageQueueSize = 256
	clientSendQueueSize  = 32
)

const (
	// DetailedSyncPeriod is the fine-grained drift-correction cadence.
	DetailedSyncPeriod = 5 * time.Second
	// SyncTimePeriod is the coarse position report cadence.
	SyncTimePeriod = 30 * time.Second
	// DefaultIdleTimeout shuts an empty room down.
	DefaultIdleTimeout = 5 * time.Minute

	MaxChatLength      = 500
	historyReplayLimit = 50
	replayLoadTimeout  = 5 * time.Second
)

// Room manages the sessions watching one shared video. All mutable state
// (registry, admin, playback) is owned by the manager goroutine; everything
// reaches it over channels.
type Room struct {
	ID   string
	Name string

	conns   map[string]Conn
	reg     *registry
	adminID string
	state   *PlaybackState

	recvQueue chan *Message
	enqClient chan Conn
	deqClient chan Conn
	closing   chan struct{}
	closeOnce sync.Once

	idleTimeout time.Duration

	server *Server
	gw     gateway.Gateway
	writes *gateway.Queue
	log    zerolog.Logger
}

// NewRoom creates a room from its persisted record. Playback resumes paused:
// there is no admin yet to drive it.
func NewRoom(rec gateway.Room, server *Server, gw gateway.Gateway, logger zerolog.Logger) *Room {
	l := logger.With().Str("room", rec.ID).Logger()
	return &Room{
		ID:          rec.ID,
		Name:        rec.Name,
		conns:       make(map[string]Conn),
		reg:         newRegistry(),
		state:       NewPlaybackState(rec.State.Locator, VideoKind(rec.State.Kind), false, rec.State.Position),
		recvQueue:   make(chan *Message, roomMessageQueueSize),
		enqClient:   make(chan Conn),
		deqClient:   make(chan Conn),
		closing:     make(chan struct{}),
		idleTimeout: DefaultIdleTimeout,
		server:      server,
		gw:          gw,
		writes:      gateway.NewQueue(gw, rec.ID, l),
		log:         l,
	}
}

// RunManager manages room r. Exactly one goroutine runs this per room.
func (r *Room) RunManager() {
	idleTimer := time.NewTimer(r.idleTimeout)
	detailedTicker := time.NewTicker(DetailedSyncPeriod)
	coarseTicker := time.NewTicker(SyncTimePeriod)
	defer func() {
		// every exit path must unblock pending AddClient/DropClient/enqueue
		// callers, not just the Close one
		r.Close()
		detailedTicker.Stop()
		coarseTicker.Stop()
		idleTimer.Stop()
		for _, c := range r.conns {
			r.killConn(c)
		}
		r.writes.SaveState(r.persistedState())
		r.writes.Close()
		if r.server != nil {
			r.server.roomClosed(r)
		}
	}()
	for {
		select {
		case c := <-r.enqClient:
			if len(r.conns) == 0 {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
			}
			r.joinConn(c)
		case c := <-r.deqClient:
			r.killConn(c)
			if len(r.conns) == 0 {
				r.writes.SaveState(r.persistedState())
				idleTimer.Reset(r.idleTimeout)
			}
		case m := <-r.recvQueue:
			r.dispatch(m)
		case <-detailedTicker.C:
			r.broadcastDetailedSync()
		case <-coarseTicker.C:
			r.broadcastSyncTime()
		case <-idleTimer.C:
			r.log.Info().Msg("room idle, shutting down")
			return
		case <-r.closing:
			return
		}
	}
}

// joinConn registers a live connection (not yet a session) and sends it the
// current playback state so late joiners do not assume position zero.
func (r *Room) joinConn(c Conn) {
	if c == nil {
		return
	}
	r.conns[c.ID()] = c
	if r.state.Locator() != "" {
		snap := r.state.Snapshot(time.Now())
		c.Send(&Message{Type: MessageTypeVideoState, Payload: &snap})
	}
	if admin := r.reg.get(r.adminID); admin != nil {
		c.Send(&Message{
			Type:    MessageTypeAdminIdentity,
			Payload: &AdminIdentityPayload{SessionID: admin.ID, DisplayName: admin.DisplayName},
		})
	}
	go r.replayHistory(c)
}

// killConn removes a connection and its session, NOT thread-safe. Idempotent:
// both the recv and send pumps report disconnects.
func (r *Room) killConn(c Conn) {
	if c == nil {
		return
	}
	_c, ok := r.conns[c.ID()]
	if !ok || _c != c {
		return
	}
	r.log.Info().Str("cid", c.ID()).Str("addr", c.RemoteAddr()).Msg("removing client")
	delete(r.conns, c.ID())
	c.Finalise()
	s := r.reg.remove(c.ID())
	if s == nil {
		return
	}
	if s.ID == r.adminID {
		r.adminID = ""
		r.electAdmin()
	}
	r.systemBroadcast(s.DisplayName + " left")
}

func (r *Room) dispatch(m *Message) {
	switch m.Type {
	case MessageTypeJoin:
		r.handleJoin(m)
	case MessageTypeChat:
		r.handleChat(m)
	case MessageTypeChangeVideo, MessageTypeVideoPlay, MessageTypeVideoPause, MessageTypeVideoSeek:
		r.handlePlayback(m)
	case MessageTypeAdminRequest:
		r.handleAdminRequest(m)
	case MessageTypeAdminTransfer:
		r.handleAdminTransfer(m)
	default:
		// silently drop
	}
}

func (r *Room) handleJoin(m *Message) {
	p, ok := m.Payload.(*JoinPayload)
	if !ok {
		return
	}
	if r.reg.get(m.Sender) != nil {
		// already joined, name is immutable now
		return
	}
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		r.sendError(m.Sender, "a display name is required to join")
		return
	}
	s := r.reg.add(m.Sender, name)
	r.sendTo(s.ID, &Message{Type: MessageTypeJoined, Payload: &JoinedPayload{SessionID: s.ID}})
	if r.adminID == "" {
		r.electAdmin()
	}
	r.systemBroadcast(name + " joined")
}

func (r *Room) handleChat(m *Message) {
	s := r.reg.get(m.Sender)
	if s == nil {
		r.sendError(m.Sender, "join the room before chatting")
		return
	}
	p, ok := m.Payload.(*ChatPayload)
	if !ok {
		return
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		r.sendError(m.Sender, "cannot send an empty message")
		return
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		r.sendError(m.Sender, "message too long")
		return
	}
	r.broadcast(&Message{Type: MessageTypeChat, Payload: &ChatPayload{Author: s.DisplayName, Text: text}})
	r.writes.AppendMessage(gateway.Message{Author: s.DisplayName, Text: text, At: time.Now()})
}

// handlePlayback applies an admin playback action and broadcasts it. Actions
// from anyone else are a silent no-op: non-admin UIs still fire local player
// events and those must not disturb the shared state.
func (r *Room) handlePlayback(m *Message) {
	if r.adminID == "" || m.Sender != r.adminID {
		r.log.Debug().Str("cid", m.Sender).Str("type", string(m.Type)).Msg("ignoring playback action from non-admin")
		return
	}
	now := time.Now()
	switch m.Type {
	case MessageTypeChangeVideo:
		p, ok := m.Payload.(*ChangeVideoPayload)
		if !ok {
			return
		}
		locator := strings.TrimSpace(p.Locator)
		if locator == "" {
			r.sendError(m.Sender, "empty video locator")
			return
		}
		r.state.SetVideo(locator, now)
		snap := r.state.Snapshot(now)
		r.broadcast(&Message{Type: MessageTypeVideoState, Payload: &snap})
		byName := ""
		if s := r.reg.get(m.Sender); s != nil {
			byName = s.DisplayName
		}
		r.writes.AppendVideoHistory(gateway.VideoHistoryEntry{
			Locator: locator,
			Kind:    string(r.state.Kind()),
			ByName:  byName,
			At:      now,
		})
	case MessageTypeVideoPlay:
		p, ok := m.Payload.(*PlaybackEventPayload)
		if !ok {
			return
		}
		r.state.Play(p.Position, now)
		r.broadcastExcept(m.Sender, &Message{
			Type:    MessageTypeVideoPlay,
			Payload: &PlaybackEventPayload{Position: r.state.position, ServerTimestamp: wallClock(now)},
		})
	case MessageTypeVideoPause:
		p, ok := m.Payload.(*PlaybackEventPayload)
		if !ok {
			return
		}
		r.state.Pause(p.Position, now)
		r.broadcastExcept(m.Sender, &Message{
			Type:    MessageTypeVideoPause,
			Payload: &PlaybackEventPayload{Position: r.state.position, ServerTimestamp: wallClock(now)},
		})
	case MessageTypeVideoSeek:
		p, ok := m.Payload.(*PlaybackEventPayload)
		if !ok {
			return
		}
		r.state.Seek(p.Position, now)
		r.broadcastExcept(m.Sender, &Message{
			Type:    MessageTypeVideoSeek,
			Payload: &PlaybackEventPayload{Position: r.state.position, ServerTimestamp: wallClock(now)},
		})
	}
	r.writes.SaveState(r.persistedState())
}

func (r *Room) broadcastDetailedSync() {
	if r.state.Locator() == "" || len(r.conns) == 0 {
		return
	}
	now := time.Now()
	r.broadcast(&Message{
		Type: MessageTypeDetailedSync,
		Payload: &DetailedSyncPayload{
			Position:        r.state.CurrentPosition(now),
			Playing:         r.state.Playing(),
			ServerTimestamp: wallClock(now),
		},
	})
}

func (r *Room) broadcastSyncTime() {
	if r.state.Locator() == "" || len(r.conns) == 0 {
		return
	}
	r.broadcast(&Message{
		Type:    MessageTypeSyncTime,
		Payload: &SyncTimePayload{Position: r.state.CurrentPosition(time.Now())},
	})
}

// broadcast sends m to every connection in the room, NOT thread-safe.
func (r *Room) broadcast(m *Message) {
	for _, c := range r.conns {
		c.Send(m)
	}
}

func (r *Room) broadcastExcept(id string, m *Message) {
	for cid, c := range r.conns {
		if cid == id {
			continue
		}
		c.Send(m)
	}
}

func (r *Room) sendTo(id string, m *Message) {
	if c, ok := r.conns[id]; ok {
		c.Send(m)
	}
}

func (r *Room) sendError(id, reason string) {
	r.sendTo(id, &Message{Type: MessageTypeError, Payload: &ErrorPayload{Reason: reason}})
}

// systemBroadcast emits a server-originated notice to everyone and records
// it in the chat history.
func (r *Room) systemBroadcast(text string) {
	r.broadcast(&Message{Type: MessageTypeSystem, Payload: &SystemPayload{Text: text}})
	r.writes.AppendMessage(gateway.Message{Text: text, System: true, At: time.Now()})
}

func (r *Room) persistedState() gateway.VideoState {
	return gateway.VideoState{
		Locator:  r.state.Locator(),
		Kind:     string(r.state.Kind()),
		Playing:  r.state.Playing(),
		Position: r.state.CurrentPosition(time.Now()),
	}
}

// replayHistory streams recent chat back to a newly connected client. Runs
// off the manager goroutine; Conn.Send is safe to call from here.
func (r *Room) replayHistory(c Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), replayLoadTimeout)
	defer cancel()
	msgs, err := r.gw.LoadRecentMessages(ctx, r.ID, historyReplayLimit)
	if err != nil {
		r.log.Warn().Err(err).Msg("chat history replay failed")
		return
	}
	for _, m := range msgs {
		if m.System {
			c.Send(&Message{Type: MessageTypeSystem, Payload: &SystemPayload{Text: m.Text}})
			continue
		}
		c.Send(&Message{Type: MessageTypeChat, Payload: &ChatPayload{Author: m.Author, Text: m.Text}})
	}
}

// enqueue routes an inbound client message to the manager goroutine.
func (r *Room) enqueue(m *Message) {
	select {
	case r.recvQueue <- m:
	case <-r.closing:
	}
}

// AddClient hands a connection to the manager goroutine.
func (r *Room) AddClient(c Conn) {
	select {
	case r.enqClient <- c:
	case <-r.closing:
	}
}

// DropClient reports a disconnect; safe to call more than once per client.
func (r *Room) DropClient(c Conn) {
	select {
	case r.deqClient <- c:
	case <-r.closing:
	}
}

// Close stops the manager goroutine. Safe to call from any goroutine, any
// number of times.
func (r *Room) Close() {
	r.closeOnce.Do(func() { close(r.closing) })
}
