package room

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const followerHeartbeatPeriod = 10 * time.Second

// Follower is a headless client: it joins a room, never originates playback
// actions and drives a PlayerAdapter through the reconciler. It doubles as a
// reference implementation of the follower half of the protocol.
type Follower struct {
	conn    *websocket.Conn
	rec     *Reconciler
	name    string
	locator string
	kind    VideoKind

	mu      sync.Mutex // guards writes to conn
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
	log     zerolog.Logger
}

// ConnectFollower dials addr, joins roomID under the given display name and
// returns a follower ready to Run.
func ConnectFollower(dialer *websocket.Dialer, addr, roomID, name string, logger zerolog.Logger) (*Follower, error) {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
			Subprotocols:     []string{WebsocketSubprotocolMagicV1},
		}
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("room", roomID)
	u.RawQuery = q.Encode()

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, err
	}

	f := &Follower{
		conn:    conn,
		rec:     NewReconciler(&OpaquePlayer{}, logger),
		name:    name,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     logger,
	}
	if err := f.send(&Message{Type: MessageTypeJoin, Payload: &JoinPayload{DisplayName: name}}); err != nil {
		conn.Close()
		return nil, err
	}
	return f, nil
}

func (f *Follower) send(msg *Message) error {
	b, err := msg.Serialise()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conn.SetWriteDeadline(time.Now().Add(WriteWait))
	return f.conn.WriteMessage(websocket.TextMessage, b)
}

// Run reads sync messages until the connection drops or Close is called.
func (f *Follower) Run() {
	go f.heartbeat()
	defer func() {
		close(f.stopped)
		f.rec.Stop()
		f.conn.Close()
	}()
	for {
		select {
		case <-f.stop:
			return
		default:
		}
		_, b, err := f.conn.ReadMessage()
		if err != nil {
			return
		}
		var m Message
		if err := Deserialise(b, &m); err != nil {
			f.log.Warn().Msg("invalid message from server")
			continue
		}
		f.handle(&m)
	}
}

func (f *Follower) handle(m *Message) {
	switch m.Type {
	case MessageTypeVideoState:
		p := m.Payload.(*VideoStatePayload)
		if p.Locator != f.locator || p.Kind != f.kind {
			f.locator = p.Locator
			f.kind = p.Kind
			f.rec.SetPlayer(NewPlayerForKind(p.Kind))
			f.log.Info().Str("locator", p.Locator).Str("kind", string(p.Kind)).Msg("video changed")
		}
		f.rec.Apply(Authoritative{
			Position:     p.Position,
			Playing:      p.Playing,
			HasPlayState: true,
			Tolerance:    DiscreteDriftTolerance,
		})
	case MessageTypeVideoPlay:
		p := m.Payload.(*PlaybackEventPayload)
		f.rec.Apply(Authoritative{Position: p.Position, Playing: true, HasPlayState: true, Tolerance: DiscreteDriftTolerance})
	case MessageTypeVideoPause:
		p := m.Payload.(*PlaybackEventPayload)
		f.rec.Apply(Authoritative{Position: p.Position, Playing: false, HasPlayState: true, Tolerance: DiscreteDriftTolerance})
	case MessageTypeVideoSeek:
		p := m.Payload.(*PlaybackEventPayload)
		f.rec.Apply(Authoritative{Position: p.Position, Tolerance: DiscreteDriftTolerance})
	case MessageTypeDetailedSync:
		p := m.Payload.(*DetailedSyncPayload)
		f.rec.Apply(Authoritative{Position: p.Position, Playing: p.Playing, HasPlayState: true, Tolerance: PeriodicDriftTolerance})
	case MessageTypeSyncTime:
		p := m.Payload.(*SyncTimePayload)
		f.rec.Apply(Authoritative{Position: p.Position, Tolerance: PeriodicDriftTolerance})
	case MessageTypeAdminIdentity:
		p := m.Payload.(*AdminIdentityPayload)
		f.log.Info().Str("admin", p.DisplayName).Msg("admin changed")
	case MessageTypeChat, MessageTypeSystem, MessageTypeJoined, MessageTypeAdminStatus, MessageTypePong:
		// informational
	case MessageTypeError:
		p := m.Payload.(*ErrorPayload)
		f.log.Warn().Str("reason", p.Reason).Msg("server rejected an action")
	}
}

func (f *Follower) heartbeat() {
	ticker := time.NewTicker(followerHeartbeatPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ping := PingPayload{Timestamp: wallClock(time.Now())}
			if err := f.send(&Message{Type: MessageTypePing, Payload: &ping}); err != nil {
				return
			}
		case <-f.stop:
			return
		case <-f.stopped:
			return
		}
	}
}

// Close stops the follower and closes the connection.
func (f *Follower) Close() {
	f.once.Do(func() {
		close(f.stop)
		f.mu.Lock()
		f.conn.WriteMessage(websocket.CloseMessage, []byte{})
		f.mu.Unlock()
		f.conn.Close()
	})
}
