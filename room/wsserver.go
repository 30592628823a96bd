package room

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

const (
	WebsocketSubprotocolMagicV1 = "watchroom_v1"
	ErrInvalidRoomID            = "Error: Invalid Room ID"
)

const (
	wsReadBufferSize   = 1024
	wsWriteBufferSize  = 1024
	doCheckSubprotocol = true
)

var wsUpgrader = GetWSUpgrader()

// GetWSUpgrader returns the websocket upgrader for use with watchroom
func GetWSUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		Subprotocols: []string{
			WebsocketSubprotocolMagicV1,
		},
		CheckOrigin: func(r *http.Request) bool {
			return true
		}, //disable origin check
	}
}

type ErrClientConnect int

const (
	ErrClientConnectBadRoomID ErrClientConnect = iota
)

func (e ErrClientConnect) Error() string {
	switch e {
	case ErrClientConnectBadRoomID:
		return ErrInvalidRoomID
	default:
		return "Unknown connect error"
	}
}

func handleWSClient(s *Server, w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	roomID := q.Get("room")

	rm := s.Room(roomID)
	if rm == nil {
		s.log.Warn().Str("addr", r.RemoteAddr).Str("room", roomID).Msg("connect to unknown room")
		http.Error(w, ErrClientConnectBadRoomID.Error(), http.StatusNotFound)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if doCheckSubprotocol && conn.Subprotocol() != WebsocketSubprotocolMagicV1 {
		conn.WriteMessage(websocket.CloseMessage, []byte("unsupported subprotocol version"))
		conn.Close()
		return
	}

	cid := xid.New().String()
	client := NewClientConn(cid, rm, conn)

	go client.HandleSend()
	go client.HandleRecv()

	rm.AddClient(client)
	s.log.Info().Str("cid", cid).Str("addr", conn.RemoteAddr().String()).Str("room", roomID).Msg("client connected")
}

// GetWSHandleFunc returns the websocket handle function for the server
func GetWSHandleFunc(server *Server) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		handleWSClient(server, w, r)
	}
}
