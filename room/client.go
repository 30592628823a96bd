package room

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// WriteWait bounds a single websocket write.
	WriteWait = 10 * time.Second
)

// ClientConn encapsulates an established client websocket connection.
type ClientConn struct {
	id        string
	conn      *websocket.Conn
	room      *Room
	sendQueue chan *Message
	closing   chan struct{}
	closeOnce sync.Once
}

// NewClientConn creates a client websocket connection wrapper
func NewClientConn(id string, room *Room, conn *websocket.Conn) *ClientConn {
	return &ClientConn{
		id:        id,
		conn:      conn,
		room:      room,
		sendQueue: make(chan *Message, clientSendQueueSize),
		closing:   make(chan struct{}),
	}
}

func (c *ClientConn) ID() string         { return c.id }
func (c *ClientConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// Send queues m for delivery. A consumer that cannot keep up loses messages
// rather than stalling the room manager; the periodic sync repairs any
// resulting drift.
func (c *ClientConn) Send(m *Message) {
	select {
	case <-c.closing:
	case c.sendQueue <- m:
	default:
		c.room.log.Warn().Str("cid", c.id).Msg("send queue full, dropping message")
	}
}

func (c *ClientConn) Finalise() {
	c.closeOnce.Do(func() { close(c.closing) })
}

// HandleRecv reads from c.conn; the goroutine that runs this owns conn reads.
func (c *ClientConn) HandleRecv() {
	defer func() {
		c.room.DropClient(c)
	}()
	for {
		select {
		case <-c.closing:
			return
		default:
		}
		_, b, err := c.conn.ReadMessage()
		if nil != err {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.room.log.Warn().Err(err).Str("cid", c.id).Msg("unexpected closure")
			}
			return
		}
		var msg Message
		if err := Deserialise(b, &msg); err != nil {
			c.room.log.Warn().Str("cid", c.id).Msg("invalid message, dropping")
			continue
		}
		msg.Sender = c.id

		switch msg.Type {
		case MessageTypePing:
			p := msg.Payload.(*PingPayload)
			c.Send(&Message{
				ReceivedAt: msg.ReceivedAt,
				Type:       MessageTypePong,
				Payload:    &PongPayload{Timestamp: p.Timestamp},
			})
		case MessageTypePong, MessageTypeSystem:
			// clients may not originate these
		default:
			c.room.enqueue(&msg)
		}
	}
}

// HandleSend writes to c.conn; the goroutine that runs this owns conn writes.
func (c *ClientConn) HandleSend() {
	defer func() {
		c.conn.Close()
		c.room.DropClient(c)
	}()
	for {
		select {
		case msg := <-c.sendQueue:
			if msg.Type == MessageTypePong {
				// stamp the service time just before the wire
				p := msg.Payload.(*PongPayload)
				p.SvcTime = time.Since(msg.ReceivedAt).Seconds()
			}
			b, err := msg.Serialise()
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-c.closing:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
