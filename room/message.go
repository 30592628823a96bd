package room

import (
	"encoding/json"
	"time"
)

// MessageType tags the wire envelope.
type MessageType string

// MessageType instances
const (
	MessageTypeJoin          MessageType = "join"
	MessageTypeJoined        MessageType = "joined"
	MessageTypePing          MessageType = "ping"
	MessageTypePong          MessageType = "pong"
	MessageTypeAdminStatus   MessageType = "adminStatus"
	MessageTypeAdminIdentity MessageType = "adminIdentity"
	MessageTypeAdminRequest  MessageType = "adminRequest"
	MessageTypeAdminTransfer MessageType = "adminTransfer"
	MessageTypeChat          MessageType = "chat"
	MessageTypeSystem        MessageType = "system"
	MessageTypeVideoState    MessageType = "videoState"
	MessageTypeChangeVideo   MessageType = "changeVideo"
	MessageTypeVideoPlay     MessageType = "videoPlay"
	MessageTypeVideoPause    MessageType = "videoPause"
	MessageTypeVideoSeek     MessageType = "videoSeek"
	MessageTypeSyncTime      MessageType = "syncTime"
	MessageTypeDetailedSync  MessageType = "detailedSync"
	MessageTypeError         MessageType = "error"
)

// Message defines the watchroom wire format: a typed envelope around a
// per-type payload.
type Message struct {
	Sender     string      `json:"-"`
	ReceivedAt time.Time   `json:"-"`
	Type       MessageType `json:"type"`
	Payload    interface{} `json:"payload,omitempty"`
}

type receivedMessage struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type JoinPayload struct {
	DisplayName string `json:"name"`
}

// JoinedPayload acks a join with the server-assigned session id.
type JoinedPayload struct {
	SessionID string `json:"sid"`
}

type PingPayload struct {
	Timestamp float64 `json:"sendtime"`
}

type PongPayload struct {
	Timestamp float64 `json:"sendtime"`
	SvcTime   float64 `json:"servicetime"`
}

type AdminStatusPayload struct {
	Admin bool `json:"admin"`
}

type AdminIdentityPayload struct {
	SessionID   string `json:"sid"`
	DisplayName string `json:"name"`
}

type AdminRequestPayload struct {
	FromID   string `json:"fromId"`
	FromName string `json:"fromName"`
}

type AdminTransferPayload struct {
	ToID string `json:"toId"`
}

type ChatPayload struct {
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

// SystemPayload carries server-originated notices; clients never send it.
type SystemPayload struct {
	Text string `json:"text"`
}

type ErrorPayload struct {
	Reason string `json:"reason"`
}

// VideoStatePayload is the full playback snapshot sent to new joiners and on
// video change.
type VideoStatePayload struct {
	Locator         string    `json:"locator"`
	Kind            VideoKind `json:"kind"`
	Playing         bool      `json:"playing"`
	Position        float64   `json:"position"`
	ServerTimestamp float64   `json:"serverTimestamp,omitempty"`
}

type ChangeVideoPayload struct {
	Locator string `json:"locator"`
}

// PlaybackEventPayload is shared by videoPlay, videoPause and videoSeek. The
// server stamps ServerTimestamp on broadcast; clients leave it zero.
type PlaybackEventPayload struct {
	Position        float64 `json:"position"`
	ServerTimestamp float64 `json:"serverTimestamp,omitempty"`
}

type SyncTimePayload struct {
	Position float64 `json:"position"`
}

type DetailedSyncPayload struct {
	Position        float64 `json:"position"`
	Playing         bool    `json:"playing"`
	ServerTimestamp float64 `json:"serverTimestamp"`
}

// Serialise a Message to its wire format as []byte
func (m *Message) Serialise() ([]byte, error) {
	return json.Marshal(m)
}

// Deserialise a Message stored in data in its wire format back to a struct
// and store it to the value pointed to by m
func Deserialise(data []byte, m *Message) error {
	var rm receivedMessage

	err := json.Unmarshal(data, &rm)
	if err != nil {
		return err
	}

	m.ReceivedAt = time.Now()
	m.Type = rm.Type

	if len(rm.Payload) == 0 {
		rm.Payload = json.RawMessage("{}")
	}

	switch m.Type {
	case MessageTypeJoin:
		var p JoinPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeJoined:
		var p JoinedPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePing:
		var p PingPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypePong:
		var p PongPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeAdminStatus:
		var p AdminStatusPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeAdminIdentity:
		var p AdminIdentityPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeAdminRequest:
		var p AdminRequestPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeAdminTransfer:
		var p AdminTransferPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeChat:
		var p ChatPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeSystem:
		var p SystemPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeError:
		var p ErrorPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVideoState:
		var p VideoStatePayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeChangeVideo:
		var p ChangeVideoPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeVideoPlay, MessageTypeVideoPause, MessageTypeVideoSeek:
		var p PlaybackEventPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeSyncTime:
		var p SyncTimePayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	case MessageTypeDetailedSync:
		var p DetailedSyncPayload
		err = json.Unmarshal(rm.Payload, &p)
		m.Payload = &p
	default:
		m.Payload = rm.Payload
	}
	if err != nil {
		return err
	}
	return nil
}

// wallClock is the float-seconds timestamp stamped onto playback broadcasts.
func wallClock(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
