package room

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchroom/watchroom/gateway"
)

type fakeConn struct {
	id   string
	mu   sync.Mutex
	msgs []*Message
	done bool
}

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "test:" + c.id }
func (c *fakeConn) Send(m *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}
func (c *fakeConn) Finalise() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
}

func (c *fakeConn) received(t MessageType) []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Message
	for _, m := range c.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) last(t MessageType) *Message {
	ms := c.received(t)
	if len(ms) == 0 {
		return nil
	}
	return ms[len(ms)-1]
}

type roomHarness struct {
	r  *Room
	gw *gateway.Memory
}

func newTestRoom(t *testing.T) *roomHarness {
	t.Helper()
	gw := gateway.NewMemory()
	rec, err := gw.GetOrCreateRoom(context.Background(), "movienight")
	require.NoError(t, err)
	r := NewRoom(rec, nil, gw, zerolog.Nop())
	go r.RunManager()
	t.Cleanup(r.Close)
	return &roomHarness{r: r, gw: gw}
}

func (h *roomHarness) connect(t *testing.T, id string) *fakeConn {
	t.Helper()
	c := &fakeConn{id: id}
	h.r.AddClient(c)
	return c
}

func (h *roomHarness) join(t *testing.T, id, name string) *fakeConn {
	t.Helper()
	c := h.connect(t, id)
	h.r.enqueue(&Message{Sender: id, Type: MessageTypeJoin, Payload: &JoinPayload{DisplayName: name}})
	require.Eventually(t, func() bool { return c.last(MessageTypeJoined) != nil }, time.Second, time.Millisecond)
	return c
}

func (h *roomHarness) send(id string, typ MessageType, payload interface{}) {
	h.r.enqueue(&Message{Sender: id, Type: typ, Payload: payload})
}

func adminIdentityOf(c *fakeConn) string {
	m := c.last(MessageTypeAdminIdentity)
	if m == nil {
		return ""
	}
	return m.Payload.(*AdminIdentityPayload).SessionID
}

func TestFirstJoinerBecomesAdmin(t *testing.T) {
	h := newTestRoom(t)
	c1 := h.join(t, "c1", "alice")

	require.Eventually(t, func() bool {
		st := c1.last(MessageTypeAdminStatus)
		return st != nil && st.Payload.(*AdminStatusPayload).Admin
	}, time.Second, time.Millisecond)

	id := c1.last(MessageTypeAdminIdentity)
	require.NotNil(t, id)
	assert.Equal(t, "c1", id.Payload.(*AdminIdentityPayload).SessionID)
	assert.Equal(t, "alice", id.Payload.(*AdminIdentityPayload).DisplayName)
}

func TestAdminDisconnectReelectsEarliestJoined(t *testing.T) {
	h := newTestRoom(t)
	c1 := h.join(t, "c1", "alice")
	c2 := h.join(t, "c2", "bob")
	c3 := h.join(t, "c3", "carol")

	h.r.DropClient(c1)

	// earliest-joined remaining session wins, everyone is told
	require.Eventually(t, func() bool {
		return adminIdentityOf(c2) == "c2" && adminIdentityOf(c3) == "c2"
	}, time.Second, time.Millisecond)

	st := c2.last(MessageTypeAdminStatus)
	require.NotNil(t, st)
	assert.True(t, st.Payload.(*AdminStatusPayload).Admin)
	assert.Nil(t, c3.last(MessageTypeAdminStatus), "only the new admin gets an adminStatus")
}

func TestLastDisconnectLeavesNoAdmin(t *testing.T) {
	h := newTestRoom(t)
	c1 := h.join(t, "c1", "alice")
	h.r.DropClient(c1)

	c2 := h.join(t, "c2", "bob")
	require.Eventually(t, func() bool { return adminIdentityOf(c2) == "c2" }, time.Second, time.Millisecond)
}

func TestChangeVideoBroadcastsAndRecordsHistoryOnce(t *testing.T) {
	h := newTestRoom(t)
	c1 := h.join(t, "c1", "alice")
	c2 := h.join(t, "c2", "bob")

	h.send("c1", MessageTypeChangeVideo, &ChangeVideoPayload{Locator: "https://youtu.be/abc123"})

	for _, c := range []*fakeConn{c1, c2} {
		require.Eventually(t, func() bool { return c.last(MessageTypeVideoState) != nil }, time.Second, time.Millisecond)
		p := c.last(MessageTypeVideoState).Payload.(*VideoStatePayload)
		assert.Equal(t, "https://youtu.be/abc123", p.Locator)
		assert.Equal(t, KindEmbeddable, p.Kind)
		assert.False(t, p.Playing)
		assert.Equal(t, 0.0, p.Position)
	}

	require.Eventually(t, func() bool {
		return len(h.gw.VideoHistory(h.r.ID)) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	assert.Len(t, h.gw.VideoHistory(h.r.ID), 1, "history recorded exactly once")
}

func TestNonAdminPlaybackActionsAreSilentNoOps(t *testing.T) {
	h := newTestRoom(t)
	c1 := h.join(t, "c1", "alice")
	c2 := h.join(t, "c2", "bob")
	c3 := h.join(t, "c3", "carol")

	h.send("c1", MessageTypeChangeVideo, &ChangeVideoPayload{Locator: "https://youtu.be/abc123"})
	require.Eventually(t, func() bool { return c3.last(MessageTypeVideoState) != nil }, time.Second, time.Millisecond)

	// a non-admin player firing events must not disturb shared state
	h.send("c2", MessageTypeVideoPlay, &PlaybackEventPayload{Position: 50})
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, c1.received(MessageTypeVideoPlay))
	assert.Empty(t, c3.received(MessageTypeVideoPlay))
	assert.Empty(t, c2.received(MessageTypeError), "authority violations are silent, not errors")

	// admin action still sees the untouched state
	h.send("c1", MessageTypeVideoPause, &PlaybackEventPayload{Position: 0})
	require.Eventually(t, func() bool { return c2.last(MessageTypeVideoPause) != nil }, time.Second, time.Millisecond)
	p := c2.last(MessageTypeVideoPause).Payload.(*PlaybackEventPayload)
	assert.Equal(t, 0.0, p.Position)
	assert.Greater(t, p.ServerTimestamp, 0.0)
}

func TestAdminPlayBroadcastExcludesAdmin(t *testing.T) {
	h := newTestRoom(t)
	c1 := h.join(t, "c1", "alice")
	c2 := h.join(t, "c2", "bob")

	h.send("c1", MessageTypeChangeVideo, &ChangeVideoPayload{Locator: "https://youtu.be/abc123"})
	h.send("c1", MessageTypeVideoPlay, &PlaybackEventPayload{Position: 12})

	require.Eventually(t, func() bool { return c2.last(MessageTypeVideoPlay) != nil }, time.Second, time.Millisecond)
	p := c2.last(MessageTypeVideoPlay).Payload.(*PlaybackEventPayload)
	assert.Equal(t, 12.0, p.Position)
	assert.Greater(t, p.ServerTimestamp, 0.0)
	assert.Empty(t, c1.received(MessageTypeVideoPlay), "the admin's own action is not echoed back")
}

func TestAdminRequestAndTransfer(t *testing.T) {
	h := newTestRoom(t)
	c1 := h.join(t, "c1", "alice")
	c2 := h.join(t, "c2", "bob")
	c3 := h.join(t, "c3", "carol")

	h.send("c2", MessageTypeAdminRequest, nil)

	require.Eventually(t, func() bool { return c1.last(MessageTypeAdminRequest) != nil }, time.Second, time.Millisecond)
	req := c1.last(MessageTypeAdminRequest).Payload.(*AdminRequestPayload)
	assert.Equal(t, "c2", req.FromID)
	assert.Equal(t, "bob", req.FromName)
	assert.Empty(t, c3.received(MessageTypeAdminRequest), "the ticket goes to the admin only")

	h.send("c1", MessageTypeAdminTransfer, &AdminTransferPayload{ToID: "c2"})

	require.Eventually(t, func() bool {
		return adminIdentityOf(c1) == "c2" && adminIdentityOf(c2) == "c2" && adminIdentityOf(c3) == "c2"
	}, time.Second, time.Millisecond)

	demoted := c1.last(MessageTypeAdminStatus)
	require.NotNil(t, demoted)
	assert.False(t, demoted.Payload.(*AdminStatusPayload).Admin)

	// old admin's playback actions are now ignored
	h.send("c1", MessageTypeVideoSeek, &PlaybackEventPayload{Position: 99})
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, c3.received(MessageTypeVideoSeek))
}

func TestTransferToUnknownSessionIgnored(t *testing.T) {
	h := newTestRoom(t)
	c1 := h.join(t, "c1", "alice")
	h.join(t, "c2", "bob")

	h.send("c1", MessageTypeAdminTransfer, &AdminTransferPayload{ToID: "ghost"})
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "c1", adminIdentityOf(c1), "transfer to a departed session is dropped")
}

func TestChatValidationAndBroadcast(t *testing.T) {
	h := newTestRoom(t)
	c1 := h.join(t, "c1", "alice")
	c2 := h.join(t, "c2", "bob")

	// unregistered sender
	c3 := h.connect(t, "c3")
	h.send("c3", MessageTypeChat, &ChatPayload{Text: "hi"})
	require.Eventually(t, func() bool { return c3.last(MessageTypeError) != nil }, time.Second, time.Millisecond)

	// empty after trim
	h.send("c1", MessageTypeChat, &ChatPayload{Text: "   "})
	require.Eventually(t, func() bool { return c1.last(MessageTypeError) != nil }, time.Second, time.Millisecond)

	// over length cap
	h.send("c1", MessageTypeChat, &ChatPayload{Text: strings.Repeat("x", MaxChatLength+1)})
	require.Eventually(t, func() bool { return len(c1.received(MessageTypeError)) == 2 }, time.Second, time.Millisecond)

	// valid message reaches everyone and is persisted
	h.send("c2", MessageTypeChat, &ChatPayload{Text: "  movie time  "})
	require.Eventually(t, func() bool { return c1.last(MessageTypeChat) != nil }, time.Second, time.Millisecond)
	p := c1.last(MessageTypeChat).Payload.(*ChatPayload)
	assert.Equal(t, "bob", p.Author)
	assert.Equal(t, "movie time", p.Text)

	require.Eventually(t, func() bool {
		msgs, err := h.gw.LoadRecentMessages(context.Background(), h.r.ID, 0)
		if err != nil {
			return false
		}
		for _, m := range msgs {
			if m.Author == "bob" && m.Text == "movie time" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	_ = c2
}

func TestLateJoinerReceivesCurrentState(t *testing.T) {
	h := newTestRoom(t)
	h.join(t, "c1", "alice")
	h.send("c1", MessageTypeChangeVideo, &ChangeVideoPayload{Locator: "https://youtu.be/abc123"})
	h.send("c1", MessageTypeVideoPlay, &PlaybackEventPayload{Position: 60})

	// give the actor a beat to apply both
	time.Sleep(20 * time.Millisecond)

	c2 := h.connect(t, "c2")
	require.Eventually(t, func() bool { return c2.last(MessageTypeVideoState) != nil }, time.Second, time.Millisecond)
	p := c2.last(MessageTypeVideoState).Payload.(*VideoStatePayload)
	assert.Equal(t, "https://youtu.be/abc123", p.Locator)
	assert.True(t, p.Playing)
	assert.GreaterOrEqual(t, p.Position, 60.0, "late joiner gets the extrapolated position, not zero")

	id := c2.last(MessageTypeAdminIdentity)
	require.NotNil(t, id, "late joiner learns who the admin is")
	assert.Equal(t, "c1", id.Payload.(*AdminIdentityPayload).SessionID)
}

func TestDuplicateDisplayNamesAllowed(t *testing.T) {
	h := newTestRoom(t)
	h.join(t, "c1", "alice")
	c2 := h.join(t, "c2", "alice")
	assert.Empty(t, c2.received(MessageTypeError))
}

func TestIdleShutdownUnblocksLateClients(t *testing.T) {
	gw := gateway.NewMemory()
	rec, err := gw.GetOrCreateRoom(context.Background(), "movienight")
	require.NoError(t, err)
	r := NewRoom(rec, nil, gw, zerolog.Nop())
	r.idleTimeout = 20 * time.Millisecond
	go r.RunManager()

	select {
	case <-r.closing:
	case <-time.After(time.Second):
		t.Fatal("room did not shut down after the idle timeout")
	}

	// a client that looked the room up just before it went idle must not
	// block forever on the dead manager
	done := make(chan struct{})
	go func() {
		c := &fakeConn{id: "late"}
		r.AddClient(c)
		r.DropClient(c)
		r.enqueue(&Message{Sender: "late", Type: MessageTypePing})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AddClient blocked after idle shutdown")
	}
}

func TestServerCloseWaitsForFinalPersist(t *testing.T) {
	gw := gateway.NewMemory()
	srv := NewServer(gw, zerolog.Nop())
	rm, err := srv.OpenRoom(context.Background(), "movienight")
	require.NoError(t, err)

	c := &fakeConn{id: "c1"}
	rm.AddClient(c)
	rm.enqueue(&Message{Sender: "c1", Type: MessageTypeJoin, Payload: &JoinPayload{DisplayName: "alice"}})
	rm.enqueue(&Message{Sender: "c1", Type: MessageTypeChangeVideo, Payload: &ChangeVideoPayload{Locator: "https://youtu.be/abc123"}})
	require.Eventually(t, func() bool { return c.last(MessageTypeVideoState) != nil }, time.Second, time.Millisecond)

	srv.Close()

	// Close joins the manager goroutines, so the final state flush has
	// already landed
	rec, err := gw.GetOrCreateRoom(context.Background(), "movienight")
	require.NoError(t, err)
	assert.Equal(t, "https://youtu.be/abc123", rec.State.Locator)
}

func TestRemoveIsIdempotent(t *testing.T) {
	h := newTestRoom(t)
	c1 := h.join(t, "c1", "alice")
	c2 := h.join(t, "c2", "bob")

	h.r.DropClient(c1)
	h.r.DropClient(c1)
	h.r.DropClient(c1)

	require.Eventually(t, func() bool { return adminIdentityOf(c2) == "c2" }, time.Second, time.Millisecond)
}
