package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetOrCreateRoomIsStable(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()

	a, err := g.GetOrCreateRoom(ctx, "movienight")
	require.NoError(t, err)
	b, err := g.GetOrCreateRoom(ctx, "movienight")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	c, err := g.GetOrCreateRoom(ctx, "other")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestMemoryRoomStateRoundTrip(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()

	r, err := g.GetOrCreateRoom(ctx, "movienight")
	require.NoError(t, err)

	state := VideoState{Locator: "https://youtu.be/abc", Kind: "embed", Playing: true, Position: 12.5}
	require.NoError(t, g.SaveRoomState(ctx, r.ID, state))

	r2, err := g.GetOrCreateRoom(ctx, "movienight")
	require.NoError(t, err)
	assert.Equal(t, state, r2.State)
}

func TestMemoryMessagesOldestFirstWithLimit(t *testing.T) {
	g := NewMemory()
	ctx := context.Background()
	r, _ := g.GetOrCreateRoom(ctx, "movienight")

	for i := 0; i < 10; i++ {
		require.NoError(t, g.AppendMessage(ctx, r.ID, Message{Author: "a", Text: fmt.Sprintf("m%d", i), At: time.Now()}))
	}

	msgs, err := g.LoadRecentMessages(ctx, r.ID, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m7", msgs[0].Text)
	assert.Equal(t, "m9", msgs[2].Text)

	all, err := g.LoadRecentMessages(ctx, r.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 10)
}

func TestMemoryUnknownRoom(t *testing.T) {
	g := NewMemory()
	msgs, err := g.LoadRecentMessages(context.Background(), "nope", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, g.VideoHistory("nope"))
}
