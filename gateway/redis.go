package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

const chatHistoryCap = 500

// Redis is the durable Gateway backend. Room records live in hashes, chat
// and video history in lists capped at chatHistoryCap.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func roomKey(id string) string   { return "watchroom:room:" + id }
func nameKey(name string) string { return "watchroom:name:" + name }
func chatKey(id string) string   { return roomKey(id) + ":chat" }
func videosKey(id string) string { return roomKey(id) + ":videos" }

func (g *Redis) GetOrCreateRoom(ctx context.Context, name string) (Room, error) {
	id, err := g.client.Get(ctx, nameKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		id = xid.New().String()
		ok, err := g.client.SetNX(ctx, nameKey(name), id, 0).Result()
		if err != nil {
			return Room{}, fmt.Errorf("create room %q: %w", name, err)
		}
		if !ok {
			// lost the race, take the winner's id
			id, err = g.client.Get(ctx, nameKey(name)).Result()
			if err != nil {
				return Room{}, fmt.Errorf("create room %q: %w", name, err)
			}
		} else {
			if err := g.client.HSet(ctx, roomKey(id), "name", name).Err(); err != nil {
				return Room{}, fmt.Errorf("create room %q: %w", name, err)
			}
		}
	} else if err != nil {
		return Room{}, fmt.Errorf("get room %q: %w", name, err)
	}

	var state VideoState
	if err := g.client.HGetAll(ctx, roomKey(id)).Scan(&state); err != nil {
		return Room{}, fmt.Errorf("load room %q state: %w", name, err)
	}
	return Room{ID: id, Name: name, State: state}, nil
}

func (g *Redis) SaveRoomState(ctx context.Context, roomID string, state VideoState) error {
	if err := g.client.HSet(ctx, roomKey(roomID), state).Err(); err != nil {
		return fmt.Errorf("save room %s state: %w", roomID, err)
	}
	return nil
}

func (g *Redis) AppendMessage(ctx context.Context, roomID string, m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	pipe := g.client.TxPipeline()
	pipe.RPush(ctx, chatKey(roomID), b)
	pipe.LTrim(ctx, chatKey(roomID), -chatHistoryCap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append message to %s: %w", roomID, err)
	}
	return nil
}

func (g *Redis) AppendVideoHistory(ctx context.Context, roomID string, e VideoHistoryEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := g.client.RPush(ctx, videosKey(roomID), b).Err(); err != nil {
		return fmt.Errorf("append video history to %s: %w", roomID, err)
	}
	return nil
}

func (g *Redis) LoadRecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = chatHistoryCap
	}
	raw, err := g.client.LRange(ctx, chatKey(roomID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load messages of %s: %w", roomID, err)
	}
	msgs := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			continue // skip corrupt entries rather than fail the replay
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
