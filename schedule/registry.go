// Package schedule is the scale-out layer: a registry mapping rooms to the
// backend process that hosts them, a scheduler that places new rooms, and a
// websocket reverse proxy that routes clients to the owning backend.
package schedule

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

const routeKey = "watchroom:routes"

// Registry records which backend hosts which room.
type Registry interface {
	// Backend returns the host for a room, or "" when unknown.
	Backend(ctx context.Context, roomID string) (string, error)
	Assign(ctx context.Context, roomID, host string) error
	Remove(ctx context.Context, roomID string) error
}

type memRegistry struct {
	m     map[string]string
	mutex sync.RWMutex
}

// NewMemRegistry returns an in-process registry for single-scheduler setups
// and tests.
func NewMemRegistry() Registry {
	return &memRegistry{m: make(map[string]string)}
}

func (r *memRegistry) Backend(ctx context.Context, roomID string) (string, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.m[roomID], nil
}

func (r *memRegistry) Assign(ctx context.Context, roomID, host string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.m[roomID] = host
	return nil
}

func (r *memRegistry) Remove(ctx context.Context, roomID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.m, roomID)
	return nil
}

type redisRegistry struct {
	client *redis.Client
}

// NewRedisRegistry returns a registry shared by scheduler and proxy
// processes.
func NewRedisRegistry(client *redis.Client) Registry {
	return &redisRegistry{client: client}
}

func (r *redisRegistry) Backend(ctx context.Context, roomID string) (string, error) {
	host, err := r.client.HGet(ctx, routeKey, roomID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return host, err
}

func (r *redisRegistry) Assign(ctx context.Context, roomID, host string) error {
	return r.client.HSet(ctx, routeKey, roomID, host).Err()
}

func (r *redisRegistry) Remove(ctx context.Context, roomID string) error {
	return r.client.HDel(ctx, routeKey, roomID).Err()
}
