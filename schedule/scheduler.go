package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	hostpool "github.com/bitly/go-hostpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/watchroom/watchroom/room"
)

// configurable constants
const (
	PollPeriod      = 30 * time.Second
	ScheduleChannel = "watchroom:schedule"
	pollTimeout     = 5 * time.Second
)

// url schemes for our backends
var (
	BackendWSScheme, _   = url.Parse("ws://example.com:8080")
	BackendRESTScheme, _ = url.Parse("http://example.com:8080")
)

// BackendSet is the message schedulers exchange over pub/sub.
type BackendSet struct {
	Backends []string `json:"backends"`
}

// Scheduler implements the same room-creation API as the backends and
// delegates each request to one of them, recording the placement in the
// registry. Backend liveness comes from polling GET /server; the resulting
// set is shared with peer schedulers over redis pub/sub.
type Scheduler struct {
	reg     Registry
	pool    hostpool.HostPool
	rclient *redis.Client // nil disables pub/sub
	mutex   sync.RWMutex
	log     zerolog.Logger
}

// NewScheduler creates a scheduler over the given static backend hosts.
func NewScheduler(backends []string, reg Registry, rclient *redis.Client, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		reg:     reg,
		pool:    hostpool.New(backends),
		rclient: rclient,
		log:     logger,
	}
}

// SetBackends rebuilds the host pool.
func (sch *Scheduler) SetBackends(hosts []string) {
	sch.mutex.Lock()
	sch.pool = hostpool.New(hosts) // round-robin
	sch.mutex.Unlock()
}

// NextBackend returns the backend host for the next placement, or "" while
// no backends are known; hostpool panics on an empty pool.
func (sch *Scheduler) NextBackend() string {
	sch.mutex.RLock()
	defer sch.mutex.RUnlock()
	if len(sch.pool.Hosts()) == 0 {
		return ""
	}
	return sch.pool.Get().Host()
}

// Run polls the backends until ctx is cancelled, refreshing room placements
// and publishing the live backend set. It also applies sets published by
// peer schedulers.
func (sch *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(PollPeriod)
	defer ticker.Stop()

	var pubsub <-chan *redis.Message
	if sch.rclient != nil {
		ps := sch.rclient.Subscribe(ctx, ScheduleChannel)
		defer ps.Close()
		pubsub = ps.Channel()
	}

	sch.poll(ctx)
	for {
		select {
		case <-ticker.C:
			sch.poll(ctx)
		case m, ok := <-pubsub:
			if !ok {
				return
			}
			var s BackendSet
			if err := json.Unmarshal([]byte(m.Payload), &s); err != nil {
				sch.log.Warn().Err(err).Msg("bad schedule update")
				continue
			}
			sch.log.Info().Strs("backends", s.Backends).Msg("received schedule update")
			sch.SetBackends(s.Backends)
		case <-ctx.Done():
			return
		}
	}
}

// poll asks every known backend for its room list, re-registers the rooms it
// hosts and drops unreachable backends from the pool.
func (sch *Scheduler) poll(ctx context.Context) {
	sch.mutex.RLock()
	hosts := sch.pool.Hosts()
	sch.mutex.RUnlock()

	live := make([]string, 0, len(hosts))
	for _, host := range hosts {
		info, err := sch.fetchServerInfo(ctx, host)
		if err != nil {
			sch.log.Warn().Err(err).Str("backend", host).Msg("backend unreachable")
			continue
		}
		live = append(live, host)
		for _, rid := range info.Rooms {
			if err := sch.reg.Assign(ctx, rid, host); err != nil {
				sch.log.Warn().Err(err).Str("room", rid).Msg("registry assign failed")
			}
		}
	}
	if len(live) > 0 {
		sch.SetBackends(live)
	}
	if sch.rclient != nil {
		msg, _ := json.Marshal(&BackendSet{Backends: live})
		if err := sch.rclient.Publish(ctx, ScheduleChannel, string(msg)).Err(); err != nil {
			sch.log.Warn().Err(err).Msg("schedule publish failed")
		}
	}
}

func (sch *Scheduler) fetchServerInfo(ctx context.Context, host string) (*room.ServerInfoMsg, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+host+"/server", nil)
	if err != nil {
		return nil, err
	}
	rsp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	var m room.ServerInfoMsg
	if err := json.NewDecoder(rsp.Body).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ProxyDirector returns a Director function for the reverse proxy
func (sch *Scheduler) ProxyDirector() func(*http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = BackendRESTScheme.Scheme
		req.URL.Host = sch.NextBackend()
		if _, ok := req.Header["User-Agent"]; !ok {
			req.Header.Set("User-Agent", "")
		}
	}
}

// RoomRegister returns a ModifyResponse function that records where a newly
// created room was placed.
func (sch *Scheduler) RoomRegister() func(*http.Response) error {
	return func(rsp *http.Response) error {
		if rsp.StatusCode == http.StatusOK {
			b, err := io.ReadAll(rsp.Body)
			if err != nil {
				return err
			}
			if err := rsp.Body.Close(); err != nil {
				return err
			}
			var m room.RoomCreatedMsg
			if err := json.Unmarshal(b, &m); err != nil {
				return errors.New("internal error during room creation")
			}
			if err := sch.reg.Assign(rsp.Request.Context(), m.RoomID, rsp.Request.URL.Host); err != nil {
				sch.log.Warn().Err(err).Str("room", m.RoomID).Msg("registry assign failed")
			}
			// put the original content back
			rsp.Body = io.NopCloser(bytes.NewReader(b))
		}
		return nil
	}
}

// GetProxy returns the reverse proxy http.Handler for room creation. While
// the pool is empty requests are answered 503 instead of being proxied
// nowhere.
func (sch *Scheduler) GetProxy() http.Handler {
	rp := &httputil.ReverseProxy{Director: sch.ProxyDirector(), ModifyResponse: sch.RoomRegister()}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sch.mutex.RLock()
		empty := len(sch.pool.Hosts()) == 0
		sch.mutex.RUnlock()
		if empty {
			http.Error(w, "no backend available", http.StatusServiceUnavailable)
			return
		}
		rp.ServeHTTP(w, req)
	})
}
