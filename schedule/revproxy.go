package schedule

import (
	"context"
	"net/http"
	"net/url"

	"github.com/koding/websocketproxy"

	"github.com/watchroom/watchroom/room"
)

// LoadBalancedReverseProxy is the websocket entry point in front of multiple
// backend servers: it routes each client to the backend hosting its room.
type LoadBalancedReverseProxy struct {
	reg Registry
}

// NewLoadBalancedReverseProxy creates a reverse proxy over the given room
// registry.
func NewLoadBalancedReverseProxy(reg Registry) *LoadBalancedReverseProxy {
	return &LoadBalancedReverseProxy{reg: reg}
}

func (r *LoadBalancedReverseProxy) ProxyBackend() func(*http.Request) *url.URL {
	return func(req *http.Request) *url.URL {
		q := req.URL.Query()
		rid := q.Get("room")
		target := ""
		if rid != "" {
			target, _ = r.reg.Backend(context.Background(), rid)
		}
		if target == "" {
			return nil
		}
		u := *BackendWSScheme
		u.Host = target
		u.Fragment = req.URL.Fragment
		u.Path = req.URL.Path
		u.RawQuery = req.URL.RawQuery
		return &u
	}
}

// GetProxy returns a websocket reverse proxy object with registry-backed
// backend selection.
func (r *LoadBalancedReverseProxy) GetProxy() *websocketproxy.WebsocketProxy {
	return &websocketproxy.WebsocketProxy{
		Backend:  r.ProxyBackend(),
		Upgrader: room.GetWSUpgrader(),
	}
}
