package schedule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBackendDrawsFromPool(t *testing.T) {
	backends := []string{"b0:8080", "b1:8080"}
	sch := NewScheduler(backends, NewMemRegistry(), nil, zerolog.Nop())

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		seen[sch.NextBackend()] = true
	}
	for _, b := range backends {
		assert.True(t, seen[b], "round-robin should reach %s", b)
	}
}

func TestSetBackendsRebuildsPool(t *testing.T) {
	sch := NewScheduler([]string{"old:8080"}, NewMemRegistry(), nil, zerolog.Nop())
	sch.SetBackends([]string{"new:8080"})
	for i := 0; i < 5; i++ {
		assert.Equal(t, "new:8080", sch.NextBackend())
	}
}

func TestEmptyBackendPoolRejectsPlacement(t *testing.T) {
	sch := NewScheduler(nil, NewMemRegistry(), nil, zerolog.Nop())

	assert.Equal(t, "", sch.NextBackend(), "an empty pool must not panic")

	rec := httptest.NewRecorder()
	sch.GetProxy().ServeHTTP(rec, httptest.NewRequest("POST", "/rooms", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	sch.SetBackends([]string{"b0:8080"})
	assert.Equal(t, "b0:8080", sch.NextBackend())

	sch.SetBackends(nil)
	assert.Equal(t, "", sch.NextBackend(), "shrinking back to empty must not panic either")
}

func TestPollRegistersBackendRooms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/server", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"nroom":2,"rooms":["r1","r2"]}`))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	reg := NewMemRegistry()
	sch := NewScheduler([]string{u.Host}, reg, nil, zerolog.Nop())

	sch.poll(context.Background())

	host, err := reg.Backend(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, u.Host, host)
	host, _ = reg.Backend(context.Background(), "r2")
	assert.Equal(t, u.Host, host)
}

func TestProxyBackendRoutesByRoom(t *testing.T) {
	reg := NewMemRegistry()
	require.NoError(t, reg.Assign(context.Background(), "r1", "backend-0:8080"))
	rp := NewLoadBalancedReverseProxy(reg)
	pick := rp.ProxyBackend()

	req, _ := http.NewRequest("GET", "http://proxy/ws?room=r1", nil)
	u := pick(req)
	require.NotNil(t, u)
	assert.Equal(t, "backend-0:8080", u.Host)
	assert.Equal(t, "ws", u.Scheme)
	assert.Equal(t, "/ws", u.Path)
	assert.Equal(t, "room=r1", u.RawQuery)

	req, _ = http.NewRequest("GET", "http://proxy/ws?room=unknown", nil)
	assert.Nil(t, pick(req), "unroutable rooms are rejected")

	req, _ = http.NewRequest("GET", "http://proxy/ws", nil)
	assert.Nil(t, pick(req))
}
