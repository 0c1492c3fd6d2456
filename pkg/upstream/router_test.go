package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gasline/gasline/pkg/jsonrpc"
)

func rpcResult(t *testing.T, result string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp, err := jsonrpc.NewResponse(req.ID, result)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func testRouter(t *testing.T, endpoints ...string) *Router {
	t.Helper()
	return testRouterCooldown(t, time.Minute, endpoints...)
}

func testRouterCooldown(t *testing.T, cooldown time.Duration, endpoints ...string) *Router {
	t.Helper()
	r, err := NewRouter(&Config{
		Endpoints:        endpoints,
		FailureThreshold: 3,
		RecoveryCooldown: cooldown,
		Timeout:          time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestNewRouter_NoEndpoints(t *testing.T) {
	_, err := NewRouter(&Config{}, zap.NewNop())
	require.Error(t, err)
}

func TestRouter_CallMethod(t *testing.T) {
	srv := httptest.NewServer(rpcResult(t, "0x1"))
	defer srv.Close()

	r := testRouter(t, srv.URL)

	resp, err := r.CallMethod(context.Background(), "eth_gasPrice", []interface{}{})
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	result, ok := resp.ResultString()
	require.True(t, ok)
	assert.Equal(t, "0x1", result)
}

func TestRouter_RoundRobin(t *testing.T) {
	var hitsA, hitsB atomic.Int64
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsA.Add(1)
		rpcResult(t, "0xa")(w, r)
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitsB.Add(1)
		rpcResult(t, "0xb")(w, r)
	}))
	defer srvB.Close()

	r := testRouter(t, srvA.URL, srvB.URL)

	for i := 0; i < 4; i++ {
		_, err := r.CallMethod(context.Background(), "eth_blockNumber", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(2), hitsA.Load())
	assert.Equal(t, int64(2), hitsB.Load())
}

func TestRouter_FailoverToHealthyEndpoint(t *testing.T) {
	// One dead endpoint among healthy ones: every call still succeeds
	// because the retry budget covers all endpoints.
	srv := httptest.NewServer(rpcResult(t, "0x1"))
	defer srv.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // refuse connections

	r := testRouter(t, dead.URL, srv.URL)

	for i := 0; i < 5; i++ {
		resp, err := r.CallMethod(context.Background(), "eth_blockNumber", nil)
		require.NoError(t, err)
		require.Nil(t, resp.Error)
	}
}

func TestRouter_UnhealthyAfterThreshold(t *testing.T) {
	var deadHits atomic.Int64
	srv := httptest.NewServer(rpcResult(t, "0x1"))
	defer srv.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer dead.Close()

	r := testRouter(t, dead.URL, srv.URL)

	// Drive enough calls that the failing endpoint trips its threshold.
	for i := 0; i < 10; i++ {
		_, err := r.CallMethod(context.Background(), "eth_blockNumber", nil)
		require.NoError(t, err)
	}

	// 3 failures trip the breaker; the endpoint must not be selected again
	// within the cooldown window.
	assert.Equal(t, int64(3), deadHits.Load())

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 2)
	var deadHealth *EndpointHealth
	for i := range snapshot {
		if snapshot[i].URL == dead.URL {
			deadHealth = &snapshot[i]
		}
	}
	require.NotNil(t, deadHealth)
	assert.False(t, deadHealth.Healthy)
}

func TestRouter_RecoversAfterCooldown(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	var hits atomic.Int64

	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		rpcResult(t, "0xf")(w, r)
	}))
	defer flaky.Close()

	srv := httptest.NewServer(rpcResult(t, "0x1"))
	defer srv.Close()

	r := testRouterCooldown(t, 50*time.Millisecond, flaky.URL, srv.URL)

	for i := 0; i < 6; i++ {
		_, err := r.CallMethod(context.Background(), "eth_blockNumber", nil)
		require.NoError(t, err)
	}
	tripped := hits.Load()
	assert.Equal(t, int64(3), tripped)

	// After the cooldown the endpoint is optimistically retried.
	failing.Store(false)
	time.Sleep(80 * time.Millisecond)

	for i := 0; i < 4; i++ {
		_, err := r.CallMethod(context.Background(), "eth_blockNumber", nil)
		require.NoError(t, err)
	}
	assert.Greater(t, hits.Load(), tripped)
}

func TestRouter_AllEndpointsDown(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	r := testRouter(t, dead.URL)

	// Exhaustion yields a structured JSON-RPC error, not a transport
	// error, so the caller can always answer its own caller.
	req, err := jsonrpc.NewRequest(1, "eth_blockNumber", nil)
	require.NoError(t, err)

	resp, callErr := r.Call(context.Background(), req)
	require.NoError(t, callErr)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.InternalError, resp.Error.Code)
}

func TestRouter_ForcesEndpointWhenAllUnhealthy(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		rpcResult(t, "0x1")(w, r)
	}))
	defer flaky.Close()

	r := testRouter(t, flaky.URL)

	for i := 0; i < 5; i++ {
		r.CallMethod(context.Background(), "eth_blockNumber", nil)
	}

	// The single endpoint is unhealthy, but selection never deadlocks:
	// it is forced back so traffic keeps flowing once it recovers.
	failing.Store(false)
	resp, err := r.CallMethod(context.Background(), "eth_blockNumber", nil)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
}

func TestRouter_CallWithOrigin(t *testing.T) {
	srv := httptest.NewServer(rpcResult(t, "0x1"))
	defer srv.Close()

	r := testRouter(t, srv.URL)

	req, err := jsonrpc.NewRequest(1, "eth_blockNumber", nil)
	require.NoError(t, err)

	_, origin, callErr := r.CallWithOrigin(context.Background(), req)
	require.NoError(t, callErr)
	assert.Equal(t, srv.URL, origin)
}
