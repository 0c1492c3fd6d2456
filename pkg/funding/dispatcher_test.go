package funding

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gasline/gasline/pkg/gas"
)

const testSender = "0x1111111111111111111111111111111111111111"

type capturedRequest struct {
	path    string
	apiKey  string
	payload map[string]interface{}
}

// fundingAPI records every request it receives.
type fundingAPI struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
}

func (a *fundingAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)

		a.mu.Lock()
		a.requests = append(a.requests, capturedRequest{
			path:    r.URL.Path,
			apiKey:  r.Header.Get("x-api-key"),
			payload: payload,
		})
		a.mu.Unlock()

		status := a.status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}
}

func (a *fundingAPI) captured() []capturedRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]capturedRequest(nil), a.requests...)
}

func testEstimate() *gas.Estimate {
	return &gas.Estimate{
		GasPrice:        big.NewInt(1e9),
		GasLimit:        21000,
		TotalCostWei:    big.NewInt(21000 * 1e9),
		TotalCostNative: 0.000021,
		Estimated:       true,
	}
}

func TestDispatcher_RelayRequest(t *testing.T) {
	api := &fundingAPI{}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	d := NewDispatcher(&Config{
		APIURL:      srv.URL,
		APIKey:      "test-key",
		Mode:        ModeRelay,
		Multiplier:  1.2,
		MinFinality: 1000,
		Routes:      map[string]string{"http://rpc-arb": "arbitrum"},
	}, zap.NewNop())

	ok := d.Request(context.Background(), testSender, testEstimate(), "http://rpc-arb")
	require.True(t, ok)

	reqs := api.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/relay", reqs[0].path)
	assert.Equal(t, "test-key", reqs[0].apiKey)
	assert.Equal(t, testSender, reqs[0].payload["user"])
	// 0.000021 * 1.2 rounded to six decimals
	assert.Equal(t, "0.000025", reqs[0].payload["eth"])
	assert.Equal(t, "arbitrum", reqs[0].payload["src"])
	// Relay rotates to the next chain in the cycle.
	assert.Equal(t, "base", reqs[0].payload["dst"])
	assert.Equal(t, float64(1000), reqs[0].payload["minFinality"])
}

func TestDispatcher_GasDropRequest(t *testing.T) {
	api := &fundingAPI{}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	d := NewDispatcher(&Config{
		APIURL:        srv.URL,
		Mode:          ModeGasDrop,
		Multiplier:    1.2,
		DefaultSource: "base",
	}, zap.NewNop())

	ok := d.Request(context.Background(), testSender, testEstimate(), "")
	require.True(t, ok)

	reqs := api.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/api/gas-drop", reqs[0].path)
	assert.Equal(t, "base", reqs[0].payload["src"])
	_, hasDst := reqs[0].payload["dst"]
	assert.False(t, hasDst)
}

func TestDispatcher_UnroutedOriginUsesDefaultSource(t *testing.T) {
	api := &fundingAPI{}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	d := NewDispatcher(&Config{
		APIURL:        srv.URL,
		Mode:          ModeRelay,
		DefaultSource: "optimism",
	}, zap.NewNop())

	require.True(t, d.Request(context.Background(), testSender, testEstimate(), "http://unknown-rpc"))

	reqs := api.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, "optimism", reqs[0].payload["src"])
	assert.Equal(t, "arbitrum", reqs[0].payload["dst"])
}

func TestDispatcher_FailuresAreSwallowed(t *testing.T) {
	api := &fundingAPI{status: http.StatusForbidden}
	srv := httptest.NewServer(api.handler())
	defer srv.Close()

	d := NewDispatcher(&Config{APIURL: srv.URL}, zap.NewNop())
	assert.False(t, d.Request(context.Background(), testSender, testEstimate(), ""))

	// Unreachable API behaves the same.
	srv.Close()
	assert.False(t, d.Request(context.Background(), testSender, testEstimate(), ""))
}

func TestDispatcher_SkipsWithoutConfiguration(t *testing.T) {
	d := NewDispatcher(&Config{}, zap.NewNop())
	assert.False(t, d.Request(context.Background(), testSender, testEstimate(), ""))
}

func TestDispatcher_SkipsWithoutEstimate(t *testing.T) {
	d := NewDispatcher(&Config{APIURL: "http://localhost:1"}, zap.NewNop())
	assert.False(t, d.Request(context.Background(), testSender, nil, ""))
}
