package price

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubFeed returns a scripted sequence of prices and errors.
type stubFeed struct {
	calls  atomic.Int64
	price  atomic.Value // float64
	broken atomic.Bool
}

func (f *stubFeed) FetchPrice(ctx context.Context) (float64, error) {
	f.calls.Add(1)
	if f.broken.Load() {
		return 0, fmt.Errorf("feed unavailable")
	}
	return f.price.Load().(float64), nil
}

func newStubFeed(price float64) *stubFeed {
	f := &stubFeed{}
	f.price.Store(price)
	return f
}

func TestCache_FetchesOnDemand(t *testing.T) {
	feed := newStubFeed(2069.42)
	cache := NewCache(feed, time.Minute, zap.NewNop())

	value, ok := cache.Price(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2069.42, value)
	assert.Equal(t, int64(1), feed.calls.Load())
}

func TestCache_ServesFreshValueWithoutRefetch(t *testing.T) {
	feed := newStubFeed(100.0)
	cache := NewCache(feed, time.Minute, zap.NewNop())

	_, ok := cache.Price(context.Background())
	require.True(t, ok)

	// Within the freshness window no second fetch happens.
	for i := 0; i < 5; i++ {
		value, ok := cache.Price(context.Background())
		require.True(t, ok)
		assert.Equal(t, 100.0, value)
	}
	assert.Equal(t, int64(1), feed.calls.Load())
}

func TestCache_ServesStaleValueOnError(t *testing.T) {
	feed := newStubFeed(100.0)
	cache := NewCache(feed, 10*time.Millisecond, zap.NewNop())

	value, ok := cache.Price(context.Background())
	require.True(t, ok)
	require.Equal(t, 100.0, value)

	// Window expires, the feed breaks: the stale value keeps serving.
	feed.broken.Store(true)
	time.Sleep(20 * time.Millisecond)

	value, ok = cache.Price(context.Background())
	assert.True(t, ok)
	assert.Equal(t, 100.0, value)
}

func TestCache_NeverPopulated(t *testing.T) {
	feed := newStubFeed(0)
	feed.broken.Store(true)
	cache := NewCache(feed, time.Minute, zap.NewNop())

	_, ok := cache.Price(context.Background())
	assert.False(t, ok)
}

func TestCache_BackgroundRefresh(t *testing.T) {
	feed := newStubFeed(100.0)
	cache := NewCache(feed, 10*time.Millisecond, zap.NewNop())

	cache.Start(context.Background())
	defer cache.Stop()

	require.Eventually(t, func() bool {
		value, ok := cache.Price(context.Background())
		return ok && value == 100.0
	}, time.Second, 5*time.Millisecond)

	feed.price.Store(250.0)

	require.Eventually(t, func() bool {
		value, _ := cache.Price(context.Background())
		return value == 250.0
	}, time.Second, 5*time.Millisecond)
}

func TestHTTPFeed_ParsesPriceResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"prices":[{"value":"2069.42","lastUpdatedAt":"2026-08-29T00:00:00Z"}]}]}`)
	}))
	defer srv.Close()

	feed := NewHTTPFeed(srv.URL, zap.NewNop())
	value, err := feed.FetchPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2069.42, value)
}

func TestHTTPFeed_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	feed := NewHTTPFeed(srv.URL, zap.NewNop())
	_, err := feed.FetchPrice(context.Background())
	require.Error(t, err)
}

func TestHTTPFeed_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	feed := NewHTTPFeed(srv.URL, zap.NewNop())
	_, err := feed.FetchPrice(context.Background())
	require.Error(t, err)
}
