package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/gasline/gasline/internal/constants"
)

// Feed provides the native-token price in the reference currency.
type Feed interface {
	FetchPrice(ctx context.Context) (float64, error)
}

// HTTPFeed fetches the native-token price from a token price API.
// The expected response shape follows the Alchemy prices API:
//
//	{"data":[{"prices":[{"value":"2069.42","lastUpdatedAt":"..."}]}]}
type HTTPFeed struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

type feedResponse struct {
	Data []struct {
		Prices []struct {
			Value         string `json:"value"`
			LastUpdatedAt string `json:"lastUpdatedAt"`
		} `json:"prices"`
	} `json:"data"`
}

// NewHTTPFeed creates a price feed backed by an HTTP GET endpoint
func NewHTTPFeed(url string, logger *zap.Logger) *HTTPFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFeed{
		url:        url,
		httpClient: &http.Client{Timeout: constants.DefaultPriceFetchTimeout},
		logger:     logger.Named("pricefeed"),
	}
}

// FetchPrice performs a single price lookup
func (f *HTTPFeed) FetchPrice(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var parsed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("failed to decode price response: %w", err)
	}

	if len(parsed.Data) == 0 || len(parsed.Data[0].Prices) == 0 {
		return 0, fmt.Errorf("price response contains no prices")
	}

	entry := parsed.Data[0].Prices[0]
	value, err := strconv.ParseFloat(entry.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid price value %q: %w", entry.Value, err)
	}

	f.logger.Debug("price fetched",
		zap.Float64("value", value),
		zap.String("lastUpdatedAt", entry.LastUpdatedAt),
	)
	return value, nil
}
