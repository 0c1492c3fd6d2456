package constants

import "time"

// Server defaults
const (
	DefaultProxyHost = "localhost"
	DefaultProxyPort = 8545

	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 0 // held transactions defer the response indefinitely
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxHeaderBytes  = 1 << 20

	DefaultRateLimitPerSecond = 100.0
	DefaultRateLimitBurst     = 200
)

// Upstream router defaults
const (
	// DefaultFailureThreshold is the number of consecutive failures before
	// an endpoint is marked unhealthy.
	DefaultFailureThreshold = 3

	// DefaultRecoveryCooldown is how long an unhealthy endpoint is excluded
	// from selection before it is optimistically re-enabled.
	DefaultRecoveryCooldown = 30 * time.Second

	// DefaultUpstreamTimeout bounds a single upstream HTTP call.
	DefaultUpstreamTimeout = 30 * time.Second
)

// Price cache defaults
const (
	// DefaultPriceRefreshInterval is the freshness window of the cached
	// native-token price and the period of the background refresher.
	DefaultPriceRefreshInterval = time.Minute

	DefaultPriceFetchTimeout = 10 * time.Second
)

// Held-transaction defaults
const (
	// DefaultPollInterval is how often a held transaction re-checks the
	// sender's real balance.
	DefaultPollInterval = time.Second

	// DefaultRawPollInterval is the slower interval used for decoded raw
	// transactions.
	DefaultRawPollInterval = 2 * time.Second

	// DefaultFallbackHold is how long an undecodable raw transaction is
	// held before it is force-released.
	DefaultFallbackHold = 15 * time.Second

	// DefaultMaxHold of zero preserves the unbounded wait: a held
	// transaction is only released by a balance check or fallback timer.
	DefaultMaxHold = 0 * time.Second
)

// Funding defaults
const (
	// DefaultFundingMultiplier pads the estimated gas cost so the funded
	// amount survives small gas price movements between estimate and send.
	DefaultFundingMultiplier = 1.2

	DefaultFundingTimeout     = 10 * time.Second
	DefaultFundingMinFinality = 1000
)
