package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID       = "trader-chat"
	DefaultServerPort       = 8080
	DefaultSendTimeout      = 2 * time.Minute
	DefaultPingInterval     = 30 * time.Second
	DefaultPricesURL        = "https://fapi.binance.com"
	DefaultPricesTimeout    = 10 * time.Second
	DefaultMaxRetries       = 2
	DefaultPriceFanout      = 8
	DefaultInferenceTimeout = 60 * time.Second
	DefaultBrokerTimeout    = 30 * time.Second
	DefaultTopUp            = "2000000000000000000" // 2 tokens
	DefaultLowWater         = "1500000000000000000" // 1.5 tokens
	DefaultFundingService   = "inference"
	DefaultVerifyStatusTTL  = 3 * time.Second
	DefaultErrorStatusTTL   = 5 * time.Second
	DefaultCacheTTL         = 5 * time.Second
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 10
	DefaultMinConns         = 2
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.SendTimeout == 0 {
		c.Server.SendTimeout = DefaultSendTimeout
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = DefaultPingInterval
	}

	// Prices defaults
	if c.Prices.RestURL == "" {
		c.Prices.RestURL = DefaultPricesURL
	}
	if c.Prices.Timeout == 0 {
		c.Prices.Timeout = DefaultPricesTimeout
	}
	if c.Prices.MaxRetries == 0 {
		c.Prices.MaxRetries = DefaultMaxRetries
	}
	if c.Prices.Concurrency == 0 {
		c.Prices.Concurrency = DefaultPriceFanout
	}

	if c.Inference.Timeout == 0 {
		c.Inference.Timeout = DefaultInferenceTimeout
	}

	// Broker defaults
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = DefaultBrokerTimeout
	}
	if c.Broker.MaxRetries == 0 {
		c.Broker.MaxRetries = DefaultMaxRetries
	}

	// Funding defaults
	if c.Funding.TopUp == "" {
		c.Funding.TopUp = DefaultTopUp
	}
	if c.Funding.LowWater == "" {
		c.Funding.LowWater = DefaultLowWater
	}
	if c.Funding.Service == "" {
		c.Funding.Service = DefaultFundingService
	}

	// Session defaults
	if c.Session.VerifyStatusTTL == 0 {
		c.Session.VerifyStatusTTL = DefaultVerifyStatusTTL
	}
	if c.Session.ErrorStatusTTL == 0 {
		c.Session.ErrorStatusTTL = DefaultErrorStatusTTL
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}

	if c.Database.Postgres.Enabled() {
		applyDBDefaults(&c.Database.Postgres)
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
