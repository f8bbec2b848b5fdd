package config

import "time"

// Config is the root configuration for a trader-chat instance.
type Config struct {
	Instance  InstanceConfig  `yaml:"instance"`
	Server    ServerConfig    `yaml:"server"`
	Prices    PricesConfig    `yaml:"prices"`
	Inference InferenceConfig `yaml:"inference"`
	Broker    BrokerConfig    `yaml:"broker"`
	Funding   FundingConfig   `yaml:"funding"`
	Session   SessionConfig   `yaml:"session"`
	Cache     CacheConfig     `yaml:"cache"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	SendTimeout    time.Duration `yaml:"send_timeout"` // Deadline for one whole send cycle
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// PricesConfig holds futures ticker API settings.
type PricesConfig struct {
	RestURL        string        `yaml:"rest_url"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	PopularSymbols []string      `yaml:"popular_symbols"` // Empty uses the built-in list
	Concurrency    int           `yaml:"concurrency"`
}

// InferenceConfig holds provider endpoint settings.
type InferenceConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// BrokerConfig holds the broker gateway settings.
type BrokerConfig struct {
	GatewayURL     string        `yaml:"gateway_url"`
	APIKey         string        `yaml:"api_key"`          // Sent as bearer token
	KeyID          string        `yaml:"key_id"`           // GATEWAY-ACCESS-KEY header
	PrivateKeyPath string        `yaml:"private_key_path"` // RSA key for signed requests
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// FundingConfig holds sub-account funding amounts in ledger base units.
// Amounts are decimal strings since they exceed what YAML ints carry safely.
type FundingConfig struct {
	TopUp    string `yaml:"top_up"`
	LowWater string `yaml:"low_water"`
	Service  string `yaml:"service"`
}

// SessionConfig holds conversation status settings.
type SessionConfig struct {
	VerifyStatusTTL time.Duration `yaml:"verify_status_ttl"`
	ErrorStatusTTL  time.Duration `yaml:"error_status_ttl"`
}

// CacheConfig holds the optional Redis ticker cache settings.
type CacheConfig struct {
	RedisURL        string        `yaml:"redis_url"` // Empty disables the cache
	TTL             time.Duration `yaml:"ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"` // Popular-pair warm-up; zero disables
}

// DatabaseConfig holds the optional Postgres transcript archive.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds slog handler settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
