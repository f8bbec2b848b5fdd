package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Prices.RestURL == "" {
		return errors.New("prices.rest_url is required")
	}
	if c.Prices.Concurrency < 1 {
		return errors.New("prices.concurrency must be >= 1")
	}

	if c.Broker.GatewayURL == "" {
		return errors.New("broker.gateway_url is required")
	}
	if c.Broker.PrivateKeyPath != "" && c.Broker.KeyID == "" {
		return errors.New("broker.key_id is required when broker.private_key_path is set")
	}

	topUp, err := c.Funding.TopUpAmount()
	if err != nil {
		return err
	}
	if topUp.Sign() <= 0 {
		return errors.New("funding.top_up must be > 0")
	}
	if _, err := c.Funding.LowWaterAmount(); err != nil {
		return err
	}

	if c.Database.Postgres.Enabled() {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// TopUpAmount parses funding.top_up.
func (f FundingConfig) TopUpAmount() (*big.Int, error) {
	return parseAmount("funding.top_up", f.TopUp)
}

// LowWaterAmount parses funding.low_water.
func (f FundingConfig) LowWaterAmount() (*big.Int, error) {
	return parseAmount("funding.low_water", f.LowWater)
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%s must be an integer amount, got %q", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s must be >= 0", field)
	}
	return v, nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
