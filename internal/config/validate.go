package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *FeedConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Broker.RestURL == "" {
		return errors.New("broker.rest_url is required")
	}
	if c.Broker.WSURL == "" {
		return errors.New("broker.ws_url is required")
	}

	if c.Venue.Name == "" {
		return errors.New("venue.name is required")
	}

	if c.Pull.BatchCap < 1 {
		return errors.New("pull.batch_cap must be >= 1")
	}
	if c.Pull.RequestsPerSecond <= 0 {
		return errors.New("pull.requests_per_second must be > 0")
	}

	if c.Recorder.Enabled {
		if err := c.Database.Timeseries.validate("database.timeseries"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	switch c.Watchlist.Detail {
	case "quote", "quote+depth":
	default:
		return fmt.Errorf("watchlist.detail must be quote or quote+depth, got %q", c.Watchlist.Detail)
	}

	return nil
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
