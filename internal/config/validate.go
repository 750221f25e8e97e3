package config

import (
	"errors"
	"fmt"

	"github.com/rickgao/kucoin-stream/internal/topic"
)

// Validate checks that all required fields are set and values are valid.
func (c *GathererConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.WebSocket.Private && !c.API.HasCredentials() {
		return errors.New("api.key, api.secret and api.passphrase are required for a private websocket")
	}
	if c.WebSocket.AckTimeout <= 0 {
		return errors.New("websocket.ack_timeout must be > 0")
	}
	if c.WebSocket.ReconnectAttempts < -1 {
		return fmt.Errorf("websocket.reconnect_attempts must be -1 or >= 0, got %d", c.WebSocket.ReconnectAttempts)
	}
	if c.WebSocket.ReconnectMaxDelay < c.WebSocket.ReconnectBaseDelay {
		return errors.New("websocket.reconnect_max_delay cannot be less than reconnect_base_delay")
	}

	for i, sub := range c.Subscriptions {
		if err := topic.Validate(sub.Prefix, sub.Args); err != nil {
			return fmt.Errorf("subscriptions[%d]: %w", i, err)
		}
	}

	if c.Recorder.Enabled {
		if err := c.Recorder.Database.validate("recorder.database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
	}

	if c.Relay.Enabled {
		if c.Relay.Addr == "" {
			return errors.New("relay.addr is required")
		}
		if c.Relay.BufferSize < 1 {
			return errors.New("relay.buffer_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
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
