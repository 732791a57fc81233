package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch {
	case c.Endpoint.URL == "" && c.Endpoint.Host == "":
		return errors.New("endpoint.url or endpoint.host is required")
	case c.Endpoint.URL != "" && c.Endpoint.Host != "":
		return errors.New("endpoint.url and endpoint.host are mutually exclusive")
	}
	if c.Endpoint.Port < 0 || c.Endpoint.Port > 65535 {
		return fmt.Errorf("endpoint.port must be between 0 and 65535, got %d", c.Endpoint.Port)
	}
	if _, err := c.BuildEndpoint(); err != nil {
		return err
	}

	if c.Client.ReconnectInterval <= 0 {
		return errors.New("client.reconnect_interval must be > 0")
	}
	if c.Client.MaxReconnectAttempts < -1 {
		return fmt.Errorf("client.max_reconnect_attempts must be >= -1, got %d", c.Client.MaxReconnectAttempts)
	}
	if c.Client.ConnectTimeout <= 0 {
		return errors.New("client.connect_timeout must be > 0")
	}
	if c.Client.HandshakeTimeout < 0 {
		return errors.New("client.handshake_timeout must be >= 0")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
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
		if c.Recorder.FlushInterval <= 0 {
			return errors.New("recorder.flush_interval must be > 0")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
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
