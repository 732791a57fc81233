package config

import (
	"crypto/tls"
	"fmt"
	"sort"
	"time"

	"github.com/rickgao/resilientws/internal/connection"
	"github.com/rickgao/resilientws/internal/endpoint"
)

// Config is the root configuration for the wsclient binary.
type Config struct {
	Endpoint EndpointConfig `yaml:"endpoint"`
	Client   ClientConfig   `yaml:"client"`
	Log      LogConfig      `yaml:"log"`
	Recorder RecorderConfig `yaml:"recorder"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// EndpointConfig describes the server address. Either URL or Host is set.
type EndpointConfig struct {
	URL    string            `yaml:"url"`
	Host   string            `yaml:"host"`
	Port   int               `yaml:"port"`
	TLS    bool              `yaml:"tls"`
	Path   string            `yaml:"path"`
	Params map[string]string `yaml:"params"`
}

// ClientConfig holds connection.Client settings.
type ClientConfig struct {
	BufferSize           uint              `yaml:"buffer_size"`
	AutoReconnect        bool              `yaml:"auto_reconnect"`
	ReconnectInterval    time.Duration     `yaml:"reconnect_interval"`
	MaxReconnectAttempts int64             `yaml:"max_reconnect_attempts"` // -1 = unlimited
	ConnectTimeout       time.Duration     `yaml:"connect_timeout"`
	HandshakeTimeout     time.Duration     `yaml:"handshake_timeout"`
	InsecureSkipVerify   bool              `yaml:"insecure_skip_verify"` // trust any server certificate
	Headers              map[string]string `yaml:"headers"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`   // empty = stderr
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// RecorderConfig holds the PostgreSQL message recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Database      DBConfig      `yaml:"database"`
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

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// Default returns a config with every default applied and no endpoint.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// BuildEndpoint turns the endpoint section into an endpoint.Endpoint.
// Params are appended in key order.
func (c *Config) BuildEndpoint() (endpoint.Endpoint, error) {
	var (
		ep  endpoint.Endpoint
		err error
	)
	if c.Endpoint.URL != "" {
		ep, err = endpoint.Parse(c.Endpoint.URL)
	} else {
		ep, err = endpoint.New(c.Endpoint.Host, c.Endpoint.Port, c.Endpoint.TLS)
	}
	if err != nil {
		return endpoint.Endpoint{}, fmt.Errorf("endpoint: %w", err)
	}

	if c.Endpoint.Path != "" {
		ep = ep.WithPath(c.Endpoint.Path)
	}
	keys := make([]string, 0, len(c.Endpoint.Params))
	for k := range c.Endpoint.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ep = ep.WithParam(k, c.Endpoint.Params[k])
	}
	return ep, nil
}

// BuildClientConfig converts the endpoint and client sections into a
// connection.Config.
func (c *Config) BuildClientConfig() (connection.Config, error) {
	ep, err := c.BuildEndpoint()
	if err != nil {
		return connection.Config{}, err
	}

	cfg := connection.Config{
		Endpoint:             ep,
		BufferSize:           c.Client.BufferSize,
		AutoReconnect:        c.Client.AutoReconnect,
		ReconnectInterval:    c.Client.ReconnectInterval,
		MaxReconnectAttempts: c.Client.MaxReconnectAttempts,
		ConnectTimeout:       c.Client.ConnectTimeout,
		HandshakeTimeout:     c.Client.HandshakeTimeout,
	}
	if c.Client.InsecureSkipVerify {
		cfg.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return cfg, nil
}
