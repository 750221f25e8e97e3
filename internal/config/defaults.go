package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL            = "https://api.kucoin.com"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultRetryBackoff       = 500 * time.Millisecond
	DefaultDialTimeout        = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultAckTimeout         = 10 * time.Second
	DefaultReconnectAttempts  = -1
	DefaultReconnectBaseDelay = 5 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultInboundBuffer      = 1024
	DefaultEventBuffer        = 64
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultBatchSize          = 1000
	DefaultFlushInterval      = 1 * time.Second
	DefaultBufferSize         = 10000
	DefaultRelayAddr          = "localhost:6379"
	DefaultRelayPrefix        = "kucoin:"
	DefaultMetricsPort        = 9090
	DefaultMetricsPath        = "/metrics"
)

func (c *GathererConfig) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	// WebSocket defaults. A zero attempt count cannot be told apart from
	// "unset", so it means unlimited like the explicit -1.
	ws := &c.WebSocket
	if ws.DialTimeout == 0 {
		ws.DialTimeout = DefaultDialTimeout
	}
	if ws.WriteTimeout == 0 {
		ws.WriteTimeout = DefaultWriteTimeout
	}
	if ws.AckTimeout == 0 {
		ws.AckTimeout = DefaultAckTimeout
	}
	if ws.ReconnectAttempts == 0 {
		ws.ReconnectAttempts = DefaultReconnectAttempts
	}
	if ws.ReconnectBaseDelay == 0 {
		ws.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if ws.ReconnectMaxDelay == 0 {
		ws.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if ws.InboundBuffer == 0 {
		ws.InboundBuffer = DefaultInboundBuffer
	}
	if ws.EventBuffer == 0 {
		ws.EventBuffer = DefaultEventBuffer
	}

	// Recorder defaults
	applyDBDefaults(&c.Recorder.Database)
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Relay defaults
	if c.Relay.Addr == "" {
		c.Relay.Addr = DefaultRelayAddr
	}
	if c.Relay.Prefix == "" {
		c.Relay.Prefix = DefaultRelayPrefix
	}
	if c.Relay.BufferSize == 0 {
		c.Relay.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
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
