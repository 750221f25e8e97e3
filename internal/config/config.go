package config

import "time"

// GathererConfig is the root configuration for a gatherer instance.
type GathererConfig struct {
	Instance      InstanceConfig       `yaml:"instance"`
	API           APIConfig            `yaml:"api"`
	WebSocket     WebSocketConfig      `yaml:"websocket"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Recorder      RecorderConfig       `yaml:"recorder"`
	Relay         RelayConfig          `yaml:"relay"`
	Metrics       MetricsConfig        `yaml:"metrics"`
}

// InstanceConfig identifies this gatherer.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds KuCoin REST settings used to obtain connect tokens.
type APIConfig struct {
	RestURL      string        `yaml:"rest_url"`
	Key          string        `yaml:"key"`        // KC-API-KEY
	Secret       string        `yaml:"secret"`     // HMAC secret
	Passphrase   string        `yaml:"passphrase"` // Sent HMAC-signed with the secret
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// HasCredentials reports whether a full key set is configured.
func (a APIConfig) HasCredentials() bool {
	return a.Key != "" && a.Secret != "" && a.Passphrase != ""
}

// WebSocketConfig holds session settings.
type WebSocketConfig struct {
	Private            bool          `yaml:"private"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	AckTimeout         time.Duration `yaml:"ack_timeout"`
	DisableReconnect   bool          `yaml:"disable_reconnect"`
	ReconnectAttempts  int           `yaml:"reconnect_attempts"` // -1 = unlimited
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	InboundBuffer      int           `yaml:"inbound_buffer"`
	EventBuffer        int           `yaml:"event_buffer"`
}

// SubscriptionConfig is one topic subscription opened at startup.
type SubscriptionConfig struct {
	Prefix string   `yaml:"prefix"`
	Args   []string `yaml:"args"`
}

// RecorderConfig holds TimescaleDB frame recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
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

// RelayConfig holds Redis pub/sub relay settings.
type RelayConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Prefix     string `yaml:"prefix"`
	BufferSize int    `yaml:"buffer_size"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
