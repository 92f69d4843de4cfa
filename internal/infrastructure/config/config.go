package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker transports understood by the transport package.
const (
	TransportTCP = "tcp"
	TransportTLS = "tls"
	TransportWS  = "ws"
	TransportWSS = "wss"
)

// Config is the root configuration structure for simplepub.
// All configuration is loaded from YAML and can be overridden by environment
// variables and then by command-line flags.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Session  SessionConfig  `yaml:"session"`
	Publish  PublishConfig  `yaml:"publish"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Tunnel   TunnelConfig   `yaml:"tunnel"`
	Logging  LoggingConfig  `yaml:"logging"`
	Audit    AuditConfig    `yaml:"audit"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`

	// KeepAlive is the CONNECT keep-alive in seconds. 0 disables pings.
	KeepAlive int `yaml:"keep_alive"`

	CleanSession bool `yaml:"clean_session"`

	// ConnectTimeout bounds opening the transport, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`

	// Transport is one of "tcp", "tls", "ws" or "wss".
	Transport string `yaml:"transport"`

	// WSPath is the HTTP path of the broker's WebSocket listener.
	WSPath string `yaml:"ws_path"`

	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig contains TLS settings for the tls and wss transports.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SessionConfig sizes the client session and paces the sync loop.
type SessionConfig struct {
	// SendBuffer and RecvBuffer are the arena capacities in bytes.
	SendBuffer int `yaml:"send_buffer"`
	RecvBuffer int `yaml:"recv_buffer"`

	// SyncPeriodMS is the pause between sync loop iterations.
	SyncPeriodMS int `yaml:"sync_period_ms"`

	// PublishWaitMS is how long the run waits after submitting PUBLISH.
	PublishWaitMS int `yaml:"publish_wait_ms"`

	// AckTimeout is the acknowledgement deadline in seconds.
	AckTimeout int `yaml:"ack_timeout"`

	MaxRetries int `yaml:"max_retries"`

	// IOPollMS bounds each ingress read.
	IOPollMS int `yaml:"io_poll_ms"`
}

// PublishConfig describes the single message of a run.
type PublishConfig struct {
	Topic string `yaml:"topic"`

	// Message is nil when no payload was configured. An empty string is
	// a valid, empty payload.
	Message *string `yaml:"message"`

	QoS    int  `yaml:"qos"`
	Retain bool `yaml:"retain"`
}

// ProxyConfig routes the broker connection through a SOCKS5 proxy.
type ProxyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TunnelConfig routes the broker connection through an SSH gateway.
type TunnelConfig struct {
	Enabled        bool   `yaml:"enabled"`
	User           string `yaml:"user"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	KeyPath        string `yaml:"key_path"`
	UseAgent       bool   `yaml:"use_agent"`
	PromptPassword bool   `yaml:"prompt_password"`
	StrictHostKey  bool   `yaml:"strict_host_key"`
	KnownHosts     string `yaml:"known_hosts"`
	ConnectTimeout int    `yaml:"connect_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// AuditConfig contains the SQLite publish journal settings.
type AuditConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
	Timeout     int    `yaml:"timeout"` // seconds, per HTTP request
}

// Load builds the configuration and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Command-line flags are layered on top by the caller, which then calls
// Validate again.
//
// Environment variables follow the pattern: SIMPLEPUB_SECTION_KEY
// For example: SIMPLEPUB_MQTT_HOST, SIMPLEPUB_LOG_LEVEL
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for none
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the stock mosquitto_simplepub behaviour.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:      "localhost",
				Port:      1883,
				ClientID:  "mosquitto_simplepub",
				Transport: TransportTCP,
				WSPath:    "/mqtt",
			},
			KeepAlive:      400,
			ConnectTimeout: 10,
		},
		Session: SessionConfig{
			SendBuffer:    2048,
			RecvBuffer:    1024,
			SyncPeriodMS:  100,
			PublishWaitMS: 1000,
			AckTimeout:    30,
			MaxRetries:    3,
			IOPollMS:      10,
		},
		Tunnel: TunnelConfig{
			Port:           22,
			StrictHostKey:  true,
			ConnectTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
		Audit: AuditConfig{
			Path:        "./data/simplepub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			Measurement: "simplepub_run",
			Timeout:     5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SIMPLEPUB_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// MQTT
	if v := os.Getenv("SIMPLEPUB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SIMPLEPUB_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SIMPLEPUB_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("SIMPLEPUB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SIMPLEPUB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Audit
	if v := os.Getenv("SIMPLEPUB_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}

	// InfluxDB
	if v := os.Getenv("SIMPLEPUB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("SIMPLEPUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
// Required publish fields (topic, message) are checked by the CLI, which
// must print usage for them.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	switch c.MQTT.Broker.Transport {
	case TransportTCP, TransportTLS, TransportWS, TransportWSS:
	default:
		errs = append(errs, "mqtt.broker.transport must be tcp, tls, ws or wss")
	}
	if c.MQTT.KeepAlive < 0 || c.MQTT.KeepAlive > 65535 {
		errs = append(errs, "mqtt.keep_alive must be between 0 and 65535 seconds")
	}
	if c.MQTT.Auth.Password != "" && c.MQTT.Auth.Username == "" {
		errs = append(errs, "mqtt.auth.password requires mqtt.auth.username")
	}

	// Session validation
	if c.Session.SendBuffer <= 0 || c.Session.RecvBuffer <= 0 {
		errs = append(errs, "session.send_buffer and session.recv_buffer must be positive")
	}
	if c.Session.SyncPeriodMS <= 0 {
		errs = append(errs, "session.sync_period_ms must be positive")
	}
	if c.Session.PublishWaitMS < 0 {
		errs = append(errs, "session.publish_wait_ms must not be negative")
	}

	// Publish validation
	if c.Publish.QoS < 0 || c.Publish.QoS > 2 {
		errs = append(errs, "publish.qos must be 0, 1, or 2")
	}

	// Transport routing
	if c.Proxy.Enabled && c.Proxy.Address == "" {
		errs = append(errs, "proxy.address is required when the proxy is enabled")
	}
	if c.Tunnel.Enabled {
		if c.Tunnel.Host == "" || c.Tunnel.User == "" {
			errs = append(errs, "tunnel.host and tunnel.user are required when the tunnel is enabled")
		}
		if c.Proxy.Enabled {
			errs = append(errs, "proxy and tunnel cannot both be enabled")
		}
	}

	// Sinks
	if c.Audit.Enabled && c.Audit.Path == "" {
		errs = append(errs, "audit.path is required when the audit journal is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when InfluxDB is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// BrokerAddress returns host:port for the broker.
func (c *Config) BrokerAddress() string {
	return fmt.Sprintf("%s:%d", c.MQTT.Broker.Host, c.MQTT.Broker.Port)
}

// KeepAlive returns the CONNECT keep-alive as a Duration.
func (c *Config) KeepAlive() time.Duration {
	return time.Duration(c.MQTT.KeepAlive) * time.Second
}

// ConnectTimeout returns the transport open timeout as a Duration.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.MQTT.ConnectTimeout) * time.Second
}

// SyncPeriod returns the sync loop period as a Duration.
func (c *Config) SyncPeriod() time.Duration {
	return time.Duration(c.Session.SyncPeriodMS) * time.Millisecond
}

// PublishWait returns the post-publish wait as a Duration.
func (c *Config) PublishWait() time.Duration {
	return time.Duration(c.Session.PublishWaitMS) * time.Millisecond
}

// AckTimeout returns the acknowledgement deadline as a Duration.
func (c *Config) AckTimeout() time.Duration {
	return time.Duration(c.Session.AckTimeout) * time.Second
}

// IOPoll returns the ingress read bound as a Duration.
func (c *Config) IOPoll() time.Duration {
	return time.Duration(c.Session.IOPollMS) * time.Millisecond
}
