package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Lightify bridge daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Lightify LightifyConfig `yaml:"lightify"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// WebSocketConfig contains settings for the light state stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"` // seconds
	PongTimeout    int `yaml:"pong_timeout"`  // seconds
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Used when Output is "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	Compress   bool   `yaml:"compress"`
}

// LightifyConfig contains gateway and bridge settings.
type LightifyConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Gateway LightifyGatewayConfig `yaml:"gateway"`
	Bridge  LightifyBridgeConfig  `yaml:"bridge"`
}

// LightifyGatewayConfig contains the gateway address and socket timeouts.
// Timeouts are in seconds; 0 means block without a deadline.
type LightifyGatewayConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	ConnectTimeout int    `yaml:"connect_timeout"`
	ReadTimeout    int    `yaml:"read_timeout"`
	WriteTimeout   int    `yaml:"write_timeout"`
}

// LightifyBridgeConfig contains MQTT bridge behaviour settings.
type LightifyBridgeConfig struct {
	ID             string `yaml:"id"`
	HealthInterval int    `yaml:"health_interval"` // seconds
	PollInterval   int    `yaml:"poll_interval"`   // seconds, 0 disables polling

	// CommandRate is the maximum commands per second sent to the gateway.
	// 0 means unlimited.
	CommandRate float64 `yaml:"command_rate"`
}

// Valid logging outputs.
var validLogOutputs = map[string]bool{"stdout": true, "stderr": true, "file": true}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_LIGHTIFY_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/lightify.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-lightify",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8081,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/lightify.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     30,
				Compress:   true,
			},
		},
		Lightify: LightifyConfig{
			Enabled: true,
			Gateway: LightifyGatewayConfig{
				Port:           4000,
				ConnectTimeout: 10,
			},
			Bridge: LightifyBridgeConfig{
				ID:             "lightify",
				HealthInterval: 30,
				PollInterval:   60,
				CommandRate:    10,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Lightify gateway
	if v := os.Getenv("GRAYLOGIC_LIGHTIFY_HOST"); v != "" {
		cfg.Lightify.Gateway.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_LIGHTIFY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Lightify.Gateway.Port = port
		}
	}
}

// Validate checks the configuration for errors.
// Every problem found is reported in one error.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.API.Enabled && (c.API.WebSocket.PingInterval < 1 || c.API.WebSocket.PongTimeout < 1) {
		errs = append(errs, "api.websocket ping_interval and pong_timeout must be positive")
	}

	if !validLogOutputs[c.Logging.Output] {
		errs = append(errs, "logging.output must be stdout, stderr, or file")
	} else if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	errs = append(errs, c.Lightify.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (l LightifyConfig) validate() []string {
	if !l.Enabled {
		return nil
	}

	var errs []string
	if l.Gateway.Host == "" {
		errs = append(errs, "lightify.gateway.host is required (set GRAYLOGIC_LIGHTIFY_HOST environment variable)")
	}
	if l.Gateway.Port < 1 || l.Gateway.Port > 65535 {
		errs = append(errs, "lightify.gateway.port must be between 1 and 65535")
	}
	if l.Gateway.ConnectTimeout < 0 || l.Gateway.ReadTimeout < 0 || l.Gateway.WriteTimeout < 0 {
		errs = append(errs, "lightify.gateway timeouts must not be negative")
	}
	if l.Bridge.HealthInterval < 0 || l.Bridge.PollInterval < 0 {
		errs = append(errs, "lightify.bridge intervals must not be negative")
	}
	if l.Bridge.CommandRate < 0 {
		errs = append(errs, "lightify.bridge.command_rate must not be negative")
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Address returns the gateway's host:port.
func (g LightifyGatewayConfig) Address() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
}

// Timeouts returns the connect, read and write timeouts as Durations.
func (g LightifyGatewayConfig) Timeouts() (connect, read, write time.Duration) {
	return seconds(g.ConnectTimeout), seconds(g.ReadTimeout), seconds(g.WriteTimeout)
}

// GetHealthInterval returns the health publish interval as a Duration.
func (b LightifyBridgeConfig) GetHealthInterval() time.Duration {
	return seconds(b.HealthInterval)
}

// GetPollInterval returns the poll interval as a Duration. Zero disables polling.
func (b LightifyBridgeConfig) GetPollInterval() time.Duration {
	return seconds(b.PollInterval)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
