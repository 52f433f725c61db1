package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the daemon configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	API         APIConfig         `yaml:"api"`
	Database    DatabaseConfig    `yaml:"database"`
	NATS        NATSConfig        `yaml:"nats"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Operator    OperatorConfig    `yaml:"operator"`
	Radio       RadioConfig       `yaml:"radio"`
	Advertising AdvertisingConfig `yaml:"advertising"`
	Scanning    ScanningConfig    `yaml:"scanning"`
	Connection  ConnectionConfig  `yaml:"connection"`
	Security    SecurityConfig    `yaml:"security"`
	Health      HealthConfig      `yaml:"health"`
}

// ServerConfig represents server identity configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents REST API configuration
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents the MQTT integration sink configuration
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// WebhookConfig represents the HTTP webhook integration sink
type WebhookConfig struct {
	URLs    []string      `yaml:"urls"`
	Timeout time.Duration `yaml:"timeout"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret          string        `yaml:"secret"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OperatorConfig is the single operator account allowed to use the API
type OperatorConfig struct {
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
}

// RadioConfig represents radio adapter configuration
type RadioConfig struct {
	// Adapter is the local adapter identifier (e.g. hci0). Informational
	// on platforms where the bridge picks the default adapter itself.
	Adapter string `yaml:"adapter"`
	// Simulated forces the simulated bridge, for hosts without a radio.
	Simulated bool `yaml:"simulated"`
	// PowerOnRetries and PowerOnRetryDelay bound the radio-on check.
	PowerOnRetries    int           `yaml:"power_on_retries"`
	PowerOnRetryDelay time.Duration `yaml:"power_on_retry_delay"`
}

// AdvertisingConfig represents advertising controller configuration
type AdvertisingConfig struct {
	DeviceName       string        `yaml:"device_name"`
	MaxRetries       int           `yaml:"max_retries"`
	AttemptTimeout   time.Duration `yaml:"attempt_timeout"`
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	FallbackInterval time.Duration `yaml:"fallback_interval"`
	AutoStopAfter    time.Duration `yaml:"auto_stop_after"`
	Capabilities     []string      `yaml:"capabilities"`
}

// ScanningConfig represents scan controller configuration
type ScanningConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// ConnectionConfig represents connection manager configuration
type ConnectionConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffJitter  time.Duration `yaml:"backoff_jitter"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// SecurityConfig represents the security layer configuration
type SecurityConfig struct {
	EncryptionEnabled bool          `yaml:"encryption_enabled"`
	EncryptionKey     string        `yaml:"encryption_key"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
}

// HealthConfig represents health monitor configuration
type HealthConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if deviceName := os.Getenv("PROXIMITY_DEVICE_NAME"); deviceName != "" {
		c.Advertising.DeviceName = deviceName
	}

	if key := os.Getenv("PROXIMITY_ENCRYPTION_KEY"); key != "" {
		c.Security.EncryptionKey = key
		c.Security.EncryptionEnabled = true
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
		c.MQTT.Enabled = true
	}
}

// setDefaults fills unset fields with their defaults
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "proximityd"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.Radio.PowerOnRetries == 0 {
		c.Radio.PowerOnRetries = 3
	}
	if c.Radio.PowerOnRetryDelay == 0 {
		c.Radio.PowerOnRetryDelay = time.Second
	}

	if c.Advertising.MaxRetries == 0 {
		c.Advertising.MaxRetries = 3
	}
	if c.Advertising.AttemptTimeout == 0 {
		c.Advertising.AttemptTimeout = 8 * time.Second
	}
	if c.Advertising.RetryBackoffBase == 0 {
		c.Advertising.RetryBackoffBase = time.Second
	}
	if c.Advertising.FallbackInterval == 0 {
		c.Advertising.FallbackInterval = time.Second
	}
	if c.Advertising.AutoStopAfter == 0 {
		c.Advertising.AutoStopAfter = 60 * time.Second
	}
	if len(c.Advertising.Capabilities) == 0 {
		c.Advertising.Capabilities = []string{"payment", "secure"}
	}

	if c.Scanning.DefaultTimeout == 0 {
		c.Scanning.DefaultTimeout = 30 * time.Second
	}

	if c.Connection.MaxRetries == 0 {
		c.Connection.MaxRetries = 3
	}
	if c.Connection.BackoffBase == 0 {
		c.Connection.BackoffBase = time.Second
	}
	if c.Connection.BackoffJitter == 0 {
		c.Connection.BackoffJitter = 400 * time.Millisecond
	}
	if c.Connection.ConnectTimeout == 0 {
		c.Connection.ConnectTimeout = 10 * time.Second
	}

	if c.Security.TokenTTL == 0 {
		c.Security.TokenTTL = 30 * time.Minute
	}

	if c.Health.CheckInterval == 0 {
		c.Health.CheckInterval = 30 * time.Second
	}

	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = 15 * time.Minute
	}
	if c.JWT.RefreshTokenTTL == 0 {
		c.JWT.RefreshTokenTTL = 24 * time.Hour
	}

	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "airchainpay/proximity"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "proximityd"
	}
	if c.Webhook.Timeout == 0 {
		c.Webhook.Timeout = 10 * time.Second
	}
}

// validate rejects configurations that cannot run
func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.Security.EncryptionEnabled && c.Security.EncryptionKey == "" {
		return fmt.Errorf("security.encryption_key is required when encryption is enabled")
	}
	if c.Advertising.DeviceName == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "device"
		}
		c.Advertising.DeviceName = fmt.Sprintf("AirChainPay-%s", host)
	}
	return nil
}
