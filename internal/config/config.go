package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"dropline/internal/logging"
	"dropline/internal/websocket"
	dbconfig "dropline/pkg/database"
)

// EnvConfigFile names the environment variable holding a JSON config path
const EnvConfigFile = "DROPLINE_CONFIG_FILE"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Relay     *RelayConfig     `json:"relay"`
	Log       *logging.Config  `json:"log"`
}

// DatabaseConfig locates the transfer history database. An empty path disables history.
type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// HTTPConfig binds the relay server
type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// WebSocketConfig tunes the gateway heartbeat and per-connection write queue
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// RelayConfig bounds what one connection may do
type RelayConfig struct {
	// MessageLimit is the lifetime message cap per connection
	MessageLimit int `json:"message_limit"`
	// MaxRecipients caps joins per room; 0 means unlimited
	MaxRecipients int `json:"max_recipients"`
}

// DefaultConfig returns production defaults: history on local disk, relay on 8080,
// 25s heartbeat with a 60s timeout and a 1 MiB frame allowance
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/dropline.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   25 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 1 << 20,
		},
		Relay: &RelayConfig{
			MessageLimit:  100,
			MaxRecipients: 0,
		},
		Log: logging.DefaultConfig(),
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize < 128*1024 {
		return fmt.Errorf("WebSocket max message size must hold a 64 KiB chunk frame")
	}

	if c.Relay == nil {
		return fmt.Errorf("relay configuration is required")
	}
	if c.Relay.MessageLimit <= 0 {
		return fmt.Errorf("relay message limit must be positive")
	}
	if c.Relay.MaxRecipients < 0 {
		return fmt.Errorf("relay max recipients cannot be negative")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	return c.Log.Validate()
}

// HistoryEnabled reports whether transfer history should be recorded
func (c *Config) HistoryEnabled() bool {
	return c.Database != nil && c.Database.Path != ""
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// WebSocketOptions converts the websocket section for the gateway
func (c *Config) WebSocketOptions() websocket.Options {
	return websocket.Options{
		PingInterval:   c.WebSocket.PingInterval,
		ReadTimeout:    c.WebSocket.ReadTimeout,
		WriteTimeout:   c.WebSocket.WriteTimeout,
		BufferSize:     c.WebSocket.BufferSize,
		MaxMessageSize: c.WebSocket.MaxMessageSize,
	}
}

// HistoryDatabase converts the database section for the history store
func (c *Config) HistoryDatabase() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.DatabasePath = c.Database.Path
	return db
}

// FUNCTIONAL DISCOVERY: Environment variables override defaults; malformed values are ignored
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envInt("DROPLINE_HTTP_PORT", &config.HTTP.Port)
	envString("DROPLINE_HTTP_HOST", &config.HTTP.Host)
	envDuration("DROPLINE_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("DROPLINE_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	// An explicitly empty path disables history.
	if dbPath, ok := os.LookupEnv("DROPLINE_DATABASE_PATH"); ok {
		config.Database.Path = dbPath
	}
	envDuration("DROPLINE_DATABASE_TIMEOUT", &config.Database.Timeout)

	envDuration("DROPLINE_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("DROPLINE_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("DROPLINE_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("DROPLINE_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	if size := os.Getenv("DROPLINE_WEBSOCKET_MAX_MESSAGE_SIZE"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			config.WebSocket.MaxMessageSize = n
		}
	}

	envInt("DROPLINE_RELAY_MESSAGE_LIMIT", &config.Relay.MessageLimit)
	envInt("DROPLINE_RELAY_MAX_RECIPIENTS", &config.Relay.MaxRecipients)

	envString("DROPLINE_LOG_LEVEL", &config.Log.Level)
	envString("DROPLINE_LOG_FORMAT", &config.Log.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Relay     *RelayConfigFile     `json:"relay"`
	Log       *logging.Config      `json:"log"`
}

type DatabaseConfigFile struct {
	Path    *string `json:"path"`
	Timeout string  `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval   string `json:"ping_interval"`
	ReadTimeout    string `json:"read_timeout"`
	WriteTimeout   string `json:"write_timeout"`
	BufferSize     int    `json:"buffer_size"`
	MaxMessageSize int64  `json:"max_message_size"`
}

type RelayConfigFile struct {
	MessageLimit  int  `json:"message_limit"`
	MaxRecipients *int `json:"max_recipients"`
}

// LoadFromFile reads a JSON config file on top of base
func LoadFromFile(base *Config, filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := base
	if config == nil {
		config = DefaultConfig()
	}

	if f := configFile.Database; f != nil {
		if f.Path != nil {
			config.Database.Path = *f.Path
		}
		if err := parseDuration(f.Timeout, &config.Database.Timeout); err != nil {
			return nil, fmt.Errorf("database.timeout: %w", err)
		}
	}

	if f := configFile.HTTP; f != nil {
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		if err := parseDuration(f.ReadTimeout, &config.HTTP.ReadTimeout); err != nil {
			return nil, fmt.Errorf("http.read_timeout: %w", err)
		}
		if err := parseDuration(f.WriteTimeout, &config.HTTP.WriteTimeout); err != nil {
			return nil, fmt.Errorf("http.write_timeout: %w", err)
		}
	}

	if f := configFile.WebSocket; f != nil {
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
		if err := parseDuration(f.PingInterval, &config.WebSocket.PingInterval); err != nil {
			return nil, fmt.Errorf("websocket.ping_interval: %w", err)
		}
		if err := parseDuration(f.ReadTimeout, &config.WebSocket.ReadTimeout); err != nil {
			return nil, fmt.Errorf("websocket.read_timeout: %w", err)
		}
		if err := parseDuration(f.WriteTimeout, &config.WebSocket.WriteTimeout); err != nil {
			return nil, fmt.Errorf("websocket.write_timeout: %w", err)
		}
	}

	if f := configFile.Relay; f != nil {
		if f.MessageLimit > 0 {
			config.Relay.MessageLimit = f.MessageLimit
		}
		if f.MaxRecipients != nil {
			config.Relay.MaxRecipients = *f.MaxRecipients
		}
	}

	if f := configFile.Log; f != nil {
		if f.Level != "" {
			config.Log.Level = f.Level
		}
		if f.Format != "" {
			config.Log.Format = f.Format
		}
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func parseDuration(value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// Load applies defaults, then environment, then the JSON file named by path or
// DROPLINE_CONFIG_FILE, and validates the result
func Load(path string) (*Config, error) {
	config := LoadFromEnv()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		fileConfig, err := LoadFromFile(config, path)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
