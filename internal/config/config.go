package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	dbconfig "chatrelay/pkg/database"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Server    *ServerConfig    `json:"server"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Database  *DatabaseConfig  `json:"database"`
	Storage   *StorageConfig   `json:"storage"`
	Log       *LogConfig       `json:"log"`
	Auth      *AuthConfig      `json:"auth"`
}

// ServerConfig covers the TCP listener, its worker pool and the
// per-connection send path.
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	MaxWorkers   int           `json:"max_workers"`
	SendBuffer   int           `json:"send_buffer"`
	SendTimeout  time.Duration `json:"send_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	MaxLineBytes int           `json:"max_line_bytes"`
}

// FUNCTIONAL DISCOVERY: HTTP configuration balances performance and reliability
type HTTPConfig struct {
	Enabled      bool          `json:"enabled"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// WebSocketConfig bounds the /ws surface mounted on the HTTP server.
type WebSocketConfig struct {
	Enabled         bool          `json:"enabled"`
	MaxConnections  int           `json:"max_connections"`
	MaxMessageBytes int64         `json:"max_message_bytes"`
	WriteTimeout    time.Duration `json:"write_timeout"`
}

// FUNCTIONAL DISCOVERY: Database configuration supports SQLite optimizations
type DatabaseConfig struct {
	Path           string        `json:"path"`
	Timeout        time.Duration `json:"timeout"`
	MaxConnections int           `json:"max_connections"`
}

type StorageConfig struct {
	UploadDir string `json:"upload_dir"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// AuthConfig tunes password hashing and the failed-login limiter.
type AuthConfig struct {
	BcryptCost    int           `json:"bcrypt_cost"`
	LoginAttempts int           `json:"login_attempts"`
	LoginWindow   time.Duration `json:"login_window"`
}

// Media frames arrive base64 encoded on one line, so the line limit is
// sized for frames rather than chat text.
const defaultMaxLineBytes = 16 << 20

// FUNCTIONAL DISCOVERY: Production-ready defaults
// TCP on 12345 for existing clients, HTTP admin on 8080, 100 workers
func DefaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			Host:         "0.0.0.0",
			Port:         12345,
			MaxWorkers:   100,
			SendBuffer:   100,
			SendTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			MaxLineBytes: defaultMaxLineBytes,
		},
		HTTP: &HTTPConfig{
			Enabled:      true,
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			Enabled:         true,
			MaxConnections:  100,
			MaxMessageBytes: defaultMaxLineBytes,
			WriteTimeout:    10 * time.Second,
		},
		Database: &DatabaseConfig{
			Path:           "./data/chatrelay.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		Storage: &StorageConfig{
			UploadDir: "uploads",
		},
		Log: &LogConfig{
			Level: "info",
		},
		Auth: &AuthConfig{
			BcryptCost:    bcrypt.DefaultCost,
			LoginAttempts: 5,
			LoginWindow:   time.Minute,
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.Server == nil || c.HTTP == nil || c.WebSocket == nil || c.Database == nil ||
		c.Storage == nil || c.Log == nil || c.Auth == nil {
		return fmt.Errorf("all configuration sections are required")
	}

	if err := validPort("server", c.Server.Port); err != nil {
		return err
	}
	if c.Server.MaxWorkers <= 0 {
		return fmt.Errorf("server max workers must be positive")
	}
	if c.Server.SendBuffer <= 0 {
		return fmt.Errorf("server send buffer must be positive")
	}
	if c.Server.SendTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if c.Server.MaxLineBytes <= 0 {
		return fmt.Errorf("server max line bytes must be positive")
	}

	if c.HTTP.Enabled {
		if err := validPort("HTTP", c.HTTP.Port); err != nil {
			return err
		}
		if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
			return fmt.Errorf("HTTP timeouts must be positive")
		}
		if c.HTTP.Port == c.Server.Port && c.HTTP.Host == c.Server.Host {
			return fmt.Errorf("HTTP and server cannot share %s", c.ServerAddr())
		}
	}

	if c.WebSocket.Enabled {
		if c.WebSocket.MaxConnections <= 0 {
			return fmt.Errorf("WebSocket max connections must be positive")
		}
		if c.WebSocket.MaxMessageBytes <= 0 {
			return fmt.Errorf("WebSocket max message bytes must be positive")
		}
		if c.WebSocket.WriteTimeout <= 0 {
			return fmt.Errorf("WebSocket write timeout must be positive")
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.Storage.UploadDir == "" {
		return fmt.Errorf("upload directory cannot be empty")
	}

	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Auth.LoginAttempts <= 0 || c.Auth.LoginWindow <= 0 {
		return fmt.Errorf("login limiter settings must be positive")
	}

	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535", name)
	}
	return nil
}

// ServerAddr is the TCP listen address.
func (c *Config) ServerAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// HTTPAddr is the admin HTTP listen address.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// DatabaseSettings converts the database section into persistence settings.
func (c *Config) DatabaseSettings() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.DatabasePath = c.Database.Path
	db.WriteTimeout = c.Database.Timeout
	db.MaxConnections = c.Database.MaxConnections
	return db
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Supports containerized deployments and configuration management systems
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

// Malformed values are ignored so the previous value stays in effect.
func applyEnv(config *Config) {
	envString("CHATRELAY_TCP_HOST", &config.Server.Host)
	envInt("CHATRELAY_TCP_PORT", &config.Server.Port)
	envInt("CHATRELAY_MAX_WORKERS", &config.Server.MaxWorkers)
	envInt("CHATRELAY_SEND_BUFFER", &config.Server.SendBuffer)
	envDuration("CHATRELAY_SEND_TIMEOUT", &config.Server.SendTimeout)
	envInt("CHATRELAY_MAX_LINE_BYTES", &config.Server.MaxLineBytes)

	envBool("CHATRELAY_HTTP_ENABLED", &config.HTTP.Enabled)
	envString("CHATRELAY_HTTP_HOST", &config.HTTP.Host)
	envInt("CHATRELAY_HTTP_PORT", &config.HTTP.Port)
	envDuration("CHATRELAY_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("CHATRELAY_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envBool("CHATRELAY_WEBSOCKET_ENABLED", &config.WebSocket.Enabled)
	envInt("CHATRELAY_WEBSOCKET_MAX_CONNECTIONS", &config.WebSocket.MaxConnections)

	envString("CHATRELAY_DATABASE_PATH", &config.Database.Path)
	envDuration("CHATRELAY_DATABASE_TIMEOUT", &config.Database.Timeout)

	envString("CHATRELAY_UPLOAD_DIR", &config.Storage.UploadDir)

	envString("CHATRELAY_LOG_LEVEL", &config.Log.Level)
	envBool("CHATRELAY_LOG_DEVELOPMENT", &config.Log.Development)

	envInt("CHATRELAY_BCRYPT_COST", &config.Auth.BcryptCost)
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

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
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
	Server    *ServerConfigFile    `json:"server"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Database  *DatabaseConfigFile  `json:"database"`
	Storage   *StorageConfig       `json:"storage"`
	Log       *LogConfigFile       `json:"log"`
	Auth      *AuthConfigFile      `json:"auth"`
}

type ServerConfigFile struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	MaxWorkers   int    `json:"max_workers"`
	SendBuffer   int    `json:"send_buffer"`
	SendTimeout  string `json:"send_timeout"`
	WriteTimeout string `json:"write_timeout"`
	MaxLineBytes int    `json:"max_line_bytes"`
}

type HTTPConfigFile struct {
	Enabled      *bool  `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type WebSocketConfigFile struct {
	Enabled         *bool  `json:"enabled"`
	MaxConnections  int    `json:"max_connections"`
	MaxMessageBytes int64  `json:"max_message_bytes"`
	WriteTimeout    string `json:"write_timeout"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path"`
	Timeout        string `json:"timeout"`
	MaxConnections int    `json:"max_connections"`
}

type LogConfigFile struct {
	Level       string `json:"level"`
	Development *bool  `json:"development"`
}

type AuthConfigFile struct {
	BcryptCost    int    `json:"bcrypt_cost"`
	LoginAttempts int    `json:"login_attempts"`
	LoginWindow   string `json:"login_window"`
}

// FUNCTIONAL DISCOVERY: File-based configuration supports complex deployment scenarios
// JSON format chosen for readability and tooling support
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

// applyFile overlays the fields present in the file onto config. Zero
// values and absent sections leave config untouched.
func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if s := file.Server; s != nil {
		setString(&config.Server.Host, s.Host)
		setInt(&config.Server.Port, s.Port)
		setInt(&config.Server.MaxWorkers, s.MaxWorkers)
		setInt(&config.Server.SendBuffer, s.SendBuffer)
		setInt(&config.Server.MaxLineBytes, s.MaxLineBytes)
		if err := setDuration(&config.Server.SendTimeout, s.SendTimeout, "server.send_timeout"); err != nil {
			return err
		}
		if err := setDuration(&config.Server.WriteTimeout, s.WriteTimeout, "server.write_timeout"); err != nil {
			return err
		}
	}

	if h := file.HTTP; h != nil {
		if h.Enabled != nil {
			config.HTTP.Enabled = *h.Enabled
		}
		setString(&config.HTTP.Host, h.Host)
		setInt(&config.HTTP.Port, h.Port)
		if err := setDuration(&config.HTTP.ReadTimeout, h.ReadTimeout, "http.read_timeout"); err != nil {
			return err
		}
		if err := setDuration(&config.HTTP.WriteTimeout, h.WriteTimeout, "http.write_timeout"); err != nil {
			return err
		}
	}

	if w := file.WebSocket; w != nil {
		if w.Enabled != nil {
			config.WebSocket.Enabled = *w.Enabled
		}
		setInt(&config.WebSocket.MaxConnections, w.MaxConnections)
		if w.MaxMessageBytes > 0 {
			config.WebSocket.MaxMessageBytes = w.MaxMessageBytes
		}
		if err := setDuration(&config.WebSocket.WriteTimeout, w.WriteTimeout, "websocket.write_timeout"); err != nil {
			return err
		}
	}

	if d := file.Database; d != nil {
		setString(&config.Database.Path, d.Path)
		setInt(&config.Database.MaxConnections, d.MaxConnections)
		if err := setDuration(&config.Database.Timeout, d.Timeout, "database.timeout"); err != nil {
			return err
		}
	}

	if s := file.Storage; s != nil {
		setString(&config.Storage.UploadDir, s.UploadDir)
	}

	if l := file.Log; l != nil {
		setString(&config.Log.Level, l.Level)
		if l.Development != nil {
			config.Log.Development = *l.Development
		}
	}

	if a := file.Auth; a != nil {
		setInt(&config.Auth.BcryptCost, a.BcryptCost)
		setInt(&config.Auth.LoginAttempts, a.LoginAttempts)
		if err := setDuration(&config.Auth.LoginWindow, a.LoginWindow, "auth.login_window"); err != nil {
			return err
		}
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, field string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", field, err)
	}
	*dst = d
	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// Enables flexible deployment patterns while maintaining sane defaults
// An empty filepath falls back to CHATRELAY_CONFIG_FILE.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()

	if filepath == "" {
		filepath = os.Getenv("CHATRELAY_CONFIG_FILE")
	}
	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
