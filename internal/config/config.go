package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable of the tapboard server.
type Config struct {
	Redis     *RedisConfig     `json:"redis"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Board     *BoardConfig     `json:"board"`
}

type RedisConfig struct {
	Addr    string        `json:"addr"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// BoardConfig holds deployment-level board settings. AdminCodeHash is a
// bcrypt hash of the shared editor secret; the plaintext code never appears
// in configuration. EnableAPI gates the HTTP write paths and is a coarser
// trust boundary than the per-session authorization gate.
type BoardConfig struct {
	Capacity      int    `json:"capacity"`
	AdminCodeHash string `json:"admin_code_hash"`
	CookieSecret  string `json:"cookie_secret"`
	EnableAPI     bool   `json:"enable_api"`
	BeersFile     string `json:"beers_file"`
}

func DefaultConfig() *Config {
	return &Config{
		Redis: &RedisConfig{
			Addr:    "localhost:6379",
			Timeout: 5 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Board: &BoardConfig{
			Capacity:  80,
			BeersFile: "./data/beers.csv",
		},
	}
}

// Validate rejects configurations the server cannot safely start with.
func (c *Config) Validate() error {
	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address cannot be empty")
	}
	if c.Redis.Timeout <= 0 {
		return fmt.Errorf("redis timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket intervals must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Board == nil {
		return fmt.Errorf("board configuration is required")
	}
	if c.Board.Capacity <= 0 {
		return fmt.Errorf("board capacity must be positive")
	}
	if c.Board.CookieSecret == "" {
		return fmt.Errorf("cookie secret cannot be empty")
	}
	if c.Board.AdminCodeHash == "" {
		return fmt.Errorf("admin code hash cannot be empty")
	}

	return nil
}

// LoadFromEnv overlays TAPBOARD_* environment variables on the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if addr := os.Getenv("TAPBOARD_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if timeout := os.Getenv("TAPBOARD_REDIS_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Redis.Timeout = d
		}
	}

	if host := os.Getenv("TAPBOARD_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if port := os.Getenv("TAPBOARD_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if readTimeout := os.Getenv("TAPBOARD_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if d, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = d
		}
	}
	if writeTimeout := os.Getenv("TAPBOARD_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if d, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = d
		}
	}

	if pingInterval := os.Getenv("TAPBOARD_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if d, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = d
		}
	}
	if readTimeout := os.Getenv("TAPBOARD_WEBSOCKET_READ_TIMEOUT"); readTimeout != "" {
		if d, err := time.ParseDuration(readTimeout); err == nil {
			config.WebSocket.ReadTimeout = d
		}
	}
	if writeTimeout := os.Getenv("TAPBOARD_WEBSOCKET_WRITE_TIMEOUT"); writeTimeout != "" {
		if d, err := time.ParseDuration(writeTimeout); err == nil {
			config.WebSocket.WriteTimeout = d
		}
	}
	if bufferSize := os.Getenv("TAPBOARD_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if capacity := os.Getenv("TAPBOARD_CAPACITY"); capacity != "" {
		if n, err := strconv.Atoi(capacity); err == nil {
			config.Board.Capacity = n
		}
	}
	if hash := os.Getenv("TAPBOARD_ADMIN_CODE_HASH"); hash != "" {
		config.Board.AdminCodeHash = hash
	}
	if secret := os.Getenv("TAPBOARD_COOKIE_SECRET"); secret != "" {
		config.Board.CookieSecret = secret
	}
	if enable := os.Getenv("TAPBOARD_ENABLE_API"); enable != "" {
		config.Board.EnableAPI = enable == "true"
	}
	if file := os.Getenv("TAPBOARD_BEERS_FILE"); file != "" {
		config.Board.BeersFile = file
	}

	return config
}

// ConfigFile mirrors Config with string durations for JSON parsing.
type ConfigFile struct {
	Redis     *RedisConfigFile     `json:"redis"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Board     *BoardConfig         `json:"board"`
}

type RedisConfigFile struct {
	Addr    string `json:"addr"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

// LoadFromFile reads a JSON config file on top of the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.Redis != nil {
		if configFile.Redis.Addr != "" {
			config.Redis.Addr = configFile.Redis.Addr
		}
		if configFile.Redis.Timeout != "" {
			if d, err := time.ParseDuration(configFile.Redis.Timeout); err == nil {
				config.Redis.Timeout = d
			}
		}
	}

	if configFile.HTTP != nil {
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		if configFile.HTTP.ReadTimeout != "" {
			if d, err := time.ParseDuration(configFile.HTTP.ReadTimeout); err == nil {
				config.HTTP.ReadTimeout = d
			}
		}
		if configFile.HTTP.WriteTimeout != "" {
			if d, err := time.ParseDuration(configFile.HTTP.WriteTimeout); err == nil {
				config.HTTP.WriteTimeout = d
			}
		}
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		if configFile.WebSocket.PingInterval != "" {
			if d, err := time.ParseDuration(configFile.WebSocket.PingInterval); err == nil {
				config.WebSocket.PingInterval = d
			}
		}
		if configFile.WebSocket.ReadTimeout != "" {
			if d, err := time.ParseDuration(configFile.WebSocket.ReadTimeout); err == nil {
				config.WebSocket.ReadTimeout = d
			}
		}
		if configFile.WebSocket.WriteTimeout != "" {
			if d, err := time.ParseDuration(configFile.WebSocket.WriteTimeout); err == nil {
				config.WebSocket.WriteTimeout = d
			}
		}
	}

	if configFile.Board != nil {
		if configFile.Board.Capacity > 0 {
			config.Board.Capacity = configFile.Board.Capacity
		}
		if configFile.Board.AdminCodeHash != "" {
			config.Board.AdminCodeHash = configFile.Board.AdminCodeHash
		}
		if configFile.Board.CookieSecret != "" {
			config.Board.CookieSecret = configFile.Board.CookieSecret
		}
		if configFile.Board.BeersFile != "" {
			config.Board.BeersFile = configFile.Board.BeersFile
		}
		config.Board.EnableAPI = configFile.Board.EnableAPI
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as file > environment >
// defaults. File errors are ignored so environment/defaults still work.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
