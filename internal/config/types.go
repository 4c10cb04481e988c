package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Privacy   PrivacyConfig   `yaml:"privacy" mapstructure:"privacy"`
	OCR       OCRConfig       `yaml:"ocr" mapstructure:"ocr"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Capture   CaptureConfig   `yaml:"capture" mapstructure:"capture"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	History   HistoryConfig   `yaml:"history" mapstructure:"history"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	Sentry    SentryConfig    `yaml:"sentry" mapstructure:"sentry"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// PrivacyConfig contains PII detection and masking configuration
type PrivacyConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	MaskChar      string `yaml:"mask_char" mapstructure:"mask_char"`
	MaxInputBytes int    `yaml:"max_input_bytes" mapstructure:"max_input_bytes"`
}

// OCRConfig contains the OCR.space client configuration
type OCRConfig struct {
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	URL               string        `yaml:"url" mapstructure:"url"`
	Language          string        `yaml:"language" mapstructure:"language"`
	Engine            int           `yaml:"engine" mapstructure:"engine"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxWidth          int           `yaml:"max_width" mapstructure:"max_width"`
	MaxHeight         int           `yaml:"max_height" mapstructure:"max_height"`
	MaxUploadKB       int           `yaml:"max_upload_kb" mapstructure:"max_upload_kb"`
}

// LLMConfig contains the chat completion client configuration
type LLMConfig struct {
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	Model             string        `yaml:"model" mapstructure:"model"`
	Temperature       float64       `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens         int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`

	// ProxyToken is required from /llm/ callers when set. Without it the
	// proxy only serves loopback clients.
	ProxyToken string `yaml:"proxy_token" mapstructure:"proxy_token"`
}

// CaptureConfig contains screen capture configuration
type CaptureConfig struct {
	Display      int    `yaml:"display" mapstructure:"display"`
	DebugSave    bool   `yaml:"debug_save" mapstructure:"debug_save"`
	DebugSaveDir string `yaml:"debug_save_dir" mapstructure:"debug_save_dir"`
}

// CacheConfig contains the Redis answer cache configuration
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// HistoryConfig contains the PostgreSQL analysis history configuration
type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string            `yaml:"level" mapstructure:"level"`
	Format string            `yaml:"format" mapstructure:"format"` // json or console
	File   LoggingFileConfig `yaml:"file" mapstructure:"file"`
}

// LoggingFileConfig enables an additional JSON log file
type LoggingFileConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// WebSocketConfig contains dashboard feed configuration
type WebSocketConfig struct {
	Enabled  bool         `yaml:"enabled" mapstructure:"enabled"`
	Path     string       `yaml:"path" mapstructure:"path"`
	Username string       `yaml:"username" mapstructure:"username"`
	Password string       `yaml:"password" mapstructure:"password"`
	Events   EventsConfig `yaml:"events" mapstructure:"events"`
}

// EventsConfig selects which events are broadcast to dashboard clients
type EventsConfig struct {
	BroadcastDetections  bool `yaml:"broadcast_detections" mapstructure:"broadcast_detections"`
	BroadcastAnalyses    bool `yaml:"broadcast_analyses" mapstructure:"broadcast_analyses"`
	BroadcastRequests    bool `yaml:"broadcast_requests" mapstructure:"broadcast_requests"`
	BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
}

// RateLimitConfig contains per-client API rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// SentryConfig contains error reporting configuration
type SentryConfig struct {
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 10 << 20,
		},
		Privacy: PrivacyConfig{
			Enabled:       true,
			MaskChar:      "█",
			MaxInputBytes: 1 << 20,
		},
		OCR: OCRConfig{
			URL:               "https://api.ocr.space/parse/image",
			Language:          "fre",
			Engine:            2,
			Timeout:           30 * time.Second,
			RequestsPerMinute: 60,
			MaxWidth:          1920,
			MaxHeight:         1080,
			MaxUploadKB:       900,
		},
		LLM: LLMConfig{
			Enabled:           false,
			BaseURL:           "https://api.groq.com/openai/v1",
			Model:             "llama-3.3-70b-versatile",
			Temperature:       0.3,
			MaxTokens:         2000,
			Timeout:           30 * time.Second,
			RequestsPerMinute: 30,
		},
		Capture: CaptureConfig{
			Display:      0,
			DebugSave:    false,
			DebugSaveDir: "debug_screenshots",
		},
		Cache: CacheConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   1,
			DefaultTTL:     24 * time.Hour,
			KeyPrefix:      "screentutor",
		},
		History: HistoryConfig{
			Enabled:         false,
			DatabaseURL:     "postgres://localhost:5432/screentutor?sslmode=disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File: LoggingFileConfig{
				Enabled: false,
				Path:    "logs/screentutor.log",
			},
		},
		WebSocket: WebSocketConfig{
			Enabled: true,
			Path:    "/ws",
			Events: EventsConfig{
				BroadcastDetections:  true,
				BroadcastAnalyses:    true,
				BroadcastRequests:    false,
				BroadcastConnections: true,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 120,
			Burst:          20,
		},
	}
}
