package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrNoConfigFile is returned by Watch when configuration came only from
// defaults and the environment.
var ErrNoConfigFile = errors.New("no configuration file in use")

var (
	activeMu sync.Mutex
	active   *viper.Viper
)

// legacyEnv maps configuration keys to the plain variable names used in .env files
var legacyEnv = map[string]string{
	"ocr.api_key":        "OCRSPACE_API_KEY",
	"ocr.language":       "OCR_LANGUAGE",
	"llm.api_key":        "GROQ_API_KEY",
	"llm.enabled":        "USE_LLM",
	"capture.debug_save": "DEBUG_SAVE_SCREENSHOTS",
	"sentry.dsn":         "SENTRY_DSN",
}

// Load loads configuration from .env, the config file and environment variables
func Load(configPath string) (*Config, error) {
	if err := loadDotenv(envFilePath()); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, "", reflect.ValueOf(*GetDefaults()))

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("$HOME/.screentutor/")

	// Environment variable overrides
	v.SetEnvPrefix("TUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := "TUTOR_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", legacy, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	activeMu.Lock()
	active = v
	activeMu.Unlock()

	return config, nil
}

// Watch reloads the configuration file on change. Invalid files are reported
// to onError and the previous configuration stays in effect.
func Watch(callback func(*Config), onError func(error)) error {
	activeMu.Lock()
	v := active
	activeMu.Unlock()

	if v == nil || v.ConfigFileUsed() == "" {
		return ErrNoConfigFile
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := &Config{}
		if err := v.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to unmarshal %s: %w", e.Name, err))
			}
			return
		}

		if err := validateConfig(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("invalid configuration in %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}

// MaskRune returns the configured mask character
func (p PrivacyConfig) MaskRune() rune {
	r, _ := utf8.DecodeRuneInString(p.MaskChar)
	return r
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if utf8.RuneCountInString(config.Privacy.MaskChar) != 1 || config.Privacy.MaskRune() == utf8.RuneError {
		return fmt.Errorf("invalid mask char: %q (must be a single character)", config.Privacy.MaskChar)
	}

	if config.Privacy.MaxInputBytes <= 0 {
		return fmt.Errorf("invalid privacy max_input_bytes: %d", config.Privacy.MaxInputBytes)
	}

	if config.OCR.Engine != 1 && config.OCR.Engine != 2 {
		return fmt.Errorf("invalid OCR engine: %d (must be 1 or 2)", config.OCR.Engine)
	}

	if config.OCR.Timeout <= 0 || config.LLM.Timeout <= 0 {
		return fmt.Errorf("OCR and LLM timeouts must be positive")
	}

	if config.OCR.RequestsPerMinute <= 0 || config.LLM.RequestsPerMinute <= 0 {
		return fmt.Errorf("OCR and LLM requests_per_minute must be positive")
	}

	if config.OCR.MaxWidth <= 0 || config.OCR.MaxHeight <= 0 {
		return fmt.Errorf("invalid OCR max size: %dx%d", config.OCR.MaxWidth, config.OCR.MaxHeight)
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// setDefaults registers every leaf of the defaults struct with viper so that
// environment overrides apply to keys missing from the config file.
func setDefaults(v *viper.Viper, prefix string, value reflect.Value) {
	t := value.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		field := value.Field(i)
		if field.Kind() == reflect.Struct {
			setDefaults(v, key, field)
			continue
		}
		v.SetDefault(key, field.Interface())
	}
}

func envFilePath() string {
	if path := os.Getenv("TUTOR_ENV_FILE"); path != "" {
		return path
	}
	return ".env"
}

// loadDotenv exports the variables of a .env file without overriding the
// process environment. A missing file is not an error.
func loadDotenv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
