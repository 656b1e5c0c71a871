// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalid is returned when the resolved configuration fails validation
var ErrInvalid = errors.New("invalid configuration")

// BaudRates lists the baud rates a serial device may be opened with
var BaudRates = []int{110, 300, 600, 1200, 2400, 4800, 9600, 14400, 19200, 38400, 57600, 115200, 128000, 256000}

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Serial  SerialConfig  `mapstructure:"serial"`
	Relay   RelayConfig   `mapstructure:"relay"`
	Status  StatusConfig  `mapstructure:"status"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
	App     AppConfig     `mapstructure:"app"`
}

// ServerConfig represents the TCP command listener
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// SerialConfig represents the serial output device
type SerialConfig struct {
	Path     string `mapstructure:"path"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	StopBits int    `mapstructure:"stop_bits"`
	Parity   string `mapstructure:"parity"`
	Backend  string `mapstructure:"backend"`
}

// RelayConfig tunes the connection pipeline
type RelayConfig struct {
	ReadBufferSize int  `mapstructure:"read_buffer_size"`
	StrictFields   bool `mapstructure:"strict_fields"`
}

// StatusConfig controls periodic status reporting
type StatusConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// HTTPConfig represents the optional status HTTP server
type HTTPConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Quiet       bool   `mapstructure:"quiet"`
}

// flagKeys maps command line flags onto configuration keys
var flagKeys = map[string]string{
	"host":   "server.host",
	"port":   "server.port",
	"serial": "serial.path",
	"baud":   "serial.baud_rate",
	"quiet":  "app.quiet",
}

// Load resolves configuration from defaults, an optional config file,
// a .env file, AFTERGLOW_* environment variables and the given flags.
// flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v.SetConfigName("afterglow")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/afterglow")

	v.SetEnvPrefix("AFTERGLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if file, err := flags.GetString("config"); err == nil && file != "" {
			v.SetConfigFile(file)
		}
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if config.App.Quiet {
		config.Logging.Level = "warn"
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 34254)

	// Serial defaults, an empty path selects the first enumerated port
	v.SetDefault("serial.path", "")
	v.SetDefault("serial.baud_rate", 9600)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.backend", "bugst")

	// Relay defaults
	v.SetDefault("relay.read_buffer_size", 64*1024)
	v.SetDefault("relay.strict_fields", false)

	// Status defaults
	v.SetDefault("status.interval", "1s")
	v.SetDefault("status.stale_after", "5s")

	// HTTP defaults
	v.SetDefault("http.enabled", false)
	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 34255)
	v.SetDefault("http.allowed_origins", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "afterglow")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "production")
	v.SetDefault("app.quiet", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("%w: server.host is required", ErrInvalid)
	}
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port must be between 1 and 65535, got %d", ErrInvalid, config.Server.Port)
	}
	if !slices.Contains(BaudRates, config.Serial.BaudRate) {
		return fmt.Errorf("%w: serial.baud_rate must be one of %v, got %d", ErrInvalid, BaudRates, config.Serial.BaudRate)
	}

	validBackends := []string{"bugst", "tarm"}
	if !slices.Contains(validBackends, config.Serial.Backend) {
		return fmt.Errorf("%w: serial.backend must be one of: %v", ErrInvalid, validBackends)
	}

	if config.Relay.ReadBufferSize <= 0 {
		return fmt.Errorf("%w: relay.read_buffer_size must be positive", ErrInvalid)
	}
	if config.Status.Interval <= 0 {
		return fmt.Errorf("%w: status.interval must be positive", ErrInvalid)
	}
	if config.HTTP.Enabled && (config.HTTP.Port < 1 || config.HTTP.Port > 65535) {
		return fmt.Errorf("%w: http.port must be between 1 and 65535, got %d", ErrInvalid, config.HTTP.Port)
	}

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if !slices.Contains(validLevels, config.Logging.Level) {
		return fmt.Errorf("%w: logging.level must be one of: %v", ErrInvalid, validLevels)
	}

	return nil
}

// GetServerAddr returns the command listener address
func (c *Config) GetServerAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// GetHTTPAddr returns the status server address
func (c *Config) GetHTTPAddr() string {
	return net.JoinHostPort(c.HTTP.Host, strconv.Itoa(c.HTTP.Port))
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}
