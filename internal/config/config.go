package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Transport
	Transport   string        `env:"TRANSPORT" default:"tcp"` // tcp | redis
	PubHost     string        `env:"PUB_HOST" default:"127.0.0.1"`
	PubPort     int           `env:"PUB_PORT" default:"5556"`
	SubAddr     string        `env:"SUB_ADDR"` // defaults to PUB_HOST:PUB_PORT
	RedisURL    string        `env:"REDIS_URL" default:"redis://localhost:6379/0"`
	SendBuffer  int           `env:"SEND_BUFFER" default:"1000"`
	RecvTimeout time.Duration `env:"RECV_TIMEOUT" default:"50ms"`
	JoinTimeout time.Duration `env:"JOIN_TIMEOUT" default:"1s"`

	// Wire format
	PhysicalPrefix  string `env:"PHYSICAL_PREFIX" default:"actual"`
	DigitalPrefix   string `env:"DIGITAL_PREFIX" default:"desired"`
	TopicUnderscore bool   `env:"TOPIC_UNDERSCORE" default:"false"`
	FrameLayout     string `env:"FRAME_LAYOUT" default:"single"` // single | multi
	ChannelCount    int    `env:"CHANNEL_COUNT" default:"6"`

	// Playback
	TrajectoryPath string        `env:"TRAJECTORY_PATH"`
	TrajectoryName string        `env:"TRAJECTORY_NAME"` // stored trajectory, needs DATABASE_URL
	PlaybackLoop   bool          `env:"PLAYBACK_LOOP" default:"true"`
	PlaybackSpeed  float64       `env:"PLAYBACK_SPEED" default:"1.0"`
	TickInterval   time.Duration `env:"TICK_INTERVAL" default:"10ms"`
	MirrorDigital  bool          `env:"MIRROR_DIGITAL" default:"false"`

	// Subscriber
	QueueCapacity int `env:"QUEUE_CAPACITY" default:"1024"`

	// Control API
	ControlPort      int    `env:"CONTROL_PORT" default:"8090"`
	ControlJWTSecret string `env:"CONTROL_JWT_SECRET"`

	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from the environment, after merging a .env
// file from the working directory when one exists
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env file: %v\n", err)
	}
	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// Transport
	if err := loadEnvString(&config.Transport, "TRANSPORT", "tcp"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.PubHost, "PUB_HOST", "127.0.0.1"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.PubPort, "PUB_PORT", 5556); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.SubAddr, "SUB_ADDR", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisURL, "REDIS_URL", "redis://localhost:6379/0"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.SendBuffer, "SEND_BUFFER", 1000); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.RecvTimeout, "RECV_TIMEOUT", 50*time.Millisecond); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.JoinTimeout, "JOIN_TIMEOUT", time.Second); err != nil {
		return nil, err
	}

	// Wire format
	if err := loadEnvString(&config.PhysicalPrefix, "PHYSICAL_PREFIX", "actual"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.DigitalPrefix, "DIGITAL_PREFIX", "desired"); err != nil {
		return nil, err
	}
	if err := loadEnvBool(&config.TopicUnderscore, "TOPIC_UNDERSCORE", false); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.FrameLayout, "FRAME_LAYOUT", "single"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ChannelCount, "CHANNEL_COUNT", 6); err != nil {
		return nil, err
	}

	// Playback
	if err := loadEnvString(&config.TrajectoryPath, "TRAJECTORY_PATH", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.TrajectoryName, "TRAJECTORY_NAME", ""); err != nil {
		return nil, err
	}
	if err := loadEnvBool(&config.PlaybackLoop, "PLAYBACK_LOOP", true); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.PlaybackSpeed, "PLAYBACK_SPEED", 1.0); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.TickInterval, "TICK_INTERVAL", 10*time.Millisecond); err != nil {
		return nil, err
	}
	if err := loadEnvBool(&config.MirrorDigital, "MIRROR_DIGITAL", false); err != nil {
		return nil, err
	}

	// Subscriber
	if err := loadEnvInt(&config.QueueCapacity, "QUEUE_CAPACITY", 1024); err != nil {
		return nil, err
	}

	// Control API
	if err := loadEnvInt(&config.ControlPort, "CONTROL_PORT", 8090); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.ControlJWTSecret, "CONTROL_JWT_SECRET", ""); err != nil {
		return nil, err
	}

	// Database
	if err := loadEnvString(&config.DatabaseURL, "DATABASE_URL", ""); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	validTransports := []string{"tcp", "redis"}
	if !contains(validTransports, c.Transport) {
		errors = append(errors, fmt.Sprintf("TRANSPORT must be one of: %s", strings.Join(validTransports, ", ")))
	}
	if c.PubPort < 0 || c.PubPort > 65535 {
		errors = append(errors, "PUB_PORT must be between 0 and 65535")
	}
	if c.ControlPort < 0 || c.ControlPort > 65535 {
		errors = append(errors, "CONTROL_PORT must be between 0 and 65535")
	}

	if c.PhysicalPrefix == "" || c.DigitalPrefix == "" {
		errors = append(errors, "PHYSICAL_PREFIX and DIGITAL_PREFIX must not be empty")
	}
	validLayouts := []string{"single", "multi"}
	if !contains(validLayouts, c.FrameLayout) {
		errors = append(errors, fmt.Sprintf("FRAME_LAYOUT must be one of: %s", strings.Join(validLayouts, ", ")))
	}
	if c.ChannelCount < 1 {
		errors = append(errors, "CHANNEL_COUNT must be at least 1")
	}

	if c.PlaybackSpeed < 0 {
		errors = append(errors, "PLAYBACK_SPEED must not be negative")
	}
	if c.TickInterval <= 0 {
		errors = append(errors, "TICK_INTERVAL must be positive")
	}
	if c.RecvTimeout <= 0 || c.JoinTimeout <= 0 {
		errors = append(errors, "RECV_TIMEOUT and JOIN_TIMEOUT must be positive")
	}
	if c.QueueCapacity < 1 || c.SendBuffer < 1 {
		errors = append(errors, "QUEUE_CAPACITY and SEND_BUFFER must be at least 1")
	}
	if c.TrajectoryName != "" && c.DatabaseURL == "" {
		errors = append(errors, "TRAJECTORY_NAME requires DATABASE_URL")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if c.IsProduction() && c.ControlJWTSecret != "" && len(c.ControlJWTSecret) < 32 {
		errors = append(errors, "CONTROL_JWT_SECRET should be at least 32 characters long")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// PublishAddress is where the publisher binds: a host:port for tcp, the URL for redis
func (c *Config) PublishAddress() string {
	if c.Transport == "redis" {
		return c.RedisURL
	}
	return net.JoinHostPort(c.PubHost, strconv.Itoa(c.PubPort))
}

// SubscribeAddress is where subscribers connect
func (c *Config) SubscribeAddress() string {
	if c.Transport == "redis" {
		return c.RedisURL
	}
	if c.SubAddr != "" {
		return c.SubAddr
	}
	return net.JoinHostPort(c.PubHost, strconv.Itoa(c.PubPort))
}

func (c *Config) ControlAddress() string {
	return fmt.Sprintf(":%d", c.ControlPort)
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
