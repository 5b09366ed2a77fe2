package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"adscan-pipeline/browser"
)

const (
	MinAdSlots = 1
	MaxAdSlots = 5

	SinkMySQL    = "mysql"
	SinkRabbitMQ = "rabbitmq"

	ProviderGemini = "gemini"
	ProviderStub   = "stub"
)

// Config holds all configuration for the ad scan service
type Config struct {
	// Server configuration
	Port string

	// Browser configuration
	BrowserEnv        string
	ChromeExecPath    string
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration

	// Scan configuration
	ScanTimeout       time.Duration
	MaxAdSlots        int
	MaxImageDimension int

	// LLM configuration
	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string

	// Logging
	LogLevel  string
	LogFormat string

	// Reporting sinks
	ReportSinks []string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// RabbitMQ configuration
	RabbitMQ RabbitMQConfig
}

// RabbitMQConfig holds the connection and routing settings for scan events
type RabbitMQConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	Exchange       string
	ScanRoutingKey string
}

// GetAMQPURL returns the AMQP connection URL
func (r RabbitMQConfig) GetAMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.Host, r.Port)
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		// Server defaults
		Port: getEnv("PORT", "8080"),

		// Browser defaults
		BrowserEnv:        getEnv("BROWSER_ENV", string(browser.ModeLocal)),
		ChromeExecPath:    getEnv("CHROME_EXECUTABLE_PATH", ""),
		ViewportWidth:     getIntEnv("VIEWPORT_WIDTH", browser.DefaultViewportWidth),
		ViewportHeight:    getIntEnv("VIEWPORT_HEIGHT", browser.DefaultViewportHeight),
		NavigationTimeout: getDurationEnv("NAVIGATION_TIMEOUT", browser.DefaultNavigationTimeout),

		// Scan defaults
		ScanTimeout:       getDurationEnv("SCAN_TIMEOUT", 2*time.Minute),
		MaxAdSlots:        getIntEnv("MAX_AD_SLOTS", 3),
		MaxImageDimension: getIntEnv("MAX_IMAGE_DIMENSION", 1024),

		// LLM defaults
		LLMProvider:  strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini)),
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		ReportSinks: getStringSliceEnv("REPORT_SINKS", ""),

		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "adscan"),

		RabbitMQ: RabbitMQConfig{
			Host:           getEnv("AMQP_HOST", "localhost"),
			Port:           getEnv("AMQP_PORT", "5672"),
			User:           getEnv("AMQP_USER", "guest"),
			Password:       getEnv("AMQP_PASSWORD", "guest"),
			Exchange:       getEnv("RABBITMQ_EXCHANGE", "adscan"),
			ScanRoutingKey: getEnv("RABBITMQ_SCAN_ROUTING_KEY", "scan.completed"),
		},
	}

	return config
}

// Validate reports the conditions the service refuses to start with.
func (c *Config) Validate() error {
	var errs []error

	mode, err := browser.ParseMode(c.BrowserEnv)
	if err != nil {
		errs = append(errs, err)
	}
	if mode == browser.ModeHosted && c.ChromeExecPath == "" {
		errs = append(errs, errors.New("CHROME_EXECUTABLE_PATH is required when BROWSER_ENV=hosted"))
	}

	switch c.LLMProvider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
		}
	case ProviderStub:
	default:
		errs = append(errs, fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider))
	}

	if c.MaxAdSlots < MinAdSlots || c.MaxAdSlots > MaxAdSlots {
		errs = append(errs, fmt.Errorf("MAX_AD_SLOTS must be between %d and %d, got %d", MinAdSlots, MaxAdSlots, c.MaxAdSlots))
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		errs = append(errs, fmt.Errorf("viewport must be positive, got %dx%d", c.ViewportWidth, c.ViewportHeight))
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, errors.New("SCAN_TIMEOUT must be positive"))
	}

	for _, sink := range c.ReportSinks {
		if sink != SinkMySQL && sink != SinkRabbitMQ {
			errs = append(errs, fmt.Errorf("unknown report sink %q", sink))
		}
	}

	return errors.Join(errs...)
}

// BrowserOptions returns the session options for the configured browser.
// Call Validate first; an unknown BROWSER_ENV falls back to local mode.
func (c *Config) BrowserOptions() browser.Options {
	mode, err := browser.ParseMode(c.BrowserEnv)
	if err != nil {
		mode = browser.ModeLocal
	}
	return browser.Options{
		Mode:              mode,
		ExecPath:          c.ChromeExecPath,
		ViewportWidth:     c.ViewportWidth,
		ViewportHeight:    c.ViewportHeight,
		NavigationTimeout: c.NavigationTimeout,
	}
}

// SinkEnabled reports whether the named reporting sink is configured.
func (c *Config) SinkEnabled(name string) bool {
	for _, sink := range c.ReportSinks {
		if sink == name {
			return true
		}
	}
	return false
}

// getStringSliceEnv gets a comma-separated environment variable as a lowercased slice
func getStringSliceEnv(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}

	var values []string
	for _, v := range strings.Split(value, ",") {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
