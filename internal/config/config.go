package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/rezonia/vat-compliance/internal/logger"
)

// AuthorityConfig holds endpoint and credentials for one tax authority
type AuthorityConfig struct {
	BaseURL      string
	APIKey       string
	ClientID     string
	ClientSecret string
	TokenURL     string
	AccessToken  string
	RatePerSec   float64
}

type Config struct {
	// Storage
	DBPath string

	// HTTP server
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
	MaxUploadMiB int

	// Detection
	EnhancedDetection bool
	LLMAPIKey         string
	LLMBaseURL        string
	LLMModel          string
	LLMTimeout        time.Duration

	// Remediation
	BulkConcurrency int

	// Filing
	FilingTimeout time.Duration
	Elster        AuthorityConfig
	DGFiP         AuthorityConfig
	HMRC          AuthorityConfig

	// Logging
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads an optional .env file followed by the process environment
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	config := &Config{
		DBPath:            getEnv("VAT_DB_PATH", "vat-compliance.db"),
		Address:           getEnv("VAT_ADDRESS", ":8080"),
		ReadTimeout:       getDuration("VAT_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:      getDuration("VAT_WRITE_TIMEOUT", 2*time.Minute),
		Debug:             getBool("VAT_DEBUG", false),
		MaxUploadMiB:      getInt("VAT_MAX_UPLOAD_MIB", 32),
		EnhancedDetection: getBool("VAT_ENHANCED_DETECTION", false),
		LLMAPIKey:         getEnv("LLM_API_KEY", ""),
		LLMBaseURL:        getEnv("LLM_BASE_URL", ""),
		LLMModel:          getEnv("LLM_MODEL", ""),
		LLMTimeout:        getDuration("LLM_TIMEOUT", 60*time.Second),
		BulkConcurrency:   getInt("VAT_BULK_CONCURRENCY", 1),
		FilingTimeout:     getDuration("VAT_FILING_TIMEOUT", 30*time.Second),
		Elster: AuthorityConfig{
			BaseURL:    getEnv("ELSTER_BASE_URL", "https://api.elster.de/ustva/v1"),
			APIKey:     getEnv("ELSTER_API_KEY", ""),
			RatePerSec: getFloat("ELSTER_RATE_PER_SEC", 0),
		},
		DGFiP: AuthorityConfig{
			BaseURL:    getEnv("DGFIP_BASE_URL", "https://api.impots.gouv.fr/tva/v1"),
			APIKey:     getEnv("DGFIP_API_KEY", ""),
			RatePerSec: getFloat("DGFIP_RATE_PER_SEC", 0),
		},
		HMRC: AuthorityConfig{
			BaseURL:      getEnv("HMRC_BASE_URL", "https://api.service.hmrc.gov.uk"),
			ClientID:     getEnv("HMRC_CLIENT_ID", ""),
			ClientSecret: getEnv("HMRC_CLIENT_SECRET", ""),
			TokenURL:     getEnv("HMRC_TOKEN_URL", "https://api.service.hmrc.gov.uk/oauth/token"),
			AccessToken:  getEnv("HMRC_ACCESS_TOKEN", ""),
			RatePerSec:   getFloat("HMRC_RATE_PER_SEC", 3),
		},
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		LogTimeFormat: getEnv("LOG_TIME_FORMAT", time.RFC3339),
		LogOutput:     getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("VAT_DB_PATH is required")
	}
	if c.BulkConcurrency < 1 {
		return fmt.Errorf("VAT_BULK_CONCURRENCY must be at least 1, got %d", c.BulkConcurrency)
	}
	if c.FilingTimeout <= 0 {
		return fmt.Errorf("VAT_FILING_TIMEOUT must be positive")
	}
	if c.LLMTimeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if c.MaxUploadMiB < 1 {
		return fmt.Errorf("VAT_MAX_UPLOAD_MIB must be at least 1, got %d", c.MaxUploadMiB)
	}
	return nil
}

// LLMEnabled reports whether the LLM advisory pass can run
func (c *Config) LLMEnabled() bool {
	return c.EnhancedDetection && c.LLMAPIKey != ""
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
