package config

import (
	"fmt"
	"os"

	"bindersplit/internal/logger"
)

type Config struct {
	// Splitter Configuration
	OutputDir     string
	CacheDir      string
	RulesPath     string
	HintsPath     string
	TesseractLang string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		OutputDir:     getEnv("BINDERSPLIT_OUTPUT_DIR", "Bindocs_output"),
		CacheDir:      getEnv("BINDERSPLIT_CACHE_DIR", "Cache"),
		RulesPath:     getEnv("BINDERSPLIT_RULES_PATH", "rules.json"),
		HintsPath:     getEnv("BINDERSPLIT_HINTS_PATH", ""),
		TesseractLang: getEnv("BINDERSPLIT_TESSERACT_LANG", "eng"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		LogTimeFormat: getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:     getEnv("LOG_OUTPUT", "stdout"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("BINDERSPLIT_OUTPUT_DIR must not be empty")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("BINDERSPLIT_CACHE_DIR must not be empty")
	}
	if c.RulesPath == "" {
		return fmt.Errorf("BINDERSPLIT_RULES_PATH must not be empty")
	}
	return nil
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
