package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Service token secret
	if len(c.Auth.ServiceSecret) < 32 {
		errs = append(errs, "AUTH_SERVICE_SECRET must be at least 32 characters")
	}

	// LLM credentials: warn only, the chat command can run without a provider
	if c.LLM.APIKey == "" {
		slog.Warn("LLM_API_KEY is empty, every turn will fall back to the error response")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Sprintf("LLM_TEMPERATURE must be 0–2, got %.2f", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 1 {
		errs = append(errs, "LLM_MAX_TOKENS must be positive")
	}

	switch c.Store.Backend {
	case "memory", "redis":
	case "postgres":
		if c.DB.Password == "" {
			errs = append(errs, "DB_PASSWORD is required when STORE_BACKEND=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("STORE_BACKEND must be memory, redis or postgres, got %q", c.Store.Backend))
	}

	if _, err := time.LoadLocation(c.Engine.TimeZone); err != nil {
		errs = append(errs, fmt.Sprintf("ENGINE_TIMEZONE %q is not a known location", c.Engine.TimeZone))
	}
	if c.Engine.MemorySweepInterval <= 0 || c.Engine.SessionSweepInterval <= 0 {
		errs = append(errs, "sweep intervals must be positive")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
