package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "workers.max",
		Value:   0,
		Message: "must be at least 1",
	}

	expected := "workers.max: must be at least 1 (got: 0)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "1. field1") || !strings.Contains(result, "2. field2") {
			t.Errorf("Error() should number both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func hasField(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero max workers", func(c *Config) { c.Workers.Max = 0 }, "workers.max"},
		{"too many workers", func(c *Config) { c.Workers.Max = maxWorkers + 1 }, "workers.max"},
		{"negative min workers", func(c *Config) { c.Workers.Min = -1 }, "workers.min"},
		{"min above max", func(c *Config) { c.Workers.Max = 2; c.Workers.Min = 3 }, "workers.min"},
		{"zero idle timeout", func(c *Config) { c.Workers.IdleTimeoutMs = 0 }, "workers.idle_timeout_ms"},
		{"fast watchdog", func(c *Config) { c.Scheduler.WatchdogIntervalMs = 1 }, "scheduler.watchdog_interval_ms"},
		{"fast join poll", func(c *Config) { c.Scheduler.JoinPollIntervalMs = 5 }, "scheduler.join_poll_interval_ms"},
		{"negative shutdown attempts", func(c *Config) { c.Scheduler.ShutdownWaitAttempts = -1 }, "scheduler.shutdown_wait_attempts"},
		{"negative shutdown wait", func(c *Config) { c.Scheduler.ShutdownWaitMs = -1 }, "scheduler.shutdown_wait_ms"},
		{"detailed yield alone", func(c *Config) { c.Debug.YieldingDetailed = true }, "debug.yielding_detailed"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"uppercase log level", func(c *Config) { c.Logging.Level = "INFO" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if errs := cfg.Validate(); !hasField(errs, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestConfig_Validate_AllowedEdges(t *testing.T) {
	cfg := Default()
	cfg.Workers.Max = 1
	cfg.Workers.Min = 0
	cfg.Scheduler.ShutdownWaitAttempts = 0
	cfg.Debug.Yielding = true
	cfg.Debug.YieldingDetailed = true
	cfg.Logging.Level = ""

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Workers.Max = 0
	cfg.Workers.IdleTimeoutMs = -5
	cfg.Logging.Level = "loud"

	if errs := cfg.Validate(); len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}
