package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "workers.max")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Upper bounds that catch unit mistakes such as seconds written as ms.
const (
	maxWorkers        = 1024
	minPollIntervalMs = 10
)

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateWorkers()...)
	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateDebug()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateWorkers() []ValidationError {
	var errors []ValidationError

	if c.Workers.Max < 1 {
		errors = append(errors, ValidationError{
			Field:   "workers.max",
			Value:   c.Workers.Max,
			Message: "must be at least 1",
		})
	} else if c.Workers.Max > maxWorkers {
		errors = append(errors, ValidationError{
			Field:   "workers.max",
			Value:   c.Workers.Max,
			Message: fmt.Sprintf("exceeds maximum of %d", maxWorkers),
		})
	}

	if c.Workers.Min < 0 {
		errors = append(errors, ValidationError{
			Field:   "workers.min",
			Value:   c.Workers.Min,
			Message: "must be non-negative",
		})
	} else if c.Workers.Max >= 1 && c.Workers.Min > c.Workers.Max {
		errors = append(errors, ValidationError{
			Field:   "workers.min",
			Value:   c.Workers.Min,
			Message: fmt.Sprintf("must not exceed workers.max (%d)", c.Workers.Max),
		})
	}

	if c.Workers.IdleTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "workers.idle_timeout_ms",
			Value:   c.Workers.IdleTimeoutMs,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError

	intervals := []struct {
		field string
		value int
	}{
		{"scheduler.watchdog_interval_ms", c.Scheduler.WatchdogIntervalMs},
		{"scheduler.join_poll_interval_ms", c.Scheduler.JoinPollIntervalMs},
	}
	for _, iv := range intervals {
		if iv.value < minPollIntervalMs {
			errors = append(errors, ValidationError{
				Field:   iv.field,
				Value:   iv.value,
				Message: fmt.Sprintf("must be at least %dms", minPollIntervalMs),
			})
		}
	}

	if c.Scheduler.ShutdownWaitAttempts < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.shutdown_wait_attempts",
			Value:   c.Scheduler.ShutdownWaitAttempts,
			Message: "must be non-negative",
		})
	}
	if c.Scheduler.ShutdownWaitMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.shutdown_wait_ms",
			Value:   c.Scheduler.ShutdownWaitMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateDebug() []ValidationError {
	var errors []ValidationError

	// Detailed yield tracing only adds to the basic trace
	if c.Debug.YieldingDetailed && !c.Debug.Yielding {
		errors = append(errors, ValidationError{
			Field:   "debug.yielding_detailed",
			Value:   c.Debug.YieldingDetailed,
			Message: "requires debug.yielding",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
