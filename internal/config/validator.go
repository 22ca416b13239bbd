package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError is a single invalid config field.
type ValidationError struct {
	Field   string // config field path, e.g. "heartbeat.max_age_seconds"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid field so a user can fix them
// in one pass.
type ValidationErrors []ValidationError

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

// ValidLogLevels returns the accepted logging levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config and returns every invalid field found.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.RootDir == "" {
		errors = append(errors, ValidationError{
			Field:   "root_dir",
			Value:   c.RootDir,
			Message: "must not be empty",
		})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Heartbeat.MaxAgeSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "heartbeat.max_age_seconds",
			Value:   c.Heartbeat.MaxAgeSeconds,
			Message: "must be positive",
		})
	}

	if c.Nudge.IdleDelaySeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "nudge.idle_delay_seconds",
			Value:   c.Nudge.IdleDelaySeconds,
			Message: "must be positive",
		})
	}
	if c.Nudge.MaxNudges < 0 {
		errors = append(errors, ValidationError{
			Field:   "nudge.max_nudges",
			Value:   c.Nudge.MaxNudges,
			Message: "must be non-negative",
		})
	}
	if c.Nudge.ScanIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "nudge.scan_interval_seconds",
			Value:   c.Nudge.ScanIntervalSeconds,
			Message: "must be positive",
		})
	}

	if c.Shutdown.GraceSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "shutdown.grace_seconds",
			Value:   c.Shutdown.GraceSeconds,
			Message: "must be positive",
		})
	}

	if c.Task.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "task.max_retries",
			Value:   c.Task.MaxRetries,
			Message: "must be non-negative",
		})
	}

	if c.Worker.PollIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.poll_interval_seconds",
			Value:   c.Worker.PollIntervalSeconds,
			Message: "must be positive",
		})
	}
	if c.Worker.Command == "" {
		errors = append(errors, ValidationError{
			Field:   "worker.command",
			Value:   c.Worker.Command,
			Message: "must not be empty",
		})
	}

	return errors
}
