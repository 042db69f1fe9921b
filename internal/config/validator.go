package config

import (
	"fmt"
	"path"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "ssh.port")
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

// Validate checks the Config for invalid values and returns all validation errors found.
// A missing deploy_to is not a validation error: commands that need it call
// Store.Ensure, so `rollout config show` works on an empty config.
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateLayout()...)
	errors = append(errors, c.validateTargets()...)
	errors = append(errors, c.validateSSH()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateLayout validates the remote directory layout settings
func (c *Config) validateLayout() []ValidationError {
	var errors []ValidationError

	if c.DeployTo != "" && !path.IsAbs(c.DeployTo) {
		errors = append(errors, ValidationError{
			Field:   "deploy_to",
			Value:   c.DeployTo,
			Message: "must be an absolute path",
		})
	}
	if c.DeployTo != "" && path.Clean(c.DeployTo) == "/" {
		errors = append(errors, ValidationError{
			Field:   "deploy_to",
			Value:   c.DeployTo,
			Message: "must not be the filesystem root",
		})
	}
	if c.BuildTo != "" && !path.IsAbs(c.BuildTo) {
		errors = append(errors, ValidationError{
			Field:   "build_to",
			Value:   c.BuildTo,
			Message: "must be an absolute path",
		})
	}

	if c.ReleasesToKeep < 1 {
		errors = append(errors, ValidationError{
			Field:   "releases_to_keep",
			Value:   c.ReleasesToKeep,
			Message: "must be at least 1",
		})
	}

	errors = append(errors, validateSharedPaths(c.SharedDirs, "shared_dirs")...)
	errors = append(errors, validateSharedPaths(c.SharedFiles, "shared_files")...)

	return errors
}

// validateSharedPaths requires relative paths that stay inside shared/.
func validateSharedPaths(paths []string, field string) []ValidationError {
	var errors []ValidationError
	seen := make(map[string]bool)

	for i, p := range paths {
		fieldName := fmt.Sprintf("%s[%d]", field, i)
		clean := path.Clean(p)

		switch {
		case strings.TrimSpace(p) == "":
			errors = append(errors, ValidationError{Field: fieldName, Value: p, Message: "must not be empty"})
		case path.IsAbs(p):
			errors = append(errors, ValidationError{Field: fieldName, Value: p, Message: "must be relative to the release"})
		case clean == "." || clean == ".." || strings.HasPrefix(clean, "../"):
			errors = append(errors, ValidationError{Field: fieldName, Value: p, Message: "must stay inside the release"})
		case seen[clean]:
			errors = append(errors, ValidationError{Field: fieldName, Value: p, Message: "is listed more than once"})
		}
		seen[clean] = true
	}

	return errors
}

// validateTargets validates host and transport settings
func (c *Config) validateTargets() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidTransports(), c.Transport) {
		errors = append(errors, ValidationError{
			Field:   "transport",
			Value:   c.Transport,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidTransports(), ", ")),
		})
	}

	for i, h := range c.Hosts {
		if strings.TrimSpace(h) == "" || strings.ContainsAny(h, " \t/") {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("hosts[%d]", i),
				Value:   h,
				Message: "must be a host name or host:port",
			})
		}
	}

	if c.MaxParallel < 1 {
		errors = append(errors, ValidationError{
			Field:   "max_parallel",
			Value:   c.MaxParallel,
			Message: "must be at least 1",
		})
	}

	if c.FinalizeTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "finalize_timeout",
			Value:   c.FinalizeTimeout,
			Message: "must be positive",
		})
	}

	return errors
}

// validateSSH validates the SSHConfig
func (c *Config) validateSSH() []ValidationError {
	var errors []ValidationError

	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "ssh.port",
			Value:   c.SSH.Port,
			Message: "must be between 1 and 65535",
		})
	}

	if !slices.Contains(ValidHostKeyPolicies(), c.SSH.HostKeyPolicy) {
		errors = append(errors, ValidationError{
			Field:   "ssh.host_key_policy",
			Value:   c.SSH.HostKeyPolicy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidHostKeyPolicies(), ", ")),
		})
	}

	if c.SSH.ConnectTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ssh.connect_timeout",
			Value:   c.SSH.ConnectTimeout,
			Message: "must be positive",
		})
	}

	if c.SSH.ConnectRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "ssh.connect_retries",
			Value:   c.SSH.ConnectRetries,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
