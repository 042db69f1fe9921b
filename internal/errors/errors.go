// Package errors provides centralized error definitions and error handling utilities
// for rollout. It defines the error kinds that drive the deploy lifecycle, semantic
// error types, constructors with context wrapping, and classification helpers.
//
// # Error Types
//
// Phase errors mark which lifecycle boundary a failure belongs to. Each phase of a
// deploy absorbs only its own kind:
//   - PreDeployError: locking, staging or release discovery failed
//   - DeployError: the deploy body reported failure through the expected channel
//   - PostDeployError: promoting the build or swapping current failed
//   - FinalizeError: cleanup, build removal or unlock failed (recorded, never returned)
//
// Collaborator errors describe the failing resource:
//   - LockError: the deploy lock is held or could not be created or removed
//   - ExecutionError: a remote command exited non-zero or could not be started
//   - ConfigError: a required configuration key is missing or unusable
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewLockError("deploy lock is held", errors.ErrLockHeld).WithPath(lockPath)
//	err := errors.NewExecutionError("command failed", cause).WithHost("app1").WithExitStatus(2)
//
// Checking errors:
//
//	var deployErr *errors.DeployError
//	if errors.As(err, &deployErr) { ... }
//
//	if errors.Is(err, errors.ErrLockHeld) { ... }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry (dropped connections)
//   - UserFacing: errors safe to display to users
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Lock-related sentinel errors
var (
	// ErrLockHeld indicates that another deploy holds the lock for the target root.
	ErrLockHeld = New("deploy lock is held")
	// ErrNotLocked indicates that no lock marker exists.
	ErrNotLocked = New("deploy is not locked")
)

// Release-related sentinel errors
var (
	// ErrNoReleases indicates that the releases root holds no releases.
	ErrNoReleases = New("no releases found")
	// ErrReleaseNotFound indicates that a named release does not exist.
	ErrReleaseNotFound = New("release not found")
	// ErrInvalidLabel indicates a release directory name that is not a release label.
	ErrInvalidLabel = New("invalid release label")
)

// Remote-related sentinel errors
var (
	// ErrConnectionFailed indicates that the remote host could not be reached.
	ErrConnectionFailed = New("connection failed")
	// ErrHostKeyMismatch indicates that a host presented a key different from the known one.
	ErrHostKeyMismatch = New("host key mismatch")
	// ErrUnknownHostKey indicates that a host key is not in known_hosts.
	ErrUnknownHostKey = New("unknown host key")
)

// General sentinel errors
var (
	// ErrMissingConfig indicates that a required configuration key is absent.
	ErrMissingConfig = New("missing configuration")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// RolloutError is the base interface for all rollout errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type RolloutError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// format renders "kind [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

func newBase(message string, cause error) baseError {
	return baseError{
		message:    message,
		cause:      cause,
		severity:   SeverityError,
		userFacing: true,
	}
}

// -----------------------------------------------------------------------------
// Phase Errors
// -----------------------------------------------------------------------------

// phaseContext holds the fields shared by every phase error.
type phaseContext struct {
	Host string
	Step string
}

func (c phaseContext) parts() []string {
	var parts []string
	if c.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", c.Host))
	}
	if c.Step != "" {
		parts = append(parts, fmt.Sprintf("step=%s", c.Step))
	}
	return parts
}

// PreDeployError represents a failure while locking, staging or discovering
// the latest release. The pre-deploy phase absorbs it.
//
// Example:
//
//	err := errors.NewPreDeployError("create_build_path", cause).WithHost("app1")
//	fmt.Println(err) // "pre-deploy error [host=app1, step=create_build_path]: step failed: ..."
type PreDeployError struct {
	baseError
	phaseContext
}

// NewPreDeployError creates a PreDeployError for the named step.
func NewPreDeployError(step string, cause error) *PreDeployError {
	return &PreDeployError{
		baseError:    newBase("step failed", cause),
		phaseContext: phaseContext{Step: step},
	}
}

// WithHost adds the target host to the error context.
func (e *PreDeployError) WithHost(host string) *PreDeployError {
	e.Host = host
	return e
}

// Error returns the formatted error message.
func (e *PreDeployError) Error() string {
	return e.format("pre-deploy error", e.parts())
}

// Is checks if this error matches the target.
func (e *PreDeployError) Is(target error) bool {
	if _, ok := target.(*PreDeployError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// DeployError represents a failure of the deploy body reported through the
// expected channel, usually a remote command that exited non-zero. The deploy
// phase absorbs it; any other error escapes the phase.
type DeployError struct {
	baseError
	phaseContext
}

// NewDeployError creates a DeployError.
func NewDeployError(message string, cause error) *DeployError {
	return &DeployError{baseError: newBase(message, cause)}
}

// WithHost adds the target host to the error context.
func (e *DeployError) WithHost(host string) *DeployError {
	e.Host = host
	return e
}

// WithStep names the body step that failed.
func (e *DeployError) WithStep(step string) *DeployError {
	e.Step = step
	return e
}

// Error returns the formatted error message.
func (e *DeployError) Error() string {
	return e.format("deploy error", e.parts())
}

// Is checks if this error matches the target.
func (e *DeployError) Is(target error) bool {
	if _, ok := target.(*DeployError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// PostDeployError represents a failure to promote the build into releases or
// to repoint current. The post-deploy phase absorbs it.
type PostDeployError struct {
	baseError
	phaseContext
	Release string
}

// NewPostDeployError creates a PostDeployError for the named step.
func NewPostDeployError(step string, cause error) *PostDeployError {
	return &PostDeployError{
		baseError:    newBase("step failed", cause),
		phaseContext: phaseContext{Step: step},
	}
}

// WithHost adds the target host to the error context.
func (e *PostDeployError) WithHost(host string) *PostDeployError {
	e.Host = host
	return e
}

// WithRelease adds the release label being promoted.
func (e *PostDeployError) WithRelease(label string) *PostDeployError {
	e.Release = label
	return e
}

// Error returns the formatted error message.
func (e *PostDeployError) Error() string {
	parts := e.parts()
	if e.Release != "" {
		parts = append(parts, fmt.Sprintf("release=%s", e.Release))
	}
	return e.format("post-deploy error", parts)
}

// Is checks if this error matches the target.
func (e *PostDeployError) Is(target error) bool {
	if _, ok := target.(*PostDeployError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// FinalizeError collects the failures of finalize steps. It is recorded in the
// run state and logged, never returned to the caller.
type FinalizeError struct {
	baseError
	phaseContext
}

// NewFinalizeError creates a FinalizeError. cause is usually an errors.Join of
// the individual step failures.
func NewFinalizeError(cause error) *FinalizeError {
	e := &FinalizeError{baseError: newBase("cleanup incomplete", cause)}
	e.severity = SeverityWarning
	return e
}

// WithHost adds the target host to the error context.
func (e *FinalizeError) WithHost(host string) *FinalizeError {
	e.Host = host
	return e
}

// Error returns the formatted error message.
func (e *FinalizeError) Error() string {
	return e.format("finalize error", e.parts())
}

// Is checks if this error matches the target.
func (e *FinalizeError) Is(target error) bool {
	if _, ok := target.(*FinalizeError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Collaborator Errors
// -----------------------------------------------------------------------------

// LockError represents a deploy lock that is already held or that could not
// be created or removed.
//
// Example:
//
//	err := errors.NewLockError("deploy lock is held", errors.ErrLockHeld).
//		WithPath("/var/www/app/deploy.lock").WithHolder("ci@builder")
type LockError struct {
	baseError
	Path   string
	Holder string
}

// NewLockError creates a new LockError.
func NewLockError(message string, cause error) *LockError {
	return &LockError{baseError: newBase(message, cause)}
}

// WithPath adds the lock marker path.
func (e *LockError) WithPath(path string) *LockError {
	e.Path = path
	return e
}

// WithHolder adds the recorded lock holder.
func (e *LockError) WithHolder(holder string) *LockError {
	e.Holder = holder
	return e
}

// Error returns the formatted error message.
func (e *LockError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	if e.Holder != "" {
		parts = append(parts, fmt.Sprintf("holder=%s", e.Holder))
	}
	return e.format("lock error", parts)
}

// Is checks if this error matches the target.
func (e *LockError) Is(target error) bool {
	if _, ok := target.(*LockError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ExecutionError represents a remote command that exited non-zero or that
// could not be started at all.
//
// Example:
//
//	err := errors.NewExecutionError("command failed", nil).
//		WithHost("app1").WithCommand("make build").WithExitStatus(2).WithOutput(stderr)
type ExecutionError struct {
	baseError
	Host       string
	Command    string
	ExitStatus int
	Output     string
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(message string, cause error) *ExecutionError {
	return &ExecutionError{
		baseError:  newBase(message, cause),
		ExitStatus: -1,
	}
}

// WithHost adds the target host to the error context.
func (e *ExecutionError) WithHost(host string) *ExecutionError {
	e.Host = host
	return e
}

// WithCommand adds the command line to the error context.
func (e *ExecutionError) WithCommand(command string) *ExecutionError {
	e.Command = command
	return e
}

// WithExitStatus records the command's exit status.
func (e *ExecutionError) WithExitStatus(status int) *ExecutionError {
	e.ExitStatus = status
	return e
}

// WithOutput attaches command output for debugging.
func (e *ExecutionError) WithOutput(output string) *ExecutionError {
	e.Output = output
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ExecutionError) WithRetryable(r bool) *ExecutionError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ExecutionError) Error() string {
	var parts []string
	if e.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", e.Host))
	}
	if e.ExitStatus >= 0 {
		parts = append(parts, fmt.Sprintf("exit=%d", e.ExitStatus))
	}

	msg := e.format("execution error", parts)
	if e.Command != "" {
		msg = fmt.Sprintf("%s\ncommand: %s", msg, e.Command)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg = fmt.Sprintf("%s\noutput: %s", msg, out)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ExecutionError) Is(target error) bool {
	if _, ok := target.(*ExecutionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ConfigError represents a configuration key that is missing or unusable.
//
// Example:
//
//	err := errors.NewConfigError("deploy_to", errors.ErrMissingConfig)
//	fmt.Println(err) // "config error [key=deploy_to]: required key not set: missing configuration"
type ConfigError struct {
	baseError
	Key string
}

// NewConfigError creates a ConfigError for key.
func NewConfigError(key string, cause error) *ConfigError {
	return &ConfigError{
		baseError: newBase("required key not set", cause),
		Key:       key,
	}
}

// WithMessage replaces the default message.
func (e *ConfigError) WithMessage(message string) *ConfigError {
	e.message = message
	return e
}

// Error returns the formatted error message.
func (e *ConfigError) Error() string {
	var parts []string
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}
	return e.format("config error", parts)
}

// Is checks if this error matches the target.
func (e *ConfigError) Is(target error) bool {
	if _, ok := target.(*ConfigError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("release", "20240101120000")
//	fmt.Println(err) // "release '20240101120000' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("finalize", 2*time.Minute)
//	fmt.Println(err) // "timeout error: finalize (timeout: 2m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. The outermost RolloutError in the chain decides;
// plain errors wrapping ErrTimeout or ErrConnectionFailed count as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var rolloutErr RolloutError
	if As(err, &rolloutErr) {
		return rolloutErr.IsRetryable()
	}

	return Is(err, ErrTimeout) || Is(err, ErrConnectionFailed)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var rolloutErr RolloutError
	if As(err, &rolloutErr) {
		return rolloutErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement RolloutError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var rolloutErr RolloutError
	if As(err, &rolloutErr) {
		return rolloutErr.Severity()
	}

	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
//
// Example:
//
//	err := errors.Wrap(baseErr, "list releases")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
