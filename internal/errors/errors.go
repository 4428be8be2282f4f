// Package errors provides structured error handling for vulnhawk operations.
// It defines error codes, typed errors for the validation / module-execution /
// scan-fatal taxonomy, and helpers for classifying errors by code.
package errors

import (
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeCanceled      ErrorCode = "CANCELED"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConflict      ErrorCode = "CONFLICT"

	// Target and submission errors.
	CodeTargetInvalid    ErrorCode = "TARGET_INVALID"
	CodeTargetUnverified ErrorCode = "TARGET_UNVERIFIED"
	CodeTargetBlocked    ErrorCode = "TARGET_BLOCKED"
	CodeModuleUnknown    ErrorCode = "MODULE_UNKNOWN"

	// Scan execution errors.
	CodeScanFatal     ErrorCode = "SCAN_FATAL"
	CodeModuleFailed  ErrorCode = "MODULE_FAILED"
	CodeModuleTimeout ErrorCode = "MODULE_TIMEOUT"
	CodeScanTerminal  ErrorCode = "SCAN_TERMINAL"

	// Database errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	CodeDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"
	CodeDatabaseTimeout    ErrorCode = "DATABASE_TIMEOUT"

	// Export errors.
	CodeExportUnavailable ErrorCode = "EXPORT_UNAVAILABLE"
)

// ScanError represents an error that occurred during scan orchestration or
// module execution. Module-level failures are absorbed into ModuleResult rows;
// only scan-fatal errors flip a scan's status.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Module  string
	Cause   error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	switch {
	case e.Module != "":
		return fmt.Sprintf("[%s] %s (module: %s)", e.Code, e.Message, e.Module)
	case e.Target != "":
		return fmt.Sprintf("[%s] %s (target: %s)", e.Code, e.Message, e.Target)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{Code: code, Message: message}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{Code: code, Message: message, Target: target}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{Code: code, Message: message, Cause: err}
}

// NewModuleError creates an error describing a single module's failure.
func NewModuleError(module, message string, err error) *ScanError {
	return &ScanError{Code: CodeModuleFailed, Message: message, Module: module, Cause: err}
}

// NewModuleTimeout creates an error describing a module timeout.
func NewModuleTimeout(module string) *ScanError {
	return &ScanError{Code: CodeModuleTimeout, Message: "Module execution timed out", Module: module}
}

// ValidationError represents a request rejected before any state was created.
type ValidationError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewValidationError creates a new validation error.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Code: CodeValidation, Message: message}
}

// NewFieldValidationError creates a validation error for a specific field.
func NewFieldValidationError(message, field string, value interface{}) *ValidationError {
	return &ValidationError{Code: CodeValidation, Message: message, Field: field, Value: value}
}

// DatabaseError represents database-related errors.
type DatabaseError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new database error.
func NewDatabaseError(code ErrorCode, message string) *DatabaseError {
	return &DatabaseError{Code: code, Message: message}
}

// WrapDatabaseError wraps an existing error as a database error.
func WrapDatabaseError(code ErrorCode, message string, err error) *DatabaseError {
	return &DatabaseError{Code: code, Message: message, Cause: err}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error.
func NewConfigError(message, field string) *ConfigError {
	return &ConfigError{Code: CodeConfiguration, Message: message, Field: field}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(message string, err error) *ConfigError {
	return &ConfigError{Code: CodeConfiguration, Message: message, Cause: err}
}

// Utility functions for common error operations

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	switch e := err.(type) {
	case *ScanError:
		return e.Code
	case *ValidationError:
		return e.Code
	case *DatabaseError:
		return e.Code
	case *ConfigError:
		return e.Code
	}
	return CodeUnknown
}

// IsValidation reports whether the error is a pre-state rejection: the request
// was refused before a scan row was ever created.
func IsValidation(err error) bool {
	switch GetCode(err) {
	case CodeValidation, CodeTargetInvalid, CodeTargetUnverified, CodeModuleUnknown:
		return true
	default:
		return false
	}
}

// IsScanFatal reports whether the error should transition the owning scan to
// FAILED. Module-level failures are never scan-fatal.
func IsScanFatal(err error) bool {
	switch GetCode(err) {
	case CodeScanFatal, CodeTargetBlocked:
		return true
	default:
		return false
	}
}

// IsRetryable determines if an error indicates a retryable condition.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTimeout, CodeDatabaseTimeout, CodeDatabaseConnection:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidTarget creates an error for invalid scan targets.
func ErrInvalidTarget(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetInvalid, "Invalid target specification", target)
}

// ErrTargetUnverified creates an error for scans against unverified targets.
func ErrTargetUnverified(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetUnverified, "Target ownership has not been verified", target)
}

// ErrTargetBlocked creates an error for targets resolving to blocked ranges.
func ErrTargetBlocked(target string) *ScanError {
	return NewScanErrorWithTarget(CodeTargetBlocked, "Target resolves to a blocked IP range", target)
}

// ErrScanTerminal creates an error for operations on terminal scans.
func ErrScanTerminal(status string) *ScanError {
	return NewScanError(CodeScanTerminal, fmt.Sprintf("Scan is already in terminal state %s", status))
}

// ErrDatabaseConnection creates an error for database connection failures.
func ErrDatabaseConnection(err error) *DatabaseError {
	return WrapDatabaseError(CodeDatabaseConnection, "Failed to connect to database", err)
}
