// Package errors provides the error taxonomy shared by the goore miner packages.
//
// Every failure that crosses a package boundary is a *ServiceError carrying an
// ErrorType. Callers branch on the type with IsType, and the retry and circuit
// packages use IsRetryable to tell a flaky endpoint from a definite answer.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeRPC represents transient network RPC failures
	ErrorTypeRPC ErrorType = "rpc"
	// ErrorTypeSimulation represents a transaction rejected by simulation
	ErrorTypeSimulation ErrorType = "simulation"
	// ErrorTypeBalance represents a payer without funds for fees
	ErrorTypeBalance ErrorType = "balance"
	// ErrorTypeNotRegistered represents a missing or undecodable proof account
	ErrorTypeNotRegistered ErrorType = "not_registered"
	// ErrorTypeInvalidBus represents a bus id outside the shard range
	ErrorTypeInvalidBus ErrorType = "invalid_bus"
	// ErrorTypeRetriesExceeded represents an exhausted bootstrap delivery
	ErrorTypeRetriesExceeded ErrorType = "retries_exceeded"
	// ErrorTypeRelayTimeout represents a relay status timeout
	ErrorTypeRelayTimeout ErrorType = "relay_timeout"
	// ErrorTypeRelay represents a fatal relay rejection
	ErrorTypeRelay ErrorType = "relay"
	// ErrorTypeTransaction represents a transaction that landed with an execution error
	ErrorTypeTransaction ErrorType = "transaction"
	// ErrorTypeValidation represents invalid input or configuration
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStorage represents telemetry storage errors
	ErrorTypeStorage ErrorType = "storage"
	// ErrorTypeMessaging represents Kafka/ZMQ messaging errors
	ErrorTypeMessaging ErrorType = "messaging"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
)

// retryableTypes are worth another attempt against the same endpoint
var retryableTypes = map[ErrorType]bool{
	ErrorTypeRPC:          true,
	ErrorTypeTimeout:      true,
	ErrorTypeMessaging:    true,
	ErrorTypeRelayTimeout: true,
}

// transientPatterns mark foreign errors from HTTP and socket layers as retryable
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"network unreachable",
	"broken pipe",
	"timeout",
	"temporary failure",
	"too many requests",
	"429",
	"502",
	"503",
}

// ServiceError represents a structured error with context
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error should be retried
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds additional context to the error
func (e *ServiceError) WithContext(key string, value interface{}) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new ServiceError
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableTypes[errorType],
	}
}

// Wrap wraps err with a type and operation. A wrapped ServiceError keeps its
// own retry classification so a re-labelled RPC failure stays retryable.
// Wrap returns nil for a nil err.
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	se := New(errorType, operation, message)
	se.Cause = err

	var inner *ServiceError
	if errors.As(err, &inner) {
		se.Retryable = inner.Retryable
	} else {
		se.Retryable = se.Retryable || isTransient(err)
	}
	return se
}

// isTransient matches foreign errors against transientPatterns
func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsType checks if an error is of a specific type anywhere in its chain
func IsType(err error, errorType ErrorType) bool {
	for err != nil {
		var se *ServiceError
		if !errors.As(err, &se) {
			return false
		}
		if se.Type == errorType {
			return true
		}
		err = se.Cause
	}
	return false
}

// IsRetryable checks if an error should be retried. Context cancellation
// never is.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return isTransient(err)
}

// GetContext retrieves context from the outermost ServiceError
func GetContext(err error) map[string]interface{} {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}
