package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code identifies a class of failure inside the gateway.
type Code string

// Severity describes how serious an error is, used for logging and alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeConfigIncomplete  Code = "CONFIG_INCOMPLETE"
	CodeTenantNotFound    Code = "TENANT_NOT_FOUND"
	CodeAuthRejected      Code = "AUTH_REJECTED"
	CodeOwnershipMismatch Code = "OWNERSHIP_MISMATCH"
	CodeProofExpired      Code = "PROOF_EXPIRED"
	CodeChainUnavailable  Code = "CHAIN_UNAVAILABLE"
	CodeSandboxFailure    Code = "SANDBOX_FAILURE"
	CodeStartupFailure    Code = "STARTUP_FAILURE"
	CodeProxyFailure      Code = "PROXY_FAILURE"
	CodeTimeout           Code = "TIMEOUT"
)

// Attributes provide default behaviour for an error code.
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:           {Message: "unknown error", Severity: SeverityCritical, Alert: true},
		CodeConfigIncomplete:  {Message: "required configuration is missing", Severity: SeverityWarning},
		CodeTenantNotFound:    {Message: "tenant is not provisioned", Severity: SeverityInfo},
		CodeAuthRejected:      {Message: "authentication rejected", Severity: SeverityInfo},
		CodeOwnershipMismatch: {Message: "signer does not own this agent", Severity: SeverityWarning},
		CodeProofExpired:      {Message: "identity proof expired", Severity: SeverityInfo},
		CodeChainUnavailable:  {Message: "chain endpoint unavailable", Severity: SeverityWarning, Retryable: true, Alert: true},
		CodeSandboxFailure:    {Message: "sandbox control plane failure", Severity: SeverityCritical, Retryable: true, Alert: true},
		CodeStartupFailure:    {Message: "gateway process never became ready", Severity: SeverityCritical, Alert: true},
		CodeProxyFailure:      {Message: "relay failure", Severity: SeverityWarning},
		CodeTimeout:           {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true},
	}
)

// Register lets subsystems add new code descriptions during initialisation.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes for a code, falling back to UNKNOWN.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the unified error type carried across gateway subsystems.
type Error struct {
	code     Code
	message  string
	hint     string
	cause    error
	metadata map[string]string
}

// Option configures optional error fields.
type Option func(*Error)

// WithMetadata attaches a key/value detail to the error.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithHint attaches a remediation hint surfaced alongside the message.
func WithHint(hint string) Option {
	return func(e *Error) {
		e.hint = hint
	}
}

// New creates a new error instance.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap attaches the unified error type around an existing cause.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap implements errors.Unwrap.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches errors by code so errors.Is works across wrap layers.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the human readable message.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Hint returns the remediation hint, if any.
func (e *Error) Hint() string {
	if e == nil {
		return ""
	}
	return e.hint
}

// Metadata returns a copy of the attached details.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable reports whether the error class is safe to retry.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return AttributesOf(e.code).Retryable
}

// Severity returns the error severity.
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return AttributesOf(e.code).Severity
}

// From extracts the unified error type from an arbitrary error.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, or UNKNOWN.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// ShouldAlert reports whether err warrants an operator alert.
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return AttributesOf(e.Code()).Alert
	}
	return false
}
