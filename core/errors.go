package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures for callers and for the healing
// agent, which only reacts to kinds it can plausibly fix.
type ErrorKind string

const (
	KindTransport        ErrorKind = "TRANSPORT"
	KindStatus           ErrorKind = "STATUS"
	KindPaginationConfig ErrorKind = "PAGINATION_CONFIG"
	KindVarResolution    ErrorKind = "VAR_RESOLUTION"
	KindSandbox          ErrorKind = "SANDBOX"
	KindLLMAbort         ErrorKind = "LLM_ABORT"
	KindLLMExhausted     ErrorKind = "LLM_EXHAUSTED"
	KindFatal            ErrorKind = "FATAL"
)

// Typed reasons attached to variable-resolution failures.
const (
	ReasonUndefinedVariable = "undefined_variable"
	ReasonCodeExecution     = "code_execution_error"
)

// Sentinel errors for comparison with errors.Is().
var (
	ErrUndefinedVariable = errors.New("undefined variable")
	ErrCodeExecution     = errors.New("code execution error")
	ErrPaginationCap     = errors.New("pagination request cap reached")
	ErrHealingExhausted  = errors.New("healing attempts exhausted")
	ErrAborted           = errors.New("aborted by model")
)

// EngineError is the structured error envelope that crosses the engine
// boundary. Message is always credential-masked before construction; no
// stack traces are carried.
type EngineError struct {
	Kind              ErrorKind
	Message           string
	StatusCode        int
	RetriesAttempted  int
	LastFailureStatus int
	Err               error
}

func (e *EngineError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError builds an envelope with a pre-masked message.
func NewEngineError(kind ErrorKind, message string) *EngineError {
	return &EngineError{Kind: kind, Message: message}
}

// AsEngineError unwraps err into an EngineError if one is in the chain.
func AsEngineError(err error) (*EngineError, bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// Healable reports whether the self-healing agent should attempt to
// regenerate configuration for this failure. LLM terminal states,
// cancellation and sandbox resource exhaustion are surfaced unchanged.
func Healable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	ee, ok := AsEngineError(err)
	if !ok {
		return false
	}
	switch ee.Kind {
	case KindStatus, KindPaginationConfig, KindVarResolution, KindTransport:
		return true
	}
	return false
}
