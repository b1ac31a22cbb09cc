package apperr

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType int

const (
	// ErrValidation means the input was rejected before anything was sent over the network.
	ErrValidation ErrorType = iota
	// ErrConnectivity means the remote service could not be reached.
	ErrConnectivity
	// ErrServer means the remote service answered with a failure.
	ErrServer
	// ErrStorage means the local history store failed.
	ErrStorage
)

func (t ErrorType) String() string {
	switch t {
	case ErrValidation:
		return "Validation"
	case ErrConnectivity:
		return "Connectivity"
	case ErrServer:
		return "Server"
	case ErrStorage:
		return "Storage"
	default:
		return "Unknown"
	}
}

// Step names the pipeline step an error belongs to; empty when not tied to a step.
type Step string

const (
	StepValidate   Step = "validate"
	StepCaption    Step = "caption"
	StepTranslate  Step = "translate"
	StepSynthesize Step = "synthesize"
	StepPersist    Step = "persist"
	StepHealth     Step = "health"
)

type Error struct {
	Type    ErrorType
	Step    Step
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	var parts []string
	head := fmt.Sprintf("[%s] %s", e.Type, e.Message)
	if e.Step != "" {
		head = fmt.Sprintf("[%s/%s] %s", e.Type, e.Step, e.Message)
	}
	parts = append(parts, head)
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status: %d", e.Status))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}
	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithStep returns a copy of e attributed to step.
func (e *Error) WithStep(step Step) *Error {
	cp := *e
	cp.Step = step
	return &cp
}

func NewValidation(message string) *Error {
	return &Error{Type: ErrValidation, Step: StepValidate, Message: message}
}

func NewConnectivity(message string, cause error) *Error {
	return &Error{Type: ErrConnectivity, Message: message, Cause: cause}
}

func NewServer(message string, status int, cause error) *Error {
	return &Error{Type: ErrServer, Message: message, Status: status, Cause: cause}
}

func NewStorage(message string, cause error) *Error {
	return &Error{Type: ErrStorage, Message: message, Cause: cause}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func IsType(err error, errorType ErrorType) bool {
	appErr, ok := As(err)
	return ok && appErr.Type == errorType
}

// IsCaptionError reports whether err is the fatal failure of the caption step.
func IsCaptionError(err error) bool {
	appErr, ok := As(err)
	if !ok || appErr.Step != StepCaption {
		return false
	}
	return appErr.Type == ErrConnectivity || appErr.Type == ErrServer
}
