package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an orchestration failure
type Kind string

const (
	KindMalformedMessage   Kind = "MalformedMessage"
	KindSchemaValidation   Kind = "SchemaValidationError"
	KindUnknownApplication Kind = "UnknownApplication"
	KindRegistryLookup     Kind = "RegistryLookupError"
	KindUnknownPipeline    Kind = "UnknownPipeline"
	KindLookup             Kind = "LookupError"
	KindJobSetup           Kind = "JobSetupError"
	KindSubmissionPrep     Kind = "SubmissionPrepError"
	KindExecutionAPI       Kind = "ExecutionApiError"
	KindSubmissionProtocol Kind = "SubmissionProtocolError"
	KindLinkUpdateWarning  Kind = "LinkUpdateWarning"
)

var (
	// ErrJobNotFound is returned by job stores for unknown uuids
	ErrJobNotFound = errors.New("job record not found")
	// ErrPipelineNotFound is returned by pipeline stores for unknown app ids
	ErrPipelineNotFound = errors.New("pipeline record not found")
	// ErrInvalidTransition is matched by every *TransitionError
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrInvalidToken is returned when a callback token does not verify
	ErrInvalidToken = errors.New("invalid callback token")
)

// Error is a failure tagged with the step that produced it
type Error struct {
	Kind    Kind
	Message string
	// Detail carries structured diagnostics from a remote service, if any
	Detail interface{}
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind, so errors.Is(err,
// &Error{Kind: KindUnknownPipeline}) works without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Cause == nil
}

// NewError creates a tagged error
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetail attaches remote diagnostics and returns e
func (e *Error) WithDetail(detail interface{}) *Error {
	e.Detail = detail
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// TransitionError reports a rejected job status change
type TransitionError struct {
	JobUUID string
	From    JobStatus
	To      JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s cannot move from %s to %s", e.JobUUID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ErrAppNotFound is matched by a *RemoteError the registry returned for an
// unknown or unauthorized application
var ErrAppNotFound = errors.New("application not found")

// RemoteError is a rejection returned by a remote service. Detail holds
// the service's structured error body when one was sent.
type RemoteError struct {
	Service    string
	StatusCode int
	Message    string
	Detail     interface{}
	NotFound   bool
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned HTTP %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s returned HTTP %d", e.Service, e.StatusCode)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrAppNotFound && e.NotFound
}

// ErrMalformedResponse is returned when a remote response lacks a field
// the relay depends on
var ErrMalformedResponse = errors.New("malformed response")
