package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrAlreadyFinal    = errors.New("payment already in a terminal state")
	ErrInvalidArgument = errors.New("invalid argument")

	// Payment flow errors
	ErrValidation            = errors.New("validation failed")
	ErrUpstreamAuth          = errors.New("gateway authorization failed")
	ErrUpstreamSubmission    = errors.New("gateway submission failed")
	ErrMalformedNotification = errors.New("malformed gateway notification")
	ErrRateLimited           = errors.New("too many payment requests for this phone")

	// Storage errors
	ErrOperationFailed = errors.New("storage operation failed")
)

// FallbackUpstreamMessage is shown to clients when the gateway gave no usable reason.
const FallbackUpstreamMessage = "Failed to initiate STK push"

// UpstreamError is a failed call to the payment gateway. Kind is ErrUpstreamAuth or
// ErrUpstreamSubmission; Message is the gateway's own explanation, if it sent one.
type UpstreamError struct {
	Kind    error
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ClientMessage is the text safe to forward to the API caller.
func (e *UpstreamError) ClientMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return FallbackUpstreamMessage
}
