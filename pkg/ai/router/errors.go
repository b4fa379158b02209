package router

import (
	"errors"
	"fmt"

	"bioimage-chatbot-be/pkg/collection"
)

var (
	ErrClassification = errors.New("classification failed")
	ErrSynthesis      = errors.New("synthesis failed")
	ErrInvocation     = errors.New("capability invocation failed")
	ErrUnknownChannel = collection.ErrUnknownChannel
)

// ClassificationError is returned after the retry is spent. It aborts the
// request.
type ClassificationError struct {
	Attempts int
	Err      error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

func (e *ClassificationError) Is(target error) bool { return target == ErrClassification }

// InvocationError records a capability that was missing or failed.
type InvocationError struct {
	Capability string
	Err        error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("capability %q: %v", e.Capability, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

func (e *InvocationError) Is(target error) bool { return target == ErrInvocation }

type SynthesisError struct {
	Attempts int
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

func (e *SynthesisError) Is(target error) bool { return target == ErrSynthesis }
