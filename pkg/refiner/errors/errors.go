package errors

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the refinement core
var (
	// ErrEmptyInstruction rejects blank instructions before they reach the pipeline
	ErrEmptyInstruction = errors.New("empty instruction")

	// ErrUnparseableInstruction marks a phrase dropped after the recovery pass
	ErrUnparseableInstruction = errors.New("unparseable instruction")

	// ErrMalformedScenePrompt means the prior structured prompt cannot be patched
	ErrMalformedScenePrompt = errors.New("malformed scene prompt")

	// ErrUnknownImageKey is reported by lookups that require an existing chain
	ErrUnknownImageKey = errors.New("unknown image key")

	// ErrConflictingTargets is informational; conflicts are always resolved
	ErrConflictingTargets = errors.New("conflicting targets")

	// ErrNoRetry indicates this error should not be retried
	ErrNoRetry = errors.New("operation cannot be retried")
)

// UnparseableError describes one phrase that could not be turned into an operation.
type UnparseableError struct {
	Phrase string
	Reason string
}

func (e *UnparseableError) Error() string {
	return fmt.Sprintf("phrase %q dropped: %s", e.Phrase, e.Reason)
}

func (e *UnparseableError) Unwrap() error {
	return ErrUnparseableInstruction
}

// MalformedScenePromptError tells the caller to fall back to plain-text prompt composition.
type MalformedScenePromptError struct {
	Cause error
}

func (e *MalformedScenePromptError) Error() string {
	return fmt.Sprintf("malformed scene prompt: %v", e.Cause)
}

func (e *MalformedScenePromptError) Unwrap() []error {
	return []error{ErrMalformedScenePrompt, e.Cause}
}

// NewMalformedScenePrompt wraps a decode or validation failure
func NewMalformedScenePrompt(cause error) *MalformedScenePromptError {
	return &MalformedScenePromptError{Cause: cause}
}

// ProviderError represents a failed call to the image synthesis provider
type ProviderError struct {
	Op      string
	Status  int
	Err     error
	Retry   bool
	Details map[string]interface{}
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s failed (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) CanRetry() bool {
	return e.Retry
}

// NewProviderError creates a provider error; 429 and 5xx responses are retryable
func NewProviderError(op string, status int, err error) *ProviderError {
	return &ProviderError{
		Op:      op,
		Status:  status,
		Err:     err,
		Retry:   status == 429 || status >= 500,
		Details: make(map[string]interface{}),
	}
}

// IsRetryable checks if an error can be retried
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrNoRetry) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.CanRetry()
	}

	// Default to retryable for unknown errors
	return true
}

// IsMalformedScenePrompt reports whether the caller must take the text-prompt path
func IsMalformedScenePrompt(err error) bool {
	return errors.Is(err, ErrMalformedScenePrompt)
}

// IsEmptyInstruction checks for a rejected blank instruction
func IsEmptyInstruction(err error) bool {
	return errors.Is(err, ErrEmptyInstruction)
}
