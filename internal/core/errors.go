package core

import (
	"context"
	"errors"
)

// Suppression reasons surfaced to callers.
const (
	ReasonDisabled      = "disabled"
	ReasonSpamDetection = "spam_detection"
	ReasonUserRateLimit = "user_rate_limit"
	ReasonSelfMessage   = "self_message"
	ReasonOldMessage    = "old_message"
	ReasonNormalise     = "normaliseError"
)

// Error kinds. ReasonOf maps an error chain to the matching kind string.
var (
	ErrConfigMissing = errors.New("configMissing")
	ErrNormalise     = errors.New("normaliseError")
	ErrArtifact      = errors.New("shaperArtifactDetected")
	ErrSinkFailure   = errors.New("sinkFailure")
	ErrCancelled     = errors.New("cancelled")
	ErrQueueFull     = errors.New("display queue full")
	ErrInvalidAmount = errors.New("invalidAmount")
	ErrInvariant     = errors.New("invariantViolation")
)

var kinds = []error{
	ErrConfigMissing,
	ErrNormalise,
	ErrArtifact,
	ErrCancelled,
	ErrInvalidAmount,
	ErrInvariant,
	ErrSinkFailure,
}

// ReasonOf returns the error-kind name for err. A full queue is a display sink
// failure from the caller's point of view.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrQueueFull) {
		return ErrSinkFailure.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled.Error()
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ErrInvariant.Error()
}
