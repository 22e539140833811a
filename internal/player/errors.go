package player

import (
	"errors"
	"fmt"

	"github.com/talefeed/talefeed/internal/backend"
	"github.com/talefeed/talefeed/internal/hls"
)

// ErrorType represents the type of playback error
type ErrorType int

const (
	// ErrorTypeAccessDenied indicates the track or album tier gate rejected playback
	ErrorTypeAccessDenied ErrorType = iota
	// ErrorTypeNetwork indicates a transient network failure
	ErrorTypeNetwork
	// ErrorTypeMedia indicates a decode or codec failure
	ErrorTypeMedia
	// ErrorTypeAuthorization indicates a key/DRM failure on the stream itself
	ErrorTypeAuthorization
	// ErrorTypeQuotaExceeded indicates a download limit rejection
	ErrorTypeQuotaExceeded
	// ErrorTypeContentNotReady indicates segments are still being transcoded
	ErrorTypeContentNotReady
	// ErrorTypeConfiguration indicates the engine cannot operate at all
	ErrorTypeConfiguration
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrorTypeAccessDenied:
		return "access_denied"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeMedia:
		return "media"
	case ErrorTypeAuthorization:
		return "authorization"
	case ErrorTypeQuotaExceeded:
		return "quota_exceeded"
	case ErrorTypeContentNotReady:
		return "content_not_ready"
	case ErrorTypeConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// ErrorSeverity represents the severity of a playback error
type ErrorSeverity int

const (
	// SeverityInfo represents expected conditions (content mid-transcode)
	SeverityInfo ErrorSeverity = iota
	// SeverityWarning represents recoverable issues
	SeverityWarning
	// SeverityError represents errors that may be recoverable with retry
	SeverityError
	// SeverityCritical represents errors requiring user attention
	SeverityCritical
)

// String returns the string representation of ErrorSeverity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PlaybackError is a structured playback error with classification
type PlaybackError struct {
	Type        ErrorType
	Severity    ErrorSeverity
	Message     string
	Cause       error
	Recoverable bool
}

// NewPlaybackError creates a PlaybackError with the given type, message, and cause
func NewPlaybackError(errorType ErrorType, message string, cause error) *PlaybackError {
	severity, recoverable := classifyErrorTypeAttributes(errorType)
	return &PlaybackError{
		Type:        errorType,
		Severity:    severity,
		Message:     message,
		Cause:       cause,
		Recoverable: recoverable,
	}
}

// Error implements the error interface
func (e *PlaybackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type.String(), e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type.String(), e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *PlaybackError) Unwrap() error {
	return e.Cause
}

// classifyErrorTypeAttributes returns severity and recoverability for an error type
func classifyErrorTypeAttributes(errorType ErrorType) (ErrorSeverity, bool) {
	switch errorType {
	case ErrorTypeAccessDenied:
		return SeverityCritical, false // surfaced once, never retried
	case ErrorTypeNetwork:
		return SeverityError, true // retried with backoff
	case ErrorTypeMedia:
		return SeverityError, true // retried via media recovery
	case ErrorTypeAuthorization:
		return SeverityCritical, false // surfaced, not retried
	case ErrorTypeQuotaExceeded:
		return SeverityWarning, false // surfaced with counters
	case ErrorTypeContentNotReady:
		return SeverityInfo, true // switches to generation polling
	case ErrorTypeConfiguration:
		return SeverityCritical, false
	default:
		return SeverityError, false
	}
}

// ClassifyError classifies a raw stream or backend error into a PlaybackError
func ClassifyError(err error) *PlaybackError {
	if err == nil {
		return nil
	}

	var playbackErr *PlaybackError
	if errors.As(err, &playbackErr) {
		return playbackErr
	}

	switch {
	case errors.Is(err, hls.ErrUnauthorized):
		return NewPlaybackError(ErrorTypeAuthorization, "Stream authorization failed", err)
	case errors.Is(err, hls.ErrNotReady):
		return NewPlaybackError(ErrorTypeContentNotReady, "Content is still being prepared", err)
	case errors.Is(err, hls.ErrDecode):
		return NewPlaybackError(ErrorTypeMedia, "Segment could not be decoded", err)
	case errors.Is(err, hls.ErrManifestTimeout):
		return NewPlaybackError(ErrorTypeNetwork, "Manifest load timed out", err)
	}

	var quotaErr *backend.QuotaError
	if errors.As(err, &quotaErr) {
		return NewPlaybackError(ErrorTypeQuotaExceeded, quotaErr.Error(), err)
	}

	return NewPlaybackError(ErrorTypeNetwork, "Stream request failed", err)
}
