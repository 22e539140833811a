package hls

import "errors"

// Session errors, classified for the engine's recovery policy
var (
	// ErrUnauthorized indicates the streaming endpoint rejected the request
	// (missing or expired grant token, DRM/key failure). Not retryable.
	ErrUnauthorized = errors.New("stream request unauthorized")
	// ErrNotReady indicates the manifest or a segment is not available yet,
	// typically because server-side transcoding has not finished.
	ErrNotReady = errors.New("stream content not ready")
	// ErrManifestTimeout indicates the manifest failed to load and parse
	// within the configured deadline.
	ErrManifestTimeout = errors.New("manifest load timed out")
	// ErrDecode indicates segment data arrived but could not be used.
	// Retryable via RecoverMedia.
	ErrDecode = errors.New("segment decode failed")
	// ErrSessionClosed indicates the session has been torn down.
	ErrSessionClosed = errors.New("session closed")
)
